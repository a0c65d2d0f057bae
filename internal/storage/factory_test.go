package storage

import (
	"path/filepath"
	"testing"

	"tiergate/internal/models"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		providers := factory.GetSupportedProviders()
		expected := []string{"memory", "postgres", "sqlite"}

		if len(providers) != len(expected) {
			t.Fatalf("Expected %d providers, got %d", len(expected), len(providers))
		}
		for i, provider := range expected {
			if providers[i] != provider {
				t.Errorf("Expected provider %s at index %d, got %v", provider, i, providers)
			}
		}
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{name: "memory", config: models.StorageConfig{Type: "memory"}},
			{name: "sqlite with dsn", config: models.StorageConfig{Type: "sqlite", Database: models.DatabaseConfig{DSN: "file.db"}}},
			{name: "postgres without dsn", config: models.StorageConfig{Type: "postgres"}, expectErr: true},
			{name: "unsupported", config: models.StorageConfig{Type: "json"}, expectErr: true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr && err == nil {
					t.Error("Expected error but got none")
				}
				if !tt.expectErr && err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
			})
		}
	})

	t.Run("CreateMemory", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("Failed to create memory storage: %v", err)
		}
		defer s.Close()
		if _, ok := s.(*MemoryStorage); !ok {
			t.Errorf("Expected *MemoryStorage, got %T", s)
		}
	})

	t.Run("CreateSQLite", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "factory.db")
		s, err := factory.Create(models.StorageConfig{Type: "sqlite", Database: models.DatabaseConfig{DSN: dsn, MaxOpenConns: 2}})
		if err != nil {
			t.Fatalf("Failed to create sqlite storage: %v", err)
		}
		defer s.Close()
		if _, ok := s.(*SQLiteStorage); !ok {
			t.Errorf("Expected *SQLiteStorage, got %T", s)
		}
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "postgres"})
		if err == nil {
			t.Fatal("Expected error for postgres without DSN")
		}
		if s != nil {
			t.Errorf("Expected nil storage on error, got %T", s)
		}
	})
}
