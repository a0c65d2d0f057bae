// Package version carries build metadata for the tiergate binary. The
// package-level variables are overwritten with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the release tag or short commit hash.
	// Set via: -ldflags "-X tiergate/internal/version.Version=..."
	Version = "dev"

	// BuildDate is the UTC build timestamp in RFC 3339 form.
	BuildDate = "unknown"

	// GitCommit is the full commit SHA the binary was built from.
	GitCommit = "unknown"
)

// Info is the build metadata plus per-process identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the build metadata. InstanceID and Hostname are resolved
// on the first call and reused afterwards.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// String formats version info for the -version flag.
func (i Info) String() string {
	return fmt.Sprintf("tiergate %s (commit %s, built %s)", i.Version, i.GitCommit, i.BuildDate)
}
