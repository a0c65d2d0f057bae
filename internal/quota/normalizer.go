package quota

import (
	"strings"
	"sync"
)

// Normalizer maps request paths onto the route templates they were served
// by, so that "/api/v1/user/alice" and "/api/v1/user/bob" share one quota
// key. It is safe for concurrent use; templates may be registered while
// requests are being normalized.
type Normalizer struct {
	mu        sync.RWMutex
	templates []routeTemplate
	seen      map[string]struct{}
}

type routeTemplate struct {
	segments []templateSegment
	literals int
	key      string
}

type templateSegment struct {
	value    string
	variable bool
}

func NewNormalizer(templates ...string) *Normalizer {
	n := &Normalizer{seen: make(map[string]struct{})}
	n.Register(templates...)
	return n
}

// Register adds route templates. Duplicates are ignored so a template keeps
// its original registration order, which breaks ties during matching.
func (n *Normalizer) Register(templates ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, raw := range templates {
		tpl := parseTemplate(raw)
		if len(tpl.segments) == 0 {
			continue
		}
		if _, ok := n.seen[tpl.key]; ok {
			continue
		}
		n.seen[tpl.key] = struct{}{}
		n.templates = append(n.templates, tpl)
	}
}

// Templates returns the registered templates in their normalized form.
func (n *Normalizer) Templates() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]string, 0, len(n.templates))
	for _, tpl := range n.templates {
		out = append(out, tpl.key)
	}
	return out
}

// Normalize returns the quota path for a request path. The query string is
// ignored, empty segments are dropped and the remaining segments are joined
// with "_"; the root path normalizes to "".
func (n *Normalizer) Normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := splitSegments(path)
	if len(segments) == 0 {
		return ""
	}

	n.mu.RLock()
	best := -1
	for i, tpl := range n.templates {
		if !tpl.matches(segments) {
			continue
		}
		if best < 0 || tpl.literals > n.templates[best].literals {
			best = i
		}
	}
	if best >= 0 {
		key := n.templates[best].key
		n.mu.RUnlock()
		return key
	}
	n.mu.RUnlock()

	return strings.Join(segments, "_")
}

func (t routeTemplate) matches(segments []string) bool {
	if len(t.segments) != len(segments) {
		return false
	}
	for i, seg := range t.segments {
		if !seg.variable && seg.value != segments[i] {
			return false
		}
	}
	return true
}

func parseTemplate(raw string) routeTemplate {
	var tpl routeTemplate
	parts := make([]string, 0, 8)
	for _, part := range splitTemplate(raw) {
		seg := templateSegment{value: part}
		if name, ok := variableName(part); ok {
			seg = templateSegment{value: "{" + name + "}", variable: true}
		} else {
			tpl.literals++
		}
		tpl.segments = append(tpl.segments, seg)
		parts = append(parts, seg.value)
	}
	tpl.key = strings.Join(parts, "_")
	return tpl
}

// variableName extracts "name" from "{name}" or "{name:pattern}".
func variableName(segment string) (string, bool) {
	if len(segment) < 3 || segment[0] != '{' || segment[len(segment)-1] != '}' {
		return "", false
	}
	inner := segment[1 : len(segment)-1]
	if i := strings.IndexByte(inner, ':'); i >= 0 {
		inner = inner[:i]
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return "", false
	}
	return inner, true
}

func splitSegments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// splitTemplate splits on "/" outside of braces, since variable patterns may
// themselves contain slashes.
func splitTemplate(raw string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case '/':
			if depth == 0 {
				if i > start {
					out = append(out, raw[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(raw) {
		out = append(out, raw[start:])
	}
	return out
}
