package etl

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source pulls records from somewhere outside the dataset store: a file, a
// database query, an HTTP endpoint or another dataset. Each source type
// lives in etl/sources/ and registers itself from init().

// SourceConfig holds the settings of one job's source, keyed by ConfigField.Key.
type SourceConfig map[string]any

// ConfigField describes one setting of a source type. The CLI and the agent
// tools list these so callers know which keys to pass.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // string, select, textarea, password or file
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"` // select only
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec describes a source type and its settings.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Resolve checks cfg against the spec and returns a copy with defaults
// filled in. Select values are matched case-insensitively and stored with
// the option's spelling; booleans and numbers given for a select are read
// as their text. Keys the spec does not declare pass through untouched.
func (sp SourceSpec) Resolve(cfg SourceConfig) (SourceConfig, error) {
	out := make(SourceConfig, len(cfg)+len(sp.ConfigFields))
	maps.Copy(out, cfg)

	for _, f := range sp.ConfigFields {
		v, ok := out[f.Key]
		if s, isStr := v.(string); !ok || v == nil || (isStr && strings.TrimSpace(s) == "") {
			if f.Default != "" {
				out[f.Key] = f.Default
				continue
			}
			if f.Required {
				return nil, fmt.Errorf("%s source: %s is required", sp.Type, f.Key)
			}
			continue
		}
		if f.Type != "select" || len(f.Options) == 0 {
			continue
		}
		text := fmt.Sprint(v)
		i := slices.IndexFunc(f.Options, func(o string) bool { return strings.EqualFold(o, text) })
		if i < 0 {
			return nil, fmt.Errorf("%s source: %s must be one of %s, got %q",
				sp.Type, f.Key, strings.Join(f.Options, ", "), text)
		}
		out[f.Key] = f.Options[i]
	}
	return out, nil
}

// Source is implemented by every source type.
type Source interface {
	// Spec describes the source type and its settings.
	Spec() SourceSpec

	// Discover reads enough of the source to report its fields.
	Discover(ctx context.Context, cfg SourceConfig) (*Schema, error)

	// Read streams records until the source is exhausted or ctx is done,
	// then closes the record channel. A failure is sent on the error
	// channel, which has room for one value.
	Read(ctx context.Context, cfg SourceConfig) (<-chan Record, <-chan error)
}

// ── Registry ───────────────────────────────────────────────

var (
	sourcesMu sync.RWMutex
	sources   = map[string]Source{}
)

// RegisterSource makes s available under its spec type. A later
// registration of the same type replaces the earlier one.
func RegisterSource(s Source) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	sources[s.Spec().Type] = s
}

// GetSource returns the source registered under typ.
func GetSource(typ string) (Source, error) {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	s, ok := sources[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// OpenSource returns the source registered under typ together with cfg
// resolved against its spec.
func OpenSource(typ string, cfg SourceConfig) (Source, SourceConfig, error) {
	s, err := GetSource(typ)
	if err != nil {
		return nil, nil, err
	}
	resolved, err := s.Spec().Resolve(cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, resolved, nil
}

// ListSources returns the specs of every registered source, ordered by type.
func ListSources() []SourceSpec {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	specs := make([]SourceSpec, 0, len(sources))
	for _, s := range sources {
		specs = append(specs, s.Spec())
	}
	slices.SortFunc(specs, func(a, b SourceSpec) int { return strings.Compare(a.Type, b.Type) })
	return specs
}
