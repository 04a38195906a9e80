package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dataflowhq/control-plane/internal/models"
)

// Registry holds the loaded source/sink/transform descriptors. It is
// immutable after Load; Reload swaps the whole catalog under operator
// command only.
type Registry struct {
	sources    map[string]SourceDescriptor
	sinks      map[string]SinkDescriptor
	transforms map[string]TransformDescriptor
	log        *slog.Logger
}

func Load(dir string, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		sources:    make(map[string]SourceDescriptor),
		sinks:      make(map[string]SinkDescriptor),
		transforms: make(map[string]TransformDescriptor),
		log:        log,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read descriptor dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read descriptor %s: %w", e.Name(), err)
		}

		var doc descriptorFile
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse descriptor %s: %w", e.Name(), err)
		}

		for _, s := range doc.Sources {
			if s.Name == "" {
				return nil, fmt.Errorf("descriptor %s: source with empty name", e.Name())
			}
			r.sources[s.Name] = s
		}
		for _, s := range doc.Sinks {
			if s.Name == "" {
				return nil, fmt.Errorf("descriptor %s: sink with empty name", e.Name())
			}
			r.sinks[s.Name] = s
		}
		for _, t := range doc.Transforms {
			r.transforms[t.Name] = t
		}
	}

	log.Info("module registry loaded",
		slog.Int("sources", len(r.sources)),
		slog.Int("sinks", len(r.sinks)),
		slog.Int("transforms", len(r.transforms)))

	return r, nil
}

func (r *Registry) Source(name string) (SourceDescriptor, error) {
	s, ok := r.sources[name]
	if !ok {
		return SourceDescriptor{}, fmt.Errorf("%w: source %q", models.ErrUnknownModule, name)
	}
	return s, nil
}

func (r *Registry) Sink(name string) (SinkDescriptor, error) {
	s, ok := r.sinks[name]
	if !ok {
		return SinkDescriptor{}, fmt.Errorf("%w: sink %q", models.ErrUnknownModule, name)
	}
	return s, nil
}

func (r *Registry) Transform(name string) (TransformDescriptor, error) {
	t, ok := r.transforms[name]
	if !ok {
		return TransformDescriptor{}, fmt.Errorf("%w: transform %q", models.ErrUnknownModule, name)
	}
	return t, nil
}

func (r *Registry) Sources() []SourceDescriptor {
	out := make([]SourceDescriptor, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// MapType resolves a source column type to the sink type: exact match first,
// then longest prefix match (source types carry qualifiers like
// "character varying(255)" or "timestamp with time zone"), then the
// descriptor default.
func (r *Registry) MapType(sinkName, sourceType string) (string, error) {
	sink, err := r.Sink(sinkName)
	if err != nil {
		return "", err
	}

	norm := strings.ToLower(strings.TrimSpace(sourceType))
	if t, ok := sink.TypeMap[norm]; ok {
		return t, nil
	}

	best, bestLen := "", 0
	for src, dst := range sink.TypeMap {
		if strings.HasPrefix(norm, src) && len(src) > bestLen {
			best, bestLen = dst, len(src)
		}
	}
	if bestLen > 0 {
		return best, nil
	}

	return sink.DefaultType, nil
}

var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)

// Render binds a keyed template to a context map. Every placeholder must
// resolve; unresolved keys make the result structurally invalid.
func Render(template map[string]string, bindings map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(template))

	for key, val := range template {
		var missing []string
		rendered := placeholderRe.ReplaceAllStringFunc(val, func(m string) string {
			name := placeholderRe.FindStringSubmatch(m)[1]
			v, ok := bindings[name]
			if !ok {
				missing = append(missing, name)
				return m
			}
			return v
		})
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: unresolved %v in %q", models.ErrBadTemplate, missing, key)
		}
		out[key] = rendered
	}

	return out, nil
}

// RenderString is Render for a single template string.
func RenderString(template string, bindings map[string]string) (string, error) {
	m, err := Render(map[string]string{"_": template}, bindings)
	if err != nil {
		return "", err
	}
	return m["_"], nil
}
