// Package catalog holds the per-catalog converters. Each catalog is a
// schema declaration embedded as YAML, optionally with reshaping steps and
// a verification profile, and is looked up by name.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/mmu-to-hats/internal/record"
	"github.com/withObsrvr/mmu-to-hats/internal/schema"
	"github.com/withObsrvr/mmu-to-hats/internal/transform"
	"github.com/withObsrvr/mmu-to-hats/internal/verify"
)

// ErrUnknownCatalog is returned for a name with no registered converter.
var ErrUnknownCatalog = errors.New("unknown catalog")

//go:embed declarations/*.yaml
var declarations embed.FS

// Factory builds a converter for one catalog.
type Factory func(mem memory.Allocator) (transform.Transformer, error)

// file is the on-disk form of a catalog declaration.
type file struct {
	schema.Declaration `yaml:",inline"`
	Prepare            []Step    `yaml:"prepare"`
	Verification       yaml.Node `yaml:"verification"`
}

type entry struct {
	factory Factory
	// profile is the raw verification block, decoded over the defaults on
	// request.
	profile *yaml.Node
}

var (
	mu       sync.RWMutex
	registry = map[string]entry{}
	loadOnce sync.Once
	loadErr  error
)

func load() error {
	loadOnce.Do(func() {
		names, err := declarations.ReadDir("declarations")
		if err != nil {
			loadErr = err
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, de := range names {
			data, err := declarations.ReadFile(path.Join("declarations", de.Name()))
			if err != nil {
				loadErr = err
				return
			}
			name, e, err := parseFile(data)
			if err != nil {
				loadErr = fmt.Errorf("catalog %s: %w", de.Name(), err)
				return
			}
			if _, taken := registry[name]; !taken {
				registry[name] = e
			}
		}
	})
	return loadErr
}

func parseFile(data []byte) (string, entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", entry{}, fmt.Errorf("%w: %v", schema.ErrInvalidSchema, err)
	}
	sch, err := f.Declaration.Build()
	if err != nil {
		return "", entry{}, err
	}
	for i, s := range f.Prepare {
		if err := s.validate(); err != nil {
			return "", entry{}, fmt.Errorf("prepare step %d: %w", i, err)
		}
	}
	steps := f.Prepare
	e := entry{
		factory: func(mem memory.Allocator) (transform.Transformer, error) {
			return NewConverter(sch, steps, mem)
		},
	}
	if !f.Verification.IsZero() {
		node := f.Verification
		e.profile = &node
	}
	return strings.ToLower(sch.Catalog), e, nil
}

// Register installs or replaces the converter for name. Hand-written
// converters use it to override a declaration.
func Register(name string, f Factory) {
	_ = load()
	name = strings.ToLower(name)
	mu.Lock()
	defer mu.Unlock()
	e := registry[name]
	e.factory = f
	registry[name] = e
}

// Names returns every registered catalog in sorted order.
func Names() []string {
	_ = load()
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the converter for name using the default allocator.
func Lookup(name string) (transform.Transformer, error) {
	return Open(name, memory.DefaultAllocator)
}

// Open returns the converter for name using mem.
func Open(name string, mem memory.Allocator) (transform.Transformer, error) {
	if err := load(); err != nil {
		return nil, err
	}
	mu.RLock()
	e, ok := registry[strings.ToLower(name)]
	mu.RUnlock()
	if !ok || e.factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCatalog, name)
	}
	return e.factory(mem)
}

// Profile returns the verification configuration for a catalog: the
// defaults with the catalog's own verification block applied.
func Profile(name string) (verify.Config, error) {
	cfg := verify.DefaultConfig()
	if err := load(); err != nil {
		return cfg, err
	}
	mu.RLock()
	e, ok := registry[strings.ToLower(name)]
	mu.RUnlock()
	if !ok {
		return cfg, fmt.Errorf("%w: %q", ErrUnknownCatalog, name)
	}
	if e.profile != nil {
		if err := e.profile.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("catalog %s: verification profile: %w", name, err)
		}
	}
	return cfg, cfg.Validate()
}

// Converter is a declaration-driven converter with optional reshaping
// steps run over every record first.
type Converter struct {
	declared *transform.Declared
	steps    []Step
}

// NewConverter validates the schema and steps and returns a converter.
func NewConverter(s schema.Schema, steps []Step, mem memory.Allocator) (*Converter, error) {
	d, err := transform.New(s, mem)
	if err != nil {
		return nil, err
	}
	for i, st := range steps {
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("prepare step %d: %w", i, err)
		}
	}
	return &Converter{declared: d, steps: append([]Step(nil), steps...)}, nil
}

// DeclareSchema implements transform.Transformer.
func (c *Converter) DeclareSchema() schema.Schema { return c.declared.DeclareSchema() }

// Convert implements transform.Transformer.
func (c *Converter) Convert(batch []record.Record) (arrow.Record, error) {
	if len(c.steps) == 0 {
		return c.declared.Convert(batch)
	}
	prepared := make([]record.Record, len(batch))
	for i, rec := range batch {
		p, err := prepare(c.steps, rec, i)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}
	return c.declared.Convert(prepared)
}
