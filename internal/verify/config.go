package verify

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig matches every ConfigError.
var ErrInvalidConfig = errors.New("invalid verification config")

// ConfigError reports a configuration option that cannot be used.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid verification config: %s: %s", e.Option, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Tolerance bounds float differences. Two values a, b are equal when
// |a-b| <= Absolute + Relative*max(|a|, |b|).
type Tolerance struct {
	Absolute float64 `yaml:"absolute" json:"absolute"`
	Relative float64 `yaml:"relative" json:"relative"`
}

// Config is the verification configuration.
type Config struct {
	// IgnoreMissingColumns may be absent from either table. An entry also
	// covers the nested paths below it.
	IgnoreMissingColumns []string `yaml:"ignore_missing_columns" json:"ignore_missing_columns"`
	// ForbiddenColumns must not appear in either table. Entries are exact
	// dotted paths or path.Match patterns.
	ForbiddenColumns []string `yaml:"forbidden_columns" json:"forbidden_columns"`
	// AllowedMismatchColumns may differ in value; their mismatches are
	// reported but do not fail the comparison.
	AllowedMismatchColumns []string  `yaml:"allowed_mismatch_columns" json:"allowed_mismatch_columns"`
	Tolerance              Tolerance `yaml:"tolerance" json:"tolerance"`
	// NullListEqualsEmpty treats a null list and an empty list as equal.
	NullListEqualsEmpty bool `yaml:"null_list_equals_empty" json:"null_list_equals_empty"`
	// MaxSamples caps the samples kept per mismatch.
	MaxSamples int `yaml:"max_samples" json:"max_samples"`
	// ColumnAliases renames top-level columns in both tables before
	// comparing, when the target name is not already taken.
	ColumnAliases map[string]string `yaml:"column_aliases" json:"column_aliases"`
	// RequiredTypes maps a candidate column path to an exact Arrow type
	// name ("float64") or a category ("float").
	RequiredTypes map[string]string `yaml:"required_types" json:"required_types"`
}

// Default tolerances match numpy.isclose.
const (
	DefaultAbsolute   = 1e-8
	DefaultRelative   = 1e-5
	DefaultMaxSamples = 3
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Tolerance:           Tolerance{Absolute: DefaultAbsolute, Relative: DefaultRelative},
		NullListEqualsEmpty: true,
		MaxSamples:          DefaultMaxSamples,
		ColumnAliases:       map[string]string{"RA": "ra", "DEC": "dec"},
	}
}

// LoadConfig reads a YAML configuration over the defaults and validates it.
func LoadConfig(r io.Reader) (Config, error) {
	return LoadConfigOver(DefaultConfig(), r)
}

// LoadConfigOver reads a YAML configuration over base. Keys absent from
// the document keep base's values.
func LoadConfigOver(base Config, r io.Reader) (Config, error) {
	cfg := base.clone()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, &ConfigError{Option: "yaml", Reason: err.Error()}
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration before any data is examined.
func (c Config) Validate() error {
	tol := []struct {
		name string
		v    float64
	}{
		{"tolerance.absolute", c.Tolerance.Absolute},
		{"tolerance.relative", c.Tolerance.Relative},
	}
	for _, t := range tol {
		if math.IsNaN(t.v) || math.IsInf(t.v, 0) {
			return &ConfigError{Option: t.name, Reason: "must be finite"}
		}
		if t.v < 0 {
			return &ConfigError{Option: t.name, Reason: fmt.Sprintf("must not be negative, got %g", t.v)}
		}
	}
	if c.MaxSamples < 0 {
		return &ConfigError{Option: "max_samples", Reason: fmt.Sprintf("must not be negative, got %d", c.MaxSamples)}
	}

	lists := []struct {
		name  string
		items []string
	}{
		{"ignore_missing_columns", c.IgnoreMissingColumns},
		{"forbidden_columns", c.ForbiddenColumns},
		{"allowed_mismatch_columns", c.AllowedMismatchColumns},
	}
	for _, l := range lists {
		seen := make(map[string]bool, len(l.items))
		for _, name := range l.items {
			if strings.TrimSpace(name) == "" {
				return &ConfigError{Option: l.name, Reason: "empty column name"}
			}
			if seen[name] {
				return &ConfigError{Option: l.name, Reason: fmt.Sprintf("duplicate column %q", name)}
			}
			seen[name] = true
		}
	}

	ignored := make(map[string]bool, len(c.IgnoreMissingColumns))
	for _, name := range c.IgnoreMissingColumns {
		ignored[name] = true
	}
	for _, pat := range c.ForbiddenColumns {
		if _, err := path.Match(pat, ""); err != nil {
			return &ConfigError{Option: "forbidden_columns", Reason: fmt.Sprintf("bad pattern %q: %v", pat, err)}
		}
		if ignored[pat] {
			return &ConfigError{Option: "forbidden_columns", Reason: fmt.Sprintf("%q is also in ignore_missing_columns", pat)}
		}
	}

	for from, to := range c.ColumnAliases {
		if from == "" || to == "" {
			return &ConfigError{Option: "column_aliases", Reason: "empty column name"}
		}
	}
	for col, want := range c.RequiredTypes {
		if col == "" {
			return &ConfigError{Option: "required_types", Reason: "empty column name"}
		}
		if !knownTypeName(want) {
			return &ConfigError{Option: "required_types", Reason: fmt.Sprintf("unknown type %q for %s", want, col)}
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.IgnoreMissingColumns = append([]string(nil), c.IgnoreMissingColumns...)
	out.ForbiddenColumns = append([]string(nil), c.ForbiddenColumns...)
	out.AllowedMismatchColumns = append([]string(nil), c.AllowedMismatchColumns...)
	if c.ColumnAliases != nil {
		out.ColumnAliases = make(map[string]string, len(c.ColumnAliases))
		for k, v := range c.ColumnAliases {
			out.ColumnAliases[k] = v
		}
	}
	if c.RequiredTypes != nil {
		out.RequiredTypes = make(map[string]string, len(c.RequiredTypes))
		for k, v := range c.RequiredTypes {
			out.RequiredTypes[k] = v
		}
	}
	return out
}

func (c Config) ignored(p string) bool {
	for _, name := range c.IgnoreMissingColumns {
		if p == name || strings.HasPrefix(p, name+".") {
			return true
		}
	}
	return false
}

func (c Config) forbidden(p string) bool {
	for _, pat := range c.ForbiddenColumns {
		if pat == p {
			return true
		}
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
	}
	return false
}

func (c Config) allowed(p string) bool {
	for _, name := range c.AllowedMismatchColumns {
		if p == name || strings.HasPrefix(p, name+".") {
			return true
		}
	}
	return false
}

func (c Config) samples() int {
	return c.MaxSamples
}
