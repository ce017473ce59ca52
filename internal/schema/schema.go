// Package schema declares the typed output layout of a catalog: every
// column's name, logical type, nullability and group.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrInvalidSchema is returned for malformed declarations.
var ErrInvalidSchema = errors.New("invalid schema")

// Metadata keys written into the Arrow schema.
const (
	MetaGroup   = "group"
	MetaCatalog = "catalog"
	MetaVersion = "schema_version"
)

// Column declares one output column or one field of a nested struct.
type Column struct {
	Name string
	// Source is the raw record field the column is read from. Empty means
	// Name.
	Source   string
	Type     Type
	Nullable bool
	Group    string
	// Fill replaces null for records that lack the field. Scalars only.
	Fill any
}

// SourceName returns the raw field name the column reads.
func (c Column) SourceName() string {
	if c.Source != "" {
		return c.Source
	}
	return c.Name
}

// Arrow returns the Arrow field for the column.
func (c Column) Arrow() arrow.Field {
	f := arrow.Field{Name: c.Name, Type: c.Type.Arrow(), Nullable: c.Nullable}
	if c.Group != "" {
		f.Metadata = arrow.NewMetadata([]string{MetaGroup}, []string{c.Group})
	}
	return f
}

// Schema is the immutable declaration of one catalog's output table.
type Schema struct {
	Catalog string
	Version string
	Columns []Column
}

// Arrow builds the Arrow schema.
func (s Schema) Arrow() *arrow.Schema {
	keys := []string{MetaCatalog}
	vals := []string{s.Catalog}
	if s.Version != "" {
		keys = append(keys, MetaVersion)
		vals = append(vals, s.Version)
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(arrowFields(s.Columns), &md)
}

// Lookup finds a top-level column by name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the top-level column names in declaration order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Groups maps each group tag to its column names in declaration order.
// Ungrouped columns are left out.
func (s Schema) Groups() map[string][]string {
	out := make(map[string][]string)
	for _, c := range s.Columns {
		if c.Group != "" {
			out[c.Group] = append(out[c.Group], c.Name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s Schema) Clone() Schema {
	return Schema{Catalog: s.Catalog, Version: s.Version, Columns: cloneColumns(s.Columns)}
}

// Hash fingerprints the declaration so outputs can record which layout
// produced them.
func (s Schema) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", s.Catalog, s.Version)
	for _, c := range s.Columns {
		fmt.Fprintf(h, "%s\x00%s\x00%t\x00%s\x00", c.Name, c.Type, c.Nullable, c.Group)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Validate checks names and types at every nesting level.
func (s Schema) Validate() error {
	if s.Catalog == "" {
		return fmt.Errorf("%w: catalog name required", ErrInvalidSchema)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: %s declares no columns", ErrInvalidSchema, s.Catalog)
	}
	return validateColumns(s.Catalog, s.Columns)
}

func validateColumns(scope string, cols []Column) error {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c.Name == "" {
			return fmt.Errorf("%w: %s: column with empty name", ErrInvalidSchema, scope)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: %s: duplicate column %q", ErrInvalidSchema, scope, c.Name)
		}
		seen[c.Name] = true
		path := scope + "." + c.Name
		if err := validateType(path, c.Type); err != nil {
			return err
		}
		if c.Fill != nil {
			sc, ok := c.Type.(Scalar)
			if !ok {
				return fmt.Errorf("%w: %s: fill is only allowed on scalar columns", ErrInvalidSchema, path)
			}
			if !fillMatches(sc, c.Fill) {
				return fmt.Errorf("%w: %s: fill %v does not fit %s", ErrInvalidSchema, path, c.Fill, sc)
			}
		}
	}
	return nil
}

func validateType(path string, t Type) error {
	switch x := t.(type) {
	case nil:
		return fmt.Errorf("%w: %s: missing type", ErrInvalidSchema, path)
	case Scalar:
		if x.Elem == Invalid {
			return fmt.Errorf("%w: %s: invalid element type", ErrInvalidSchema, path)
		}
		if x.Width < 0 || (x.Width > 0 && x.Elem != String) {
			return fmt.Errorf("%w: %s: width only applies to strings", ErrInvalidSchema, path)
		}
	case Tensor:
		if x.Elem == Invalid || len(x.Shape) == 0 {
			return fmt.Errorf("%w: %s: tensor needs an element type and rank", ErrInvalidSchema, path)
		}
		for _, d := range x.Shape {
			if d != AnyExtent && d <= 0 {
				return fmt.Errorf("%w: %s: bad tensor extent %d", ErrInvalidSchema, path, d)
			}
		}
	case List:
		if _, ok := x.Of.(StructList); ok {
			return fmt.Errorf("%w: %s: list of struct lists is not supported", ErrInvalidSchema, path)
		}
		return validateType(path, x.Of)
	case Struct:
		if len(x.Fields) == 0 {
			return fmt.Errorf("%w: %s: struct has no fields", ErrInvalidSchema, path)
		}
		return validateColumns(path, x.Fields)
	case StructList:
		if len(x.Fields) == 0 {
			return fmt.Errorf("%w: %s: struct list has no fields", ErrInvalidSchema, path)
		}
		return validateColumns(path, x.Fields)
	default:
		return fmt.Errorf("%w: %s: unknown type %T", ErrInvalidSchema, path, t)
	}
	return nil
}

func fillMatches(t Scalar, v any) bool {
	switch v.(type) {
	case bool:
		return t.Elem == Bool
	case string:
		return (t.Elem == String && (t.Width == 0 || len(v.(string)) <= t.Width)) || t.Elem == Binary
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t.Elem.IsInteger() || t.Elem.IsFloat()
	case float32, float64:
		return t.Elem.IsFloat()
	}
	return false
}

func arrowFields(cols []Column) []arrow.Field {
	out := make([]arrow.Field, len(cols))
	for i, c := range cols {
		out[i] = c.Arrow()
	}
	return out
}

func cloneColumns(cols []Column) []Column {
	if cols == nil {
		return nil
	}
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = c
		if c.Type != nil {
			out[i].Type = c.Type.clone()
		}
	}
	return out
}

// GroupNames returns the sorted set of group tags.
func (s Schema) GroupNames() []string {
	g := s.Groups()
	out := make([]string, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
