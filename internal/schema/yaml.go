package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Declaration is the YAML form of a Schema.
type Declaration struct {
	Catalog     string       `yaml:"catalog"`
	Version     string       `yaml:"version"`
	Description string       `yaml:"description"`
	Columns     []ColumnDecl `yaml:"columns"`
}

// ColumnDecl declares one column, or one column per entry of Names.
type ColumnDecl struct {
	Name     string   `yaml:"name"`
	Names    []string `yaml:"names"`
	Type     string   `yaml:"type"`
	Source   string   `yaml:"source"`
	Nullable *bool    `yaml:"nullable"`
	Group    string   `yaml:"group"`
	Fill     any      `yaml:"fill"`
	// Fields are the children of a struct or struct_list column.
	Fields []ColumnDecl `yaml:"fields"`
	// SourcePrefix gives children without an explicit source the raw
	// field prefix+name, for records that store nested data flat.
	SourcePrefix string `yaml:"source_prefix"`
}

// ParseYAML decodes and validates a YAML declaration.
func ParseYAML(data []byte) (Schema, error) {
	var d Declaration
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return d.Build()
}

// Build converts the declaration into a validated Schema.
func (d Declaration) Build() (Schema, error) {
	cols, err := buildColumns(d.Catalog, d.Columns, "")
	if err != nil {
		return Schema{}, err
	}
	s := Schema{Catalog: d.Catalog, Version: d.Version, Columns: cols}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

func buildColumns(scope string, decls []ColumnDecl, prefix string) ([]Column, error) {
	var out []Column
	for i, cd := range decls {
		names := cd.Names
		if cd.Name != "" {
			names = append([]string{cd.Name}, names...)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("%w: %s: column entry %d has no name", ErrInvalidSchema, scope, i)
		}
		if cd.Source != "" && len(names) > 1 {
			return nil, fmt.Errorf("%w: %s: source set on a multi-name entry", ErrInvalidSchema, scope)
		}
		for _, name := range names {
			typ, err := cd.buildType(scope + "." + name)
			if err != nil {
				return nil, err
			}
			col := Column{
				Name:     name,
				Source:   cd.Source,
				Type:     typ,
				Nullable: cd.Nullable == nil || *cd.Nullable,
				Group:    cd.Group,
				Fill:     cd.Fill,
			}
			if col.Source == "" && prefix != "" {
				col.Source = prefix + name
			}
			out = append(out, col)
		}
	}
	return out, nil
}

func (cd ColumnDecl) buildType(path string) (Type, error) {
	switch cd.Type {
	case "struct", "struct_list":
		fields, err := buildColumns(path, cd.Fields, cd.SourcePrefix)
		if err != nil {
			return nil, err
		}
		if cd.Type == "struct" {
			return Struct{Fields: fields}, nil
		}
		return StructList{Fields: fields}, nil
	}
	if len(cd.Fields) > 0 {
		return nil, fmt.Errorf("%w: %s: fields given for non-struct type %q", ErrInvalidSchema, path, cd.Type)
	}
	t, err := ParseType(cd.Type)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
