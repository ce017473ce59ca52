package verify

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/withObsrvr/mmu-to-hats/internal/schema"
)

// Conform checks that a table has exactly the columns a catalog declares,
// with matching type categories, and no nulls in non-nullable top-level
// columns. Column paths are compared the same way Compare does.
func Conform(declared schema.Schema, rec arrow.Record) *Report {
	want := flattenSchema(declared.Arrow())
	have := flattenSchema(rec.Schema())

	rep := newReport(0)
	rep.Reference = "declared:" + declared.Catalog
	rep.Candidate = SideCandidate
	rep.RowsReference = rec.NumRows()
	rep.RowsCandidate = rec.NumRows()

	missing(rep, Config{}, want, have, SideCandidate)
	for _, p := range have.paths {
		if _, ok := want.types[p]; ok {
			continue
		}
		if par := parent(p); par != "" {
			if _, ok := want.types[par]; !ok {
				continue
			}
		}
		rep.add(KindUndeclared, p, SideCandidate, "column is not declared", 0, nil)
	}

	skip := map[string]bool{}
	for _, p := range want.paths {
		ht, ok := have.types[p]
		if !ok || skip[parent(p)] {
			skip[p] = true
			continue
		}
		if sw, sh := signature(want.types[p]), signature(ht); sw != sh {
			rep.add(KindTypeMismatch, p, "", fmt.Sprintf("declared %s, table has %s", sw, sh), 0, nil)
			skip[p] = true
		}
	}

	for _, col := range declared.Columns {
		if col.Nullable || skip[col.Name] {
			continue
		}
		idx := rec.Schema().FieldIndices(col.Name)
		if len(idx) == 0 {
			continue
		}
		if n := rec.Column(idx[0]).NullN(); n > 0 {
			rep.add(KindValueMismatch, col.Name, SideCandidate, fmt.Sprintf("%d nulls in non-nullable column", n), 0, nil)
		}
	}

	rep.finish(Config{})
	return rep
}

// CheckForbidden rejects exact forbidden names that are not column paths
// of the declared schema. Patterns may name anything.
func (c Config) CheckForbidden(declared schema.Schema) error {
	known := flattenSchema(declared.Arrow()).types
	for _, name := range c.ForbiddenColumns {
		if strings.ContainsAny(name, `*?[\`) {
			continue
		}
		if _, ok := known[name]; !ok {
			return &ConfigError{Option: "forbidden_columns", Reason: fmt.Sprintf("%q is not a column of %s", name, declared.Catalog)}
		}
	}
	return nil
}
