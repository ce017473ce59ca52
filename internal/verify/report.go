package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Kind classifies a mismatch.
type Kind string

const (
	KindMissingColumn   Kind = "missing_column"
	KindForbiddenColumn Kind = "forbidden_column"
	KindRequiredType    Kind = "required_type"
	KindRowCount        Kind = "row_count"
	KindTypeMismatch    Kind = "type_mismatch"
	KindValueMismatch   Kind = "value_mismatch"
	// KindUndeclared marks a column a table has but its declaration lacks.
	KindUndeclared Kind = "undeclared_column"
)

// Table sides.
const (
	SideReference = "reference"
	SideCandidate = "candidate"
)

// Sample is one concrete differing value.
type Sample struct {
	Row int `json:"row"`
	// Index locates the element inside a nested value, e.g. "[3]" or
	// "[0].flux[12]". Empty for top-level scalars.
	Index     string `json:"index,omitempty"`
	Reference string `json:"reference"`
	Candidate string `json:"candidate"`
}

// Mismatch aggregates every difference of one kind at one column path.
type Mismatch struct {
	Kind   Kind   `json:"kind"`
	Column string `json:"column"`
	// Table names the side the finding applies to, when only one does.
	Table   string `json:"table,omitempty"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	// MaxDelta is the largest absolute numeric difference seen.
	MaxDelta float64 `json:"max_delta,omitempty"`
	// Allowed mismatches are reported but do not fail the comparison.
	Allowed bool     `json:"allowed,omitempty"`
	Samples []Sample `json:"samples,omitempty"`
}

// Report is the outcome of one comparison.
type Report struct {
	Reference     string     `json:"reference"`
	Candidate     string     `json:"candidate"`
	RowsReference int64      `json:"rows_reference"`
	RowsCandidate int64      `json:"rows_candidate"`
	Mismatches    []Mismatch `json:"mismatches"`

	index      map[string]int
	maxSamples int
}

func newReport(maxSamples int) *Report {
	return &Report{index: map[string]int{}, maxSamples: maxSamples, Mismatches: []Mismatch{}}
}

// Passed reports whether the report holds no failing mismatch.
func (r *Report) Passed() bool {
	for _, m := range r.Mismatches {
		if !m.Allowed {
			return false
		}
	}
	return true
}

// Failures returns the mismatches that fail the comparison.
func (r *Report) Failures() []Mismatch {
	var out []Mismatch
	for _, m := range r.Mismatches {
		if !m.Allowed {
			out = append(out, m)
		}
	}
	return out
}

// Find returns the mismatch of kind at column, if any.
func (r *Report) Find(kind Kind, column string) (Mismatch, bool) {
	for _, m := range r.Mismatches {
		if m.Kind == kind && m.Column == column {
			return m, true
		}
	}
	return Mismatch{}, false
}

// add accumulates one finding. Findings with the same kind, column and
// side merge into one Mismatch.
func (r *Report) add(kind Kind, column, table, message string, delta float64, s *Sample) {
	key := string(kind) + "\x00" + column + "\x00" + table
	i, ok := r.index[key]
	if !ok {
		if r.index == nil {
			r.index = map[string]int{}
		}
		r.Mismatches = append(r.Mismatches, Mismatch{Kind: kind, Column: column, Table: table, Message: message})
		i = len(r.Mismatches) - 1
		r.index[key] = i
	}
	m := &r.Mismatches[i]
	m.Count++
	if delta > m.MaxDelta {
		m.MaxDelta = delta
	}
	if s != nil && len(m.Samples) < r.maxSamples {
		m.Samples = append(m.Samples, *s)
	}
}

// finish orders mismatches by column then kind and applies allowances.
func (r *Report) finish(cfg Config) {
	for i := range r.Mismatches {
		m := &r.Mismatches[i]
		if m.Kind == KindValueMismatch && cfg.allowed(m.Column) {
			m.Allowed = true
		}
	}
	sort.SliceStable(r.Mismatches, func(i, j int) bool {
		a, b := r.Mismatches[i], r.Mismatches[j]
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Kind < b.Kind
	})
	r.index = nil
}

// String renders a human-readable listing.
func (r *Report) String() string {
	var b strings.Builder
	verdict := "PASS"
	if !r.Passed() {
		verdict = "FAIL"
	}
	fmt.Fprintf(&b, "%s: %s (%d rows) vs %s (%d rows)\n", verdict, r.Reference, r.RowsReference, r.Candidate, r.RowsCandidate)
	if len(r.Mismatches) == 0 {
		b.WriteString("  no differences\n")
		return b.String()
	}
	for _, m := range r.Mismatches {
		tag := ""
		if m.Allowed {
			tag = " (allowed)"
		}
		fmt.Fprintf(&b, "  [%s] %s%s: %s", m.Kind, m.Column, tag, m.Message)
		if m.Count > 1 {
			fmt.Fprintf(&b, " (%d occurrences", m.Count)
			if m.MaxDelta > 0 {
				fmt.Fprintf(&b, ", max delta %g", m.MaxDelta)
			}
			b.WriteString(")")
		} else if m.MaxDelta > 0 {
			fmt.Fprintf(&b, " (delta %g)", m.MaxDelta)
		}
		b.WriteString("\n")
		for _, s := range m.Samples {
			fmt.Fprintf(&b, "      row %d%s: %s != %s\n", s.Row, s.Index, s.Reference, s.Candidate)
		}
	}
	return b.String()
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// MismatchRow is the parquet row layout of an exported report.
type MismatchRow struct {
	Reference string  `parquet:"reference"`
	Candidate string  `parquet:"candidate"`
	Kind      string  `parquet:"kind"`
	Column    string  `parquet:"column"`
	Table     string  `parquet:"table,optional"`
	Message   string  `parquet:"message"`
	Count     int64   `parquet:"count"`
	MaxDelta  float64 `parquet:"max_delta"`
	Allowed   bool    `parquet:"allowed"`
	// Samples is the JSON encoding of the kept samples.
	Samples string `parquet:"samples"`
}

// Rows flattens the report into one row per mismatch.
func (r *Report) Rows() ([]MismatchRow, error) {
	rows := make([]MismatchRow, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		samples, err := json.Marshal(m.Samples)
		if err != nil {
			return nil, fmt.Errorf("marshal samples for %s: %w", m.Column, err)
		}
		rows = append(rows, MismatchRow{
			Reference: r.Reference,
			Candidate: r.Candidate,
			Kind:      string(m.Kind),
			Column:    m.Column,
			Table:     m.Table,
			Message:   m.Message,
			Count:     int64(m.Count),
			MaxDelta:  m.MaxDelta,
			Allowed:   m.Allowed,
			Samples:   string(samples),
		})
	}
	return rows, nil
}

// WriteParquet writes one parquet row per mismatch.
func (r *Report) WriteParquet(w io.Writer) error {
	rows, err := r.Rows()
	if err != nil {
		return err
	}
	pw := parquet.NewGenericWriter[MismatchRow](w)
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write mismatch rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
