package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a Discrepancy.
type Kind int

const (
	MissingTable Kind = iota
	MissingColumn
	TypeMismatch
	NullabilityMismatch
	ExtraColumn
)

func (k Kind) String() string {
	switch k {
	case MissingTable:
		return "missing table"
	case MissingColumn:
		return "missing column"
	case TypeMismatch:
		return "type mismatch"
	case NullabilityMismatch:
		return "nullability mismatch"
	case ExtraColumn:
		return "extra column"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Discrepancy is one difference between the expected and the live schema.
type Discrepancy struct {
	Kind     Kind
	Table    string
	Column   string
	Expected string
	Actual   string
}

func (d Discrepancy) String() string {
	switch d.Kind {
	case MissingTable:
		return fmt.Sprintf("%s: %s", d.Kind, d.Table)
	case MissingColumn, ExtraColumn:
		return fmt.Sprintf("%s: %s.%s", d.Kind, d.Table, d.Column)
	}
	return fmt.Sprintf("%s: %s.%s: expected %s, got %s", d.Kind, d.Table, d.Column, d.Expected, d.Actual)
}

// Diff compares expected against actual. Results are ordered by table,
// column, then kind. Types compare case-insensitively with whitespace
// collapsed; an empty expected type or Unspecified nullability is not
// checked. Extra columns are reported only for tables whose expectation
// lists columns.
func Diff(expected, actual Snapshot) []Discrepancy {
	var out []Discrepancy
	for _, table := range expected.Tables() {
		want := expected[table]
		have := actual[table]
		if len(have) == 0 {
			out = append(out, Discrepancy{Kind: MissingTable, Table: table})
			continue
		}

		byName := make(map[string]Column, len(have))
		for _, col := range have {
			byName[strings.ToLower(col.Name)] = col
		}
		listed := make(map[string]bool, len(want))

		for _, w := range want {
			key := strings.ToLower(w.Name)
			listed[key] = true
			h, ok := byName[key]
			if !ok {
				out = append(out, Discrepancy{Kind: MissingColumn, Table: table, Column: w.Name})
				continue
			}
			if w.Type != "" && normalizeType(w.Type) != normalizeType(h.Type) {
				out = append(out, Discrepancy{Kind: TypeMismatch, Table: table, Column: w.Name, Expected: w.Type, Actual: h.Type})
			}
			if w.Nullability != Unspecified && w.Nullability != h.Nullability {
				out = append(out, Discrepancy{Kind: NullabilityMismatch, Table: table, Column: w.Name,
					Expected: w.Nullability.String(), Actual: h.Nullability.String()})
			}
		}

		if len(want) == 0 {
			continue
		}
		for _, h := range have {
			if !listed[strings.ToLower(h.Name)] {
				out = append(out, Discrepancy{Kind: ExtraColumn, Table: table, Column: h.Name, Actual: h.Type})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Kind < b.Kind
	})
	return out
}

func normalizeType(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}
