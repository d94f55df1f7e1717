package schema

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type expectationFile struct {
	Tables map[string]struct {
		Columns []struct {
			Name     string  `yaml:"name"`
			Type     string  `yaml:"type"`
			Nullable *bool   `yaml:"nullable"`
			Default  *string `yaml:"default"`
		} `yaml:"columns"`
	} `yaml:"tables"`
}

// LoadExpectation parses an expected schema:
//
//	tables:
//	  employees:
//	    columns:
//	      - {name: id, type: uuid, nullable: false}
//	  shifts: {}
//
// A table without columns is only checked for existence. Omitting type or
// nullable skips that check for the column.
func LoadExpectation(r io.Reader) (Snapshot, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file expectationFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("expectation is empty")
		}
		return nil, fmt.Errorf("parse expectation: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, errors.New("expectation lists no tables")
	}

	expected := make(Snapshot, len(file.Tables))
	for table, def := range file.Tables {
		if table == "" {
			return nil, errors.New("expectation has a table with an empty name")
		}
		seen := make(map[string]bool, len(def.Columns))
		columns := make([]Column, 0, len(def.Columns))
		for i, c := range def.Columns {
			if c.Name == "" {
				return nil, fmt.Errorf("table %s: column %d has no name", table, i+1)
			}
			if seen[c.Name] {
				return nil, fmt.Errorf("table %s: column %s listed twice", table, c.Name)
			}
			seen[c.Name] = true

			col := Column{Name: c.Name, Type: c.Type, Default: c.Default}
			if c.Nullable != nil {
				col.Nullability = NotNull
				if *c.Nullable {
					col.Nullability = Nullable
				}
			}
			columns = append(columns, col)
		}
		expected[table] = columns
	}
	return expected, nil
}
