package schema

import (
	"fmt"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
)

// validate checks schema-wide invariants before the schema is exposed:
// every index and unique index resolves to real columns, foreign keys
// have matching column arity and point at a unique target, and policy
// and delete-mode enums are well-formed. Catching these at build time
// keeps the mutation path free of metadata errors.
func (s *Schema) validate() error {
	seen := make(map[string]bool, len(s.tables))
	for _, t := range s.tables {
		if t.Name == "" {
			return fmt.Errorf("schema: table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		seen[t.Name] = true
		if err := s.validateTable(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) validateTable(t *Table) error {
	cols := make(map[string]bool, len(t.Columns)+1)
	cols[doc.IDField] = true
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: table %q: column with empty name", t.Name)
		}
		if cols[c.Name] && c.Name != doc.IDField {
			return fmt.Errorf("schema: table %q: duplicate column %q", t.Name, c.Name)
		}
		cols[c.Name] = true
	}

	names := make(map[string]bool)
	for _, idx := range t.Indexes {
		if err := validateIndexFields(t, idx.Name, idx.Fields, cols, names); err != nil {
			return err
		}
	}
	for _, u := range t.UniqueIndexes {
		if err := validateIndexFields(t, u.Name, u.Fields, cols, names); err != nil {
			return err
		}
	}

	for _, ck := range t.Checks {
		if ck.Predicate == nil {
			return fmt.Errorf("schema: table %q: check %q has no predicate", t.Name, ck.Name)
		}
		for field := range expr.Fields(ck.Predicate) {
			if !cols[field] {
				return fmt.Errorf("schema: table %q: check %q references unknown column %q", t.Name, ck.Name, field)
			}
		}
	}

	for i := range t.ForeignKeys {
		if err := s.validateForeignKey(t, &t.ForeignKeys[i], cols); err != nil {
			return err
		}
	}

	switch t.DeleteMode.Kind {
	case "", DeleteHard, DeleteSoft, DeleteScheduled:
	default:
		return fmt.Errorf("schema: table %q: unknown delete mode %q", t.Name, t.DeleteMode.Kind)
	}
	if t.DeleteMode.Kind == DeleteScheduled && t.DeleteMode.Delay <= 0 {
		return fmt.Errorf("schema: table %q: scheduled delete mode requires a positive delay", t.Name)
	}

	for _, p := range t.Policies {
		switch p.Op {
		case PolicySelect, PolicyInsert, PolicyUpdate, PolicyDelete:
		default:
			return fmt.Errorf("schema: table %q: policy %q has unknown op %q", t.Name, p.Name, p.Op)
		}
		if p.Using == nil && p.WithCheck == nil {
			return fmt.Errorf("schema: table %q: policy %q has neither using nor with-check", t.Name, p.Name)
		}
	}

	return nil
}

func validateIndexFields(t *Table, name string, fields []string, cols, names map[string]bool) error {
	if name == "" {
		return fmt.Errorf("schema: table %q: index with empty name", t.Name)
	}
	if names[name] {
		return fmt.Errorf("schema: table %q: duplicate index name %q", t.Name, name)
	}
	names[name] = true
	if len(fields) == 0 {
		return fmt.Errorf("schema: table %q: index %q has no fields", t.Name, name)
	}
	for _, f := range fields {
		if !cols[f] {
			return fmt.Errorf("schema: table %q: index %q references unknown column %q", t.Name, name, f)
		}
	}
	return nil
}

func (s *Schema) validateForeignKey(t *Table, fk *ForeignKey, cols map[string]bool) error {
	label := fk.Name
	if label == "" {
		label = fmt.Sprintf("%s->%s", t.Name, fk.RefTable)
	}
	if len(fk.Columns) == 0 {
		return fmt.Errorf("schema: table %q: foreign key %q has no columns", t.Name, label)
	}
	if len(fk.Columns) != len(fk.RefColumns) {
		return fmt.Errorf("schema: table %q: foreign key %q: %d local columns vs %d referenced",
			t.Name, label, len(fk.Columns), len(fk.RefColumns))
	}
	for _, c := range fk.Columns {
		if !cols[c] {
			return fmt.Errorf("schema: table %q: foreign key %q references unknown local column %q", t.Name, label, c)
		}
	}

	ref := s.byName[fk.RefTable]
	if ref == nil {
		return fmt.Errorf("schema: table %q: foreign key %q references unknown table %q", t.Name, label, fk.RefTable)
	}
	for _, c := range fk.RefColumns {
		if c != doc.IDField && ref.Column(c) == nil {
			return fmt.Errorf("schema: table %q: foreign key %q references unknown column %s.%s",
				t.Name, label, fk.RefTable, c)
		}
	}
	// The target must identify at most one row: the id field or a
	// declared unique index over exactly the referenced columns.
	if !referencesUniqueKey(ref, fk.RefColumns) {
		return fmt.Errorf("schema: table %q: foreign key %q must reference %s.%s or a unique index of %q",
			t.Name, label, fk.RefTable, doc.IDField, fk.RefTable)
	}

	for _, a := range []Action{fk.OnDelete, fk.OnUpdate} {
		switch a {
		case "", ActionRestrict, ActionCascade, ActionSetNull, ActionSetDefault, ActionNoAction:
		default:
			return fmt.Errorf("schema: table %q: foreign key %q has unknown action %q", t.Name, label, a)
		}
	}
	return nil
}

func referencesUniqueKey(ref *Table, refColumns []string) bool {
	if len(refColumns) == 1 && refColumns[0] == doc.IDField {
		return true
	}
	for _, u := range ref.UniqueIndexes {
		if sameFields(u.Fields, refColumns) {
			return true
		}
	}
	return false
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
