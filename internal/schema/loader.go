package schema

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
)

// YAML schema file format. Check, policy, and filter predicates use the
// filter-expression string syntax from the expr package.
//
//	tables:
//	  - name: todos
//	    columns:
//	      - {name: title, type: string}
//	      - {name: userId, type: string}
//	      - {name: completed, type: boolean, default: false}
//	    indexes:
//	      - {name: by_user, fields: [userId]}
//	    uniqueIndexes:
//	      - {name: by_slug, fields: [slug], nullsNotDistinct: true}
//	    checks:
//	      - {name: title_set, expr: "title IS NOT NULL"}
//	    foreignKeys:
//	      - {columns: [userId], refTable: users, refColumns: [id], onDelete: cascade}
//	    deleteMode: {kind: soft, field: deletedAt}
//	    rls:
//	      enabled: true
//	      policies:
//	        - {name: own, op: select, using: "userId == 'me'"}

type schemaFile struct {
	Tables []tableFile `yaml:"tables"`
}

type tableFile struct {
	Name          string           `yaml:"name"`
	Columns       []columnFile     `yaml:"columns"`
	Indexes       []indexFile      `yaml:"indexes"`
	UniqueIndexes []uniqueFile     `yaml:"uniqueIndexes"`
	Checks        []checkFile      `yaml:"checks"`
	ForeignKeys   []foreignKeyFile `yaml:"foreignKeys"`
	DeleteMode    *deleteModeFile  `yaml:"deleteMode"`
	RLS           *rlsFile         `yaml:"rls"`
}

type columnFile struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable *bool  `yaml:"nullable"`
	Default  any    `yaml:"default"`
}

type indexFile struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

type uniqueFile struct {
	Name             string   `yaml:"name"`
	Fields           []string `yaml:"fields"`
	NullsNotDistinct bool     `yaml:"nullsNotDistinct"`
}

type checkFile struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

type foreignKeyFile struct {
	Name       string   `yaml:"name"`
	Columns    []string `yaml:"columns"`
	RefTable   string   `yaml:"refTable"`
	RefColumns []string `yaml:"refColumns"`
	OnDelete   string   `yaml:"onDelete"`
	OnUpdate   string   `yaml:"onUpdate"`
}

type deleteModeFile struct {
	Kind    string `yaml:"kind"`
	Field   string `yaml:"field"`
	DelayMs int64  `yaml:"delayMs"`
}

type rlsFile struct {
	Enabled  bool         `yaml:"enabled"`
	Policies []policyFile `yaml:"policies"`
}

type policyFile struct {
	Name      string `yaml:"name"`
	Op        string `yaml:"op"`
	Using     string `yaml:"using"`
	WithCheck string `yaml:"withCheck"`
}

// LoadFile reads and validates a YAML schema file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Load(data)
}

// Load parses and validates YAML schema bytes.
func Load(data []byte) (*Schema, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, fmt.Errorf("schema file declares no tables")
	}

	tables := make([]*Table, 0, len(file.Tables))
	for _, tf := range file.Tables {
		t, err := buildTable(tf)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return New(tables...)
}

func buildTable(tf tableFile) (*Table, error) {
	t := &Table{Name: tf.Name}

	for _, cf := range tf.Columns {
		col := Column{
			Name:     cf.Name,
			Type:     ColumnType(cf.Type),
			Nullable: cf.Nullable == nil || *cf.Nullable,
		}
		if cf.Default != nil {
			def, err := doc.Normalize(cf.Default)
			if err != nil {
				return nil, fmt.Errorf("table %q: column %q default: %w", tf.Name, cf.Name, err)
			}
			col.Default = def
		}
		t.Columns = append(t.Columns, col)
	}

	for _, idx := range tf.Indexes {
		t.Indexes = append(t.Indexes, Index{Name: idx.Name, Fields: idx.Fields})
	}
	for _, u := range tf.UniqueIndexes {
		t.UniqueIndexes = append(t.UniqueIndexes, UniqueIndex{
			Name:             u.Name,
			Fields:           u.Fields,
			NullsNotDistinct: u.NullsNotDistinct,
		})
	}

	for _, cf := range tf.Checks {
		pred, err := expr.Parse(cf.Expr)
		if err != nil {
			return nil, fmt.Errorf("table %q: check %q: %w", tf.Name, cf.Name, err)
		}
		t.Checks = append(t.Checks, Check{Name: cf.Name, Predicate: pred})
	}

	for _, fk := range tf.ForeignKeys {
		t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
			Name:       fk.Name,
			Columns:    fk.Columns,
			RefTable:   fk.RefTable,
			RefColumns: fk.RefColumns,
			OnDelete:   Action(fk.OnDelete),
			OnUpdate:   Action(fk.OnUpdate),
		})
	}

	if tf.DeleteMode != nil {
		t.DeleteMode = DeleteMode{
			Kind:  DeleteModeKind(tf.DeleteMode.Kind),
			Field: tf.DeleteMode.Field,
			Delay: time.Duration(tf.DeleteMode.DelayMs) * time.Millisecond,
		}
	}

	if tf.RLS != nil {
		t.RLSEnabled = tf.RLS.Enabled
		for _, pf := range tf.RLS.Policies {
			p := Policy{Name: pf.Name, Op: PolicyOp(pf.Op)}
			if pf.Using != "" {
				using, err := expr.Parse(pf.Using)
				if err != nil {
					return nil, fmt.Errorf("table %q: policy %q using: %w", tf.Name, pf.Name, err)
				}
				p.Using = using
			}
			if pf.WithCheck != "" {
				withCheck, err := expr.Parse(pf.WithCheck)
				if err != nil {
					return nil, fmt.Errorf("table %q: policy %q withCheck: %w", tf.Name, pf.Name, err)
				}
				p.WithCheck = withCheck
			}
			t.Policies = append(t.Policies, p)
		}
	}

	return t, nil
}
