package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableRuns      = "runs"
	tableDocuments = "documents"
	tablePages     = "pages"
)

// Timestamps are RFC 3339 text so that they round-trip identically through
// both drivers.
var (
	runsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "status", Type: field.TypeString},
		{Name: "started_at", Type: field.TypeString},
		{Name: "finished_at", Type: field.TypeString, Nullable: true},
		{Name: "passed", Type: field.TypeInt, Default: 0},
		{Name: "passed_after_retry", Type: field.TypeInt, Default: 0},
		{Name: "failed", Type: field.TypeInt, Default: 0},
		{Name: "partial", Type: field.TypeInt, Default: 0},
		{Name: "skipped", Type: field.TypeInt, Default: 0},
	}
	runsTable = &schema.Table{
		Name:       tableRuns,
		Columns:    runsColumns,
		PrimaryKey: []*schema.Column{runsColumns[0]},
	}

	documentsColumns = []*schema.Column{
		{Name: "run_id", Type: field.TypeString},
		{Name: "document_id", Type: field.TypeString},
		{Name: "path", Type: field.TypeString},
		{Name: "status", Type: field.TypeString},
		{Name: "strategy", Type: field.TypeString},
		{Name: "attempts", Type: field.TypeInt, Default: 0},
		{Name: "error", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "started_at", Type: field.TypeString, Nullable: true},
		{Name: "finished_at", Type: field.TypeString, Nullable: true},
	}
	documentsTable = &schema.Table{
		Name:       tableDocuments,
		Columns:    documentsColumns,
		PrimaryKey: []*schema.Column{documentsColumns[0], documentsColumns[1]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "documents_runs_documents",
				Columns:    []*schema.Column{documentsColumns[0]},
				RefColumns: []*schema.Column{runsColumns[0]},
				RefTable:   runsTable,
				OnDelete:   schema.Cascade,
			},
		},
	}

	pagesColumns = []*schema.Column{
		{Name: "run_id", Type: field.TypeString},
		{Name: "document_id", Type: field.TypeString},
		{Name: "page", Type: field.TypeInt},
		{Name: "status", Type: field.TypeString},
		{Name: "strategy", Type: field.TypeString, Default: ""},
		{Name: "score", Type: field.TypeFloat64, Default: 0},
		{Name: "attempts", Type: field.TypeInt, Default: 0},
		{Name: "output", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "error", Type: field.TypeString, Size: 2147483647, Default: ""},
	}
	pagesTable = &schema.Table{
		Name:       tablePages,
		Columns:    pagesColumns,
		PrimaryKey: []*schema.Column{pagesColumns[0], pagesColumns[1], pagesColumns[2]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "pages_documents_pages",
				Columns:    []*schema.Column{pagesColumns[0], pagesColumns[1]},
				RefColumns: []*schema.Column{documentsColumns[0], documentsColumns[1]},
				RefTable:   documentsTable,
				OnDelete:   schema.Cascade,
			},
		},
	}

	tables = []*schema.Table{runsTable, documentsTable, pagesTable}
)

// migrate creates or updates the run store tables.
func (db *DB) migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(db.drv)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
