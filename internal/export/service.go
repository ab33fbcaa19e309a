package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/scanflow/internal/pipeline"
	"github.com/joseph-ayodele/scanflow/internal/repository"
)

const (
	SheetDocuments = "Documents"
	SheetPages     = "Pages"
)

// Service renders run summaries as XLSX workbooks.
type Service struct {
	runs   repository.RunRepository
	logger *slog.Logger
}

// NewService returns an exporter. runs may be nil when only in-memory
// summaries are exported.
func NewService(runs repository.RunRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, logger: logger}
}

// ExportRunXLSX loads a stored run and renders it.
func (s *Service) ExportRunXLSX(ctx context.Context, runID string) ([]byte, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("export: no run store configured")
	}
	summary, err := s.runs.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return s.SummaryXLSX(summary)
}

// WriteFile renders summary to path, creating parent directories.
func (s *Service) WriteFile(path string, summary pipeline.RunSummary) error {
	buf, err := s.SummaryXLSX(summary)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// SummaryXLSX returns a workbook with one row per document and one row per page.
func (s *Service) SummaryXLSX(summary pipeline.RunSummary) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetDocuments); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetPages); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	header := func(sheet string, cols []string) {
		for i, h := range cols {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(sheet, cell, h)
		}
	}
	header(SheetDocuments, []string{"Document ID", "Path", "Status", "Strategy", "Attempts", "Pages", "Outputs", "Error", "Duration (ms)"})
	header(SheetPages, []string{"Document ID", "Page", "Status", "Strategy", "Score", "Attempts", "Output", "Error"})

	pageRow := 2
	for i, d := range summary.Documents {
		row := i + 2
		write := func(sheet string, r, col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, v)
		}
		var duration int64
		if !d.StartedAt.IsZero() && !d.FinishedAt.IsZero() {
			duration = d.FinishedAt.Sub(d.StartedAt).Milliseconds()
		}
		write(SheetDocuments, row, 1, d.DocumentID)
		write(SheetDocuments, row, 2, d.Path)
		write(SheetDocuments, row, 3, string(d.Status))
		write(SheetDocuments, row, 4, d.Strategy)
		write(SheetDocuments, row, 5, d.Attempts)
		write(SheetDocuments, row, 6, len(d.Pages))
		write(SheetDocuments, row, 7, strings.Join(d.Outputs, "\n"))
		write(SheetDocuments, row, 8, truncate(d.Error, 240))
		write(SheetDocuments, row, 9, duration)

		for _, p := range d.Pages {
			var msg string
			if p.Err != nil {
				msg = p.Err.Error()
			}
			write(SheetPages, pageRow, 1, d.DocumentID)
			write(SheetPages, pageRow, 2, p.Page)
			write(SheetPages, pageRow, 3, p.StatusLabel())
			write(SheetPages, pageRow, 4, p.Strategy)
			write(SheetPages, pageRow, 5, p.Score)
			write(SheetPages, pageRow, 6, len(p.Attempts))
			write(SheetPages, pageRow, 7, p.Output)
			write(SheetPages, pageRow, 8, truncate(msg, 240))
			pageRow++
		}
	}

	_ = f.SetColWidth(SheetDocuments, "A", "A", 38) // id
	_ = f.SetColWidth(SheetDocuments, "B", "B", 48) // path
	_ = f.SetColWidth(SheetDocuments, "C", "D", 24)
	_ = f.SetColWidth(SheetDocuments, "G", "H", 60)
	_ = f.SetColWidth(SheetPages, "A", "A", 38)
	_ = f.SetColWidth(SheetPages, "C", "D", 30)
	_ = f.SetColWidth(SheetPages, "G", "H", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"run_id", summary.RunID,
		"documents", len(summary.Documents),
		"pages", pageRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
