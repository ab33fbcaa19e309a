package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

type RunRepository interface {
	// StartRun records a RUNNING run so that crashed runs stay visible.
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	// SaveDocument upserts one document and its pages; used by watch mode.
	SaveDocument(ctx context.Context, runID string, res pipeline.DocumentResult) error
	// SaveSummary upserts the run row and every document row of s.
	SaveSummary(ctx context.Context, s pipeline.RunSummary) error
	LoadRun(ctx context.Context, runID string) (pipeline.RunSummary, error)
}

type runRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewRunRepository(db *DB, logger *slog.Logger) RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &runRepo{db: db, logger: logger}
}

var (
	runSummaryColumns = []string{"status", "finished_at", "passed", "passed_after_retry", "failed", "partial", "skipped"}
	documentColumns   = []string{"run_id", "document_id", "path", "status", "strategy", "attempts", "error", "started_at", "finished_at"}
	pageColumns       = []string{"run_id", "document_id", "page", "status", "strategy", "score", "attempts", "output", "error"}
)

// ensureRun inserts a RUNNING row for runID unless one exists.
func (r *runRepo) ensureRun(runID string, startedAt time.Time) (string, []any) {
	return r.db.builder().Insert(tableRuns).
		Columns("id", "status", "started_at").
		Values(runID, string(constants.RunStatusRunning), formatTime(startedAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()
}

func (r *runRepo) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	query, args := r.ensureRun(runID, startedAt)
	if err := r.db.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to start run", "run_id", runID, "error", err)
		return common.StoreError("start run", err)
	}
	return nil
}

func (r *runRepo) SaveDocument(ctx context.Context, runID string, res pipeline.DocumentResult) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx dialect.Tx) error {
		return r.writeDocument(ctx, tx, runID, summaryRow(res))
	})
}

func (r *runRepo) SaveSummary(ctx context.Context, s pipeline.RunSummary) error {
	if err := validateRunID(s.RunID); err != nil {
		return err
	}
	start := time.Now()
	err := r.inTx(ctx, func(tx dialect.Tx) error {
		// started_at stays as StartRun recorded it
		query, args := r.db.builder().Insert(tableRuns).
			Columns(append([]string{"id", "started_at"}, runSummaryColumns...)...).
			Values(s.RunID, formatTime(s.StartedAt), string(s.Status), nullTime(s.FinishedAt),
				s.Passed, s.PassedAfterRetry, s.Failed, s.Partial, s.Skipped).
			OnConflict(
				entsql.ConflictColumns("id"),
				entsql.ResolveWith(func(u *entsql.UpdateSet) {
					for _, c := range runSummaryColumns {
						u.SetExcluded(c)
					}
				}),
			).
			Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
		for _, d := range s.Documents {
			if err := r.writeDocument(ctx, tx, s.RunID, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to save run summary", "run_id", s.RunID, "error", err)
		return err
	}
	r.logger.Info("run summary saved", "run_id", s.RunID, "documents", len(s.Documents),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *runRepo) writeDocument(ctx context.Context, tx dialect.Tx, runID string, d pipeline.DocumentSummary) error {
	// a document saved before its run row (watch mode) needs the parent
	query, args := r.ensureRun(runID, d.StartedAt)
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("ensure run: %w", err)
	}
	query, args = r.db.builder().Insert(tableDocuments).
		Columns(documentColumns...).
		Values(runID, d.DocumentID, d.Path, string(d.Status), d.Strategy, d.Attempts, d.Error,
			nullTime(d.StartedAt), nullTime(d.FinishedAt)).
		OnConflict(entsql.ConflictColumns("run_id", "document_id"), entsql.ResolveWithNewValues()).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("upsert document %s: %w", d.DocumentID, err)
	}
	if len(d.Pages) == 0 {
		return nil
	}
	insert := r.db.builder().Insert(tablePages).Columns(pageColumns...)
	for _, p := range d.Pages {
		var msg string
		if p.Err != nil {
			msg = p.Err.Error()
		}
		insert.Values(runID, d.DocumentID, p.Page, p.StatusLabel(), p.Strategy, p.Score, len(p.Attempts), p.Output, msg)
	}
	query, args = insert.
		OnConflict(entsql.ConflictColumns("run_id", "document_id", "page"), entsql.ResolveWithNewValues()).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("upsert pages of %s: %w", d.DocumentID, err)
	}
	return nil
}

func (r *runRepo) LoadRun(ctx context.Context, runID string) (pipeline.RunSummary, error) {
	if err := validateRunID(runID); err != nil {
		return pipeline.RunSummary{}, err
	}
	s := pipeline.RunSummary{RunID: runID}
	query, args := r.db.builder().
		Select("status", "started_at", "finished_at", "passed", "passed_after_retry", "failed", "partial", "skipped").
		From(entsql.Table(tableRuns)).
		Where(entsql.EQ("id", runID)).
		Query()
	found, err := r.queryRows(ctx, query, args, func(rows *entsql.Rows) error {
		var (
			status, started string
			finished        sql.NullString
		)
		if err := rows.Scan(&status, &started, &finished, &s.Passed, &s.PassedAfterRetry, &s.Failed, &s.Partial, &s.Skipped); err != nil {
			return err
		}
		s.Status = constants.RunStatus(status)
		s.StartedAt = parseTime(started)
		s.FinishedAt = parseTime(finished.String)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to load run", "run_id", runID, "error", err)
		return s, common.StoreError("load run", err)
	}
	if found == 0 {
		return s, common.NewAppError(common.CodeNotFound, "run "+runID, common.ErrNotFound)
	}

	docs, err := r.loadDocuments(ctx, runID)
	if err != nil {
		return s, common.StoreError("load documents", err)
	}
	s.Documents = docs
	return s, nil
}

func (r *runRepo) loadDocuments(ctx context.Context, runID string) ([]pipeline.DocumentSummary, error) {
	var (
		docs  []pipeline.DocumentSummary
		index = map[string]int{}
	)
	query, args := r.db.builder().
		Select("document_id", "path", "status", "strategy", "attempts", "error", "started_at", "finished_at").
		From(entsql.Table(tableDocuments)).
		Where(entsql.EQ("run_id", runID)).
		OrderBy("document_id").
		Query()
	_, err := r.queryRows(ctx, query, args, func(rows *entsql.Rows) error {
		var (
			d                 pipeline.DocumentSummary
			status            string
			started, finished sql.NullString
		)
		if err := rows.Scan(&d.DocumentID, &d.Path, &status, &d.Strategy, &d.Attempts, &d.Error, &started, &finished); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		d.Status = constants.DocumentStatus(status)
		d.StartedAt = parseTime(started.String)
		d.FinishedAt = parseTime(finished.String)
		index[d.DocumentID] = len(docs)
		docs = append(docs, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	query, args = r.db.builder().
		Select("document_id", "page", "status", "strategy", "score", "output", "error").
		From(entsql.Table(tablePages)).
		Where(entsql.EQ("run_id", runID)).
		OrderBy("document_id", "page").
		Query()
	_, err = r.queryRows(ctx, query, args, func(rows *entsql.Rows) error {
		var (
			docID, label, msg string
			p                 pipeline.PageResult
		)
		if err := rows.Scan(&docID, &p.Page, &label, &p.Strategy, &p.Score, &p.Output, &msg); err != nil {
			return fmt.Errorf("scan page: %w", err)
		}
		i, ok := index[docID]
		if !ok {
			return nil
		}
		p.Status = pageStatus(label)
		if msg != "" {
			p.Err = errors.New(msg)
		}
		if p.Output != "" {
			docs[i].Outputs = append(docs[i].Outputs, p.Output)
		}
		docs[i].Pages = append(docs[i].Pages, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	return docs, nil
}

// queryRows runs query and calls scan once per row, returning the row count.
func (r *runRepo) queryRows(ctx context.Context, query string, args []any, scan func(*entsql.Rows) error) (int, error) {
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, query, args, rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func (r *runRepo) inTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := r.db.drv.Tx(ctx)
	if err != nil {
		return common.StoreError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return common.StoreError("write run", err)
	}
	if err := tx.Commit(); err != nil {
		return common.StoreError("commit", err)
	}
	return nil
}

// summaryRow flattens a single result the same way the batch summary does.
func summaryRow(res pipeline.DocumentResult) pipeline.DocumentSummary {
	d := pipeline.DocumentSummary{
		DocumentID: res.DocumentID,
		Path:       res.Path,
		Status:     res.Status,
		Strategy:   res.Strategy(),
		Outputs:    res.Outputs(),
		Pages:      res.Pages,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	for _, p := range res.Pages {
		d.Attempts += len(p.Attempts)
	}
	if res.Err != nil {
		d.Error = res.Err.Error()
	}
	return d
}

// pageStatus strips the ":<strategy>" suffix of a stored status label.
func pageStatus(label string) constants.PageStatus {
	for i := 0; i < len(label); i++ {
		if label[i] == ':' {
			return constants.PageStatus(label[:i])
		}
	}
	return constants.PageStatus(label)
}

func validateRunID(id string) error {
	v := common.NewValidator().Field("run_id", id, common.Required, common.UUID)
	if v.HasErrors() {
		return common.NewAppError(common.CodeInvalidInput, v.ErrorMessage(), common.ErrInvalidInput)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
