package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/scanflow/constants"
)

// DocumentSummary is one row of a RunSummary.
type DocumentSummary struct {
	DocumentID string
	Path       string
	Status     constants.DocumentStatus
	Strategy   string // constants.InitialStrategy unless a retry won
	Attempts   int    // attempts executed across all pages
	Outputs    []string
	Pages      []PageResult
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunSummary is the aggregate outcome of a batch run. Documents are ordered
// by DocumentID so the summary does not depend on completion order.
type RunSummary struct {
	RunID      string
	Status     constants.RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Documents  []DocumentSummary

	Passed           int
	PassedAfterRetry int
	Failed           int // includes partial, timed-out and aborted documents
	Partial          int
	Skipped          int
}

// Document looks up a row by document id.
func (s RunSummary) Document(id string) (DocumentSummary, bool) {
	i := sort.Search(len(s.Documents), func(i int) bool { return s.Documents[i].DocumentID >= id })
	if i < len(s.Documents) && s.Documents[i].DocumentID == id {
		return s.Documents[i], true
	}
	return DocumentSummary{}, false
}

// summaryBuilder is the single synchronisation point workers report into.
type summaryBuilder struct {
	mu   sync.Mutex
	rows map[string]DocumentSummary
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{rows: map[string]DocumentSummary{}}
}

func (b *summaryBuilder) add(r DocumentResult) {
	row := DocumentSummary{
		DocumentID: r.DocumentID,
		Path:       r.Path,
		Status:     r.Status,
		Strategy:   r.Strategy(),
		Outputs:    r.Outputs(),
		Pages:      r.Pages,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, p := range r.Pages {
		row.Attempts += len(p.Attempts)
	}
	if r.Err != nil {
		row.Error = r.Err.Error()
	}
	b.mu.Lock()
	b.rows[r.DocumentID] = row
	b.mu.Unlock()
}

func (b *summaryBuilder) skip(doc Document) {
	b.mu.Lock()
	b.rows[doc.ID] = DocumentSummary{
		DocumentID: doc.ID,
		Path:       doc.Path,
		Status:     constants.DocumentStatusSkipped,
		Strategy:   constants.InitialStrategy,
	}
	b.mu.Unlock()
}

func (b *summaryBuilder) build(runID string, status constants.RunStatus, started, finished time.Time) RunSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := RunSummary{RunID: runID, Status: status, StartedAt: started, FinishedAt: finished}
	s.Documents = make([]DocumentSummary, 0, len(b.rows))
	for _, row := range b.rows {
		s.Documents = append(s.Documents, row)
		switch row.Status {
		case constants.DocumentStatusSucceeded:
			s.Passed++
		case constants.DocumentStatusSucceededAfterRetry:
			s.PassedAfterRetry++
		case constants.DocumentStatusSkipped:
			s.Skipped++
		case constants.DocumentStatusPartial:
			s.Partial++
			s.Failed++
		default:
			s.Failed++
		}
	}
	sort.Slice(s.Documents, func(i, j int) bool { return s.Documents[i].DocumentID < s.Documents[j].DocumentID })
	return s
}
