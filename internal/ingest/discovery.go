package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// PageCounter returns the number of pages in a PDF.
type PageCounter func(path string) (int, error)

// PDFPageCount reads the page tree with pdfcpu in relaxed validation mode,
// which tolerates the minor structural damage common in scanner output.
func PDFPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(f, cfg)
	if err != nil {
		return 0, fmt.Errorf("count pages of %s: %w", path, err)
	}
	return n, nil
}

// DirStats summarizes a discovery walk.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Failed  uint32
}

// Discovery walks input roots and turns matching files into documents.
type Discovery struct {
	roots      []string
	exts       map[string]struct{}
	skipHidden bool
	countPages PageCounter
	logger     *slog.Logger
	stats      DirStats
}

// DiscoveryOption configures a Discovery.
type DiscoveryOption func(*Discovery)

// WithPageCounter replaces the pdfcpu page counter.
func WithPageCounter(c PageCounter) DiscoveryOption {
	return func(d *Discovery) {
		if c != nil {
			d.countPages = c
		}
	}
}

// NewDiscovery returns a source over roots. An empty extension list uses
// constants.AllowedExtensions.
func NewDiscovery(roots []string, extensions []string, skipHidden bool, logger *slog.Logger, opts ...DiscoveryOption) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discovery{
		roots:      roots,
		exts:       constants.ExtensionSet(extensions),
		skipHidden: skipHidden,
		countPages: PDFPageCount,
		logger:     logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Stats reports the counters of the last Discover call.
func (d *Discovery) Stats() DirStats { return d.stats }

// Discover walks every root in order. A root may also name a single file.
// Files whose pages cannot be counted are still returned, without pages, so
// they surface as failed documents in the run summary.
func (d *Discovery) Discover(ctx context.Context) ([]pipeline.Document, error) {
	d.stats = DirStats{}
	var docs []pipeline.Document
	seen := map[string]struct{}{}
	for _, root := range d.roots {
		if strings.TrimSpace(root) == "" {
			return nil, errors.New("input root is required")
		}
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.stats.Scanned++
			if walkErr != nil {
				if path == root {
					return walkErr
				}
				d.logger.Warn("walk error", "path", path, "error", walkErr)
				d.stats.Failed++
				return nil // continue walking
			}
			if d.skipHidden && path != root && IsHidden(path) {
				if entry.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if entry.IsDir() || !allowed(path, d.exts) {
				return nil
			}
			doc, err := d.Document(path)
			if err != nil {
				d.logger.Warn("document has no readable pages", "path", path, "error", err)
				d.stats.Failed++
			}
			if _, dup := seen[doc.ID]; dup {
				return nil
			}
			seen[doc.ID] = struct{}{}
			d.stats.Matched++
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return docs, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	d.logger.Info("discovery finished", "roots", len(d.roots), "scanned", d.stats.Scanned,
		"matched", d.stats.Matched, "failed", d.stats.Failed)
	return docs, nil
}

// Document builds the document for one file. On a page count error the
// document is still returned, with no pages.
func (d *Discovery) Document(path string) (pipeline.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	doc := pipeline.Document{
		ID:     DocumentID(abs),
		Path:   abs,
		Format: constants.MapExtToFormat(filepath.Ext(abs)),
	}
	switch doc.Format {
	case constants.PDF:
		n, err := d.countPages(abs)
		if err != nil {
			return doc, err
		}
		if n == 0 {
			return doc, fmt.Errorf("%s has no pages", abs)
		}
		doc.Pages = make([]int, n)
		for i := range doc.Pages {
			doc.Pages[i] = i + 1
		}
	case constants.IMAGE:
		doc.Pages = []int{1}
	default:
		return doc, fmt.Errorf("unsupported extension %q", filepath.Ext(abs))
	}
	return doc, nil
}
