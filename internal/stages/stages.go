// Package stages holds the built-in stage bodies registered behind the
// pipeline stage contract.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/ocr"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// Options wires the stage bodies to their collaborators.
type Options struct {
	// WorkDir receives artifacts when the executor does not scope one.
	WorkDir string
	// OutputDir is where the format stage writes final outputs.
	OutputDir string
	Renderer  *ocr.Renderer
	Engine    ocr.Engine
	// LoadLayoutModel is called once, on the first page that needs layout.
	// Nil uses the projection-profile detector.
	LoadLayoutModel func(ctx context.Context) (LayoutModel, error)
	Logger          *slog.Logger
}

// RegisterDefaults registers every built-in stage type on reg.
func RegisterDefaults(reg *pipeline.Registry, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "scanflow")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "./out"
	}
	if opts.Renderer == nil {
		opts.Renderer = ocr.NewRenderer("", nil, opts.Logger)
	}
	if opts.Engine == nil {
		opts.Engine = ocr.NewTesseract(ocr.TesseractConfig{}, nil, opts.Logger)
	}
	if opts.LoadLayoutModel == nil {
		opts.LoadLayoutModel = func(context.Context) (LayoutModel, error) { return NewProjectionModel(), nil }
	}

	contracts := map[string]pipeline.Contract{
		constants.StageNormalize:  normalizeContract(opts),
		constants.StagePreprocess: preprocessContract(opts),
		constants.StageEnhance:    enhanceContract(opts),
		constants.StageLayout:     layoutContract(opts),
		constants.StageOCR:        ocrContract(opts),
		constants.StageCleanup:    cleanupContract(opts),
		constants.StageFormat:     formatContract(opts),
	}
	for _, name := range []string{
		constants.StageNormalize, constants.StagePreprocess, constants.StageEnhance,
		constants.StageLayout, constants.StageOCR, constants.StageCleanup, constants.StageFormat,
	} {
		if err := reg.Register(name, contracts[name]); err != nil {
			return err
		}
	}
	return nil
}

// outDir returns the directory a stage writes into for the current attempt.
func outDir(ctx context.Context, opts Options, stage string) (string, error) {
	dir := common.WorkDirFromContext(ctx)
	if dir == "" {
		dir = filepath.Join(opts.WorkDir, safeName(common.DocumentIDFromContext(ctx)), common.AttemptFromContext(ctx))
	}
	dir = filepath.Join(dir, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// pageBase names per-page artifacts "<source>_page_<n>".
func pageBase(a pipeline.Artifact) string {
	src := a.Meta[pipeline.MetaSource]
	if src == "" {
		src = strings.TrimSuffix(filepath.Base(a.Path), filepath.Ext(a.Path))
	}
	return fmt.Sprintf("%s_page_%d", src, a.Page)
}

func safeName(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, s)
}
