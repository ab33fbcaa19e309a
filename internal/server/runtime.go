package server

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/ocr"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
	"github.com/joseph-ayodele/scanflow/internal/stages"
)

// Runtime is a loaded pipeline ready to execute documents.
type Runtime struct {
	Registry *pipeline.Registry
	Spec     *pipeline.PipelineSpec
	Executor *pipeline.DocumentExecutor
	Workers  int
}

// Close releases stage capabilities such as cached models.
func (r *Runtime) Close() error {
	if r == nil || r.Registry == nil {
		return nil
	}
	return r.Registry.Close()
}

// NewEngine returns the OCR engine named by cfg.Engine.
func NewEngine(cfg common.OCRConfig, logger *slog.Logger) (ocr.Engine, error) {
	switch cfg.Engine {
	case "", "tesseract":
		return ocr.NewTesseract(ocr.TesseractConfig{Binary: cfg.Tesseract, TessdataDir: cfg.TessdataDir}, ocr.ExecRunner{}, logger), nil
	case "gosseract":
		g, err := ocr.NewGosseract(cfg.TessdataDir, "")
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
}

// BuildRuntime registers the built-in stages and loads the pipeline document
// at cfg.Pipeline.SpecPath. A positive workers or timeout in the process
// environment overrides the document.
func BuildRuntime(cfg *common.Config, engine ocr.Engine, logger *slog.Logger) (*Runtime, error) {
	if engine == nil {
		var err error
		if engine, err = NewEngine(cfg.OCR, logger); err != nil {
			return nil, err
		}
	}
	reg := pipeline.NewRegistry()
	err := stages.RegisterDefaults(reg, stages.Options{
		WorkDir:   cfg.Pipeline.WorkDir,
		OutputDir: cfg.Pipeline.OutputDir,
		Renderer:  ocr.NewRenderer(cfg.OCR.Pdftoppm, ocr.ExecRunner{}, logger),
		Engine:    engine,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	spec, err := pipeline.LoadSpecFile(cfg.Pipeline.SpecPath, reg)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "load pipeline", err)
	}

	timeout := spec.DocumentTimeout
	if cfg.Pipeline.DocumentTimeout > 0 && timeout == 0 {
		timeout = cfg.Pipeline.DocumentTimeout
	}
	exec, err := pipeline.NewDocumentExecutor(spec, logger,
		pipeline.WithWorkDir(filepath.Join(cfg.Pipeline.WorkDir, "attempts")),
		pipeline.WithDocumentTimeout(timeout),
	)
	if err != nil {
		return nil, err
	}

	workers := spec.Workers
	if cfg.Pipeline.Workers > 0 {
		workers = cfg.Pipeline.Workers
	}
	logger.Info("pipeline loaded", "spec", cfg.Pipeline.SpecPath, "stages", len(spec.Stages),
		"workers", common.EffectiveWorkers(workers), "document_timeout", timeout.String(), "engine", engine.Name())
	return &Runtime{Registry: reg, Spec: spec, Executor: exec, Workers: common.EffectiveWorkers(workers)}, nil
}
