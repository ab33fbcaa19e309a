package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/ocr"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// ocrContract recognises the page image and carries word tokens forward for
// quality scoring.
func ocrContract(opts Options) pipeline.Contract {
	return pipeline.Contract{
		Input:  pipeline.KindImage,
		Output: pipeline.KindText,
		Params: pipeline.ParamSpec{
			"lang": pipeline.ParamString,
			"psm":  pipeline.ParamInt,
			"oem":  pipeline.ParamInt,
			"dpi":  pipeline.ParamInt,
		},
		Stage: pipeline.StageFunc(func(ctx context.Context, in pipeline.Artifact, p pipeline.StageParams) (pipeline.Artifact, error) {
			ro := ocr.Options{
				Lang: p.String("lang", ""),
				PSM:  p.Int("psm", 3),
				DPI:  p.Int("dpi", 0),
			}
			// negative or absent oem keeps the engine default
			if oem := p.Int("oem", -1); oem >= 0 {
				ro.OEM = &oem
			}
			res, err := opts.Engine.Recognize(ctx, in.Path, ro)
			if err != nil {
				return pipeline.Artifact{}, fmt.Errorf("%s: %w", opts.Engine.Name(), err)
			}
			result := &pipeline.OCRResult{Text: res.Text, Language: res.Language}
			for _, w := range res.Words {
				result.Tokens = append(result.Tokens, pipeline.Token{Text: w.Text, Confidence: w.Confidence})
			}

			dir, err := outDir(ctx, opts, constants.StageOCR)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			path := filepath.Join(dir, pageBase(in)+".txt")
			if err := os.WriteFile(path, []byte(res.Text), 0o644); err != nil {
				return pipeline.Artifact{}, fmt.Errorf("write ocr text: %w", err)
			}
			out := in.Derive(pipeline.KindText, path)
			out.OCR = result
			return out, nil
		}),
	}
}
