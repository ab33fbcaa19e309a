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

func cleanupContract(opts Options) pipeline.Contract {
	return pipeline.Contract{
		Input:  pipeline.KindText,
		Output: pipeline.KindText,
		Params: pipeline.ParamSpec{
			"drop_rule_lines": pipeline.ParamBool,
			"join_hyphens":    pipeline.ParamBool,
		},
		Stage: pipeline.StageFunc(func(ctx context.Context, in pipeline.Artifact, p pipeline.StageParams) (pipeline.Artifact, error) {
			if in.OCR == nil {
				return pipeline.Artifact{}, fmt.Errorf("no recognised text on page %d", in.Page)
			}
			cleaned := *in.OCR
			cleaned.Text = ocr.NormalizeWith(in.OCR.Text, ocr.NormalizeOptions{
				DropRuleLines: p.Bool("drop_rule_lines", true),
				JoinHyphens:   p.Bool("join_hyphens", false),
			})

			dir, err := outDir(ctx, opts, constants.StageCleanup)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			path := filepath.Join(dir, pageBase(in)+".txt")
			if err := os.WriteFile(path, []byte(cleaned.Text), 0o644); err != nil {
				return pipeline.Artifact{}, fmt.Errorf("write cleaned text: %w", err)
			}
			out := in.Derive(pipeline.KindText, path)
			out.OCR = &cleaned
			return out, nil
		}),
	}
}
