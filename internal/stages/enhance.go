package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// enhanceContract upscales the page, which helps tesseract on small glyphs.
func enhanceContract(opts Options) pipeline.Contract {
	return pipeline.Contract{
		Input:  pipeline.KindImage,
		Output: pipeline.KindImage,
		Params: pipeline.ParamSpec{"scale": pipeline.ParamFloat},
		Stage: pipeline.StageFunc(func(ctx context.Context, in pipeline.Artifact, p pipeline.StageParams) (pipeline.Artifact, error) {
			factor := p.Float("scale", 2)
			if factor <= 0 || factor > 8 {
				return pipeline.Artifact{}, fmt.Errorf("scale must be within (0, 8], got %v", factor)
			}
			if factor == 1 {
				return in, nil
			}
			src, err := loadImage(in.Path)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			dir, err := outDir(ctx, opts, constants.StageEnhance)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			out := filepath.Join(dir, pageBase(in)+".png")
			if err := saveImage(out, scale(src, factor)); err != nil {
				return pipeline.Artifact{}, err
			}
			return in.Derive(pipeline.KindImage, out), nil
		}),
	}
}
