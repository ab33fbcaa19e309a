package stages

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// opFunc applies one preprocess operation.
type opFunc func(img *image.Gray, p pipeline.Params) (*image.Gray, error)

var preprocessOps = map[string]opFunc{
	constants.OpGrayscale: func(img *image.Gray, _ pipeline.Params) (*image.Gray, error) {
		return img, nil
	},
	constants.OpDenoise: func(img *image.Gray, p pipeline.Params) (*image.Gray, error) {
		k := p.Int("kernel_size", 5)
		if k < 1 || k%2 == 0 {
			return nil, fmt.Errorf("kernel_size must be a positive odd number, got %d", k)
		}
		return gaussianBlur(img, k, p.Float("sigma", 0)), nil
	},
	constants.OpThreshold: func(img *image.Gray, p pipeline.Params) (*image.Gray, error) {
		switch method := p.String("method", constants.ThresholdAdaptiveGaussian); method {
		case constants.ThresholdAdaptiveGaussian:
			block := p.Int("block_size", 11)
			if block < 3 || block%2 == 0 {
				return nil, fmt.Errorf("block_size must be an odd number >= 3, got %d", block)
			}
			return adaptiveThreshold(img, block, p.Float("c", 2)), nil
		case constants.ThresholdOtsu:
			return binarize(img, otsuLevel(img)), nil
		case constants.ThresholdSimple:
			level := p.Int("threshold", 127)
			if level < 0 || level > 255 {
				return nil, fmt.Errorf("threshold must be within 0..255, got %d", level)
			}
			return binarize(img, uint8(level)), nil
		default:
			return nil, fmt.Errorf("unknown threshold method %q", method)
		}
	},
	constants.OpDeskew: func(img *image.Gray, p pipeline.Params) (*image.Gray, error) {
		angle := skewAngle(img, p.Float("max_angle", 10), p.Float("step", 0.5))
		if angle == 0 {
			return img, nil
		}
		return rotate(img, -angle), nil
	},
}

var preprocessOpParams = map[string]pipeline.ParamSpec{
	constants.OpGrayscale: {},
	constants.OpDenoise:   {"kernel_size": pipeline.ParamInt, "sigma": pipeline.ParamFloat},
	constants.OpThreshold: {
		"method":     pipeline.ParamString,
		"block_size": pipeline.ParamInt,
		"c":          pipeline.ParamFloat,
		"threshold":  pipeline.ParamInt,
	},
	constants.OpDeskew: {"max_angle": pipeline.ParamFloat, "step": pipeline.ParamFloat},
}

// preprocessContract runs the enabled operations in declared order on a
// grayscale copy of the page.
func preprocessContract(opts Options) pipeline.Contract {
	return pipeline.Contract{
		Input:  pipeline.KindImage,
		Output: pipeline.KindImage,
		Ops:    preprocessOpParams,
		Stage: pipeline.StageFunc(func(ctx context.Context, in pipeline.Artifact, p pipeline.StageParams) (pipeline.Artifact, error) {
			src, err := loadImage(in.Path)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			img := toGray(src)
			interDir := common.IntermediateDirFromContext(ctx)
			base := pageBase(in) + ".png"
			for _, op := range p.Ops {
				if !op.Enabled {
					continue
				}
				if err := ctx.Err(); err != nil {
					return pipeline.Artifact{}, err
				}
				fn, ok := preprocessOps[op.Type]
				if !ok {
					return pipeline.Artifact{}, fmt.Errorf("unknown operation %q", op.Type)
				}
				if img, err = fn(img, op.Params); err != nil {
					return pipeline.Artifact{}, fmt.Errorf("%s: %w", op.Type, err)
				}
				if interDir != "" {
					if err := saveImage(filepath.Join(interDir, op.Type, base), img); err != nil {
						opts.Logger.Warn("failed to save intermediate", "op", op.Type, "error", err)
					}
				}
			}
			dir, err := outDir(ctx, opts, constants.StagePreprocess)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			out := filepath.Join(dir, base)
			if err := saveImage(out, img); err != nil {
				return pipeline.Artifact{}, err
			}
			return in.Derive(pipeline.KindImage, out), nil
		}),
	}
}
