package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// normalizeContract turns a source page into a raster image: PDF pages are
// rendered with pdftoppm, images are decoded and re-encoded.
func normalizeContract(opts Options) pipeline.Contract {
	return pipeline.Contract{
		Input:  pipeline.KindSource,
		Output: pipeline.KindImage,
		Params: pipeline.ParamSpec{
			"pdf_dpi":       pipeline.ParamInt,
			"output_format": pipeline.ParamString,
		},
		Stage: pipeline.StageFunc(func(ctx context.Context, in pipeline.Artifact, p pipeline.StageParams) (pipeline.Artifact, error) {
			ext, err := imageExt(p.String("output_format", "png"))
			if err != nil {
				return pipeline.Artifact{}, err
			}
			dir, err := outDir(ctx, opts, constants.StageNormalize)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			source := strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
			in = in.WithMeta(pipeline.MetaSource, source)
			prefix := filepath.Join(dir, pageBase(in))

			if in.Format == constants.PDF {
				if ext == "bmp" {
					return pipeline.Artifact{}, fmt.Errorf("pdf pages cannot be rendered as bmp")
				}
				out, err := opts.Renderer.RenderPage(ctx, in.Path, in.Page, p.Int("pdf_dpi", 300), ext, prefix)
				if err != nil {
					return pipeline.Artifact{}, err
				}
				return in.Derive(pipeline.KindImage, out), nil
			}

			img, err := loadImage(in.Path)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			out := prefix + "." + ext
			if err := saveImage(out, img); err != nil {
				return pipeline.Artifact{}, err
			}
			return in.Derive(pipeline.KindImage, out), nil
		}),
	}
}
