package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// Detection is a raw model output before label mapping.
type Detection struct {
	Box   image.Rectangle
	Class int
	Score float64
}

// LayoutModel detects regions on a page image. Implementations must be safe
// for concurrent use; one instance serves every worker.
type LayoutModel interface {
	Detect(ctx context.Context, img *image.Gray) ([]Detection, error)
}

// layoutContract runs the shared layout model and attaches the detected
// blocks to the page. The image passes through unchanged so OCR can consume
// it directly.
func layoutContract(opts Options) pipeline.Contract {
	model := pipeline.NewModelHandle(opts.LoadLayoutModel, nil)
	return pipeline.Contract{
		Input:        pipeline.KindImage,
		Output:       pipeline.KindImage,
		Params:       pipeline.ParamSpec{"min_score": pipeline.ParamFloat, "visualize": pipeline.ParamBool},
		Capabilities: []io.Closer{model},
		Stage: pipeline.StageFunc(func(ctx context.Context, in pipeline.Artifact, p pipeline.StageParams) (pipeline.Artifact, error) {
			m, err := model.Acquire(ctx)
			if err != nil {
				return pipeline.Artifact{}, fmt.Errorf("load layout model: %w", err)
			}
			defer model.Release()

			src, err := loadImage(in.Path)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			dets, err := m.Detect(ctx, toGray(src))
			if err != nil {
				return pipeline.Artifact{}, fmt.Errorf("detect layout: %w", err)
			}
			minScore := p.Float("min_score", 0)
			blocks := make([]pipeline.LayoutBlock, 0, len(dets))
			for _, d := range dets {
				if d.Score < minScore {
					continue
				}
				label, ok := constants.DefaultLayoutLabels[d.Class]
				if !ok {
					label = fmt.Sprintf("class_%d", d.Class)
				}
				blocks = append(blocks, pipeline.LayoutBlock{
					Box:   [4]int{d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y},
					Type:  label,
					Score: d.Score,
				})
			}

			dir, err := outDir(ctx, opts, constants.StageLayout)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			path := filepath.Join(dir, pageBase(in)+".layout.json")
			data, err := json.MarshalIndent(blocks, "", "  ")
			if err != nil {
				return pipeline.Artifact{}, err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return pipeline.Artifact{}, fmt.Errorf("write layout: %w", err)
			}
			out := in.WithMeta(pipeline.MetaLayout, path)
			out.Layout = blocks
			if p.Bool("visualize", false) {
				overlay := filepath.Join(dir, pageBase(in)+".layout.png")
				if err := saveImage(overlay, drawLayout(src, blocks)); err != nil {
					return pipeline.Artifact{}, fmt.Errorf("write layout overlay: %w", err)
				}
				out = out.WithMeta(pipeline.MetaLayoutOverlay, overlay)
			}
			return out, nil
		}),
	}
}

var layoutColors = map[string]color.RGBA{
	"Text":   {R: 0, G: 160, B: 0, A: 255},
	"Title":  {R: 220, G: 0, B: 0, A: 255},
	"List":   {R: 0, G: 0, B: 220, A: 255},
	"Table":  {R: 230, G: 140, B: 0, A: 255},
	"Figure": {R: 160, G: 0, B: 160, A: 255},
}

// drawLayout paints each block's outline and label over a copy of the page.
func drawLayout(src image.Image, blocks []pipeline.LayoutBlock) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	face := basicfont.Face7x13
	for _, blk := range blocks {
		c, ok := layoutColors[blk.Type]
		if !ok {
			c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
		}
		r := image.Rect(blk.Box[0], blk.Box[1], blk.Box[2], blk.Box[3]).Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		fill := &image.Uniform{C: c}
		const stroke = 2
		for _, edge := range []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke),
			image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y),
			image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y),
		} {
			draw.Draw(dst, edge.Intersect(r), fill, image.Point{}, draw.Src)
		}
		// label sits above the box, or inside it at the top of the page
		baseline := r.Min.Y - 3
		if baseline < face.Ascent {
			baseline = r.Min.Y + face.Ascent + stroke
		}
		d := font.Drawer{
			Dst:  dst,
			Src:  fill,
			Face: face,
			Dot:  fixed.P(r.Min.X+stroke, baseline),
		}
		d.DrawString(fmt.Sprintf("%s %.2f", blk.Type, blk.Score))
	}
	return dst
}

// ProjectionModel finds text blocks from horizontal ink projections: rows
// with ink separated by gaps of at least MinGap blank rows form one block.
type ProjectionModel struct {
	MinGap int
}

// NewProjectionModel returns the default detector.
func NewProjectionModel() *ProjectionModel {
	return &ProjectionModel{MinGap: 12}
}

func (m *ProjectionModel) Detect(ctx context.Context, img *image.Gray) ([]Detection, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}
	level := otsuLevel(img)
	dark := func(x, y int) bool { return img.Pix[y*img.Stride+x] <= level }
	rowInk := make([]int, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if dark(x, y) {
				rowInk[y]++
			}
		}
	}

	var dets []Detection
	var densities []float64
	for y := 0; y < h; {
		if rowInk[y] == 0 {
			y++
			continue
		}
		start, gap := y, 0
		end := y
		for y < h && gap < m.MinGap {
			if rowInk[y] > 0 {
				end, gap = y, 0
			} else {
				gap++
			}
			y++
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		minX, maxX, ink := w, -1, 0
		for yy := start; yy <= end; yy++ {
			for x := 0; x < w; x++ {
				if dark(x, yy) {
					ink++
					minX = min(minX, x)
					maxX = max(maxX, x)
				}
			}
		}
		box := image.Rect(minX, start, maxX+1, end+1)
		density := float64(ink) / float64(box.Dx()*box.Dy())
		dets = append(dets, Detection{Box: box, Class: classText, Score: blockScore(density)})
		densities = append(densities, density)
	}
	classify(dets, densities, w)
	return dets, nil
}

const (
	classText   = 0
	classTitle  = 1
	classTable  = 3
	classFigure = 4
)

// classify relabels blocks: a solid block is a figure, a full-width block
// much taller than the median is a table, and a narrow leading block above
// more text is a title.
func classify(dets []Detection, densities []float64, pageWidth int) {
	if len(dets) == 0 {
		return
	}
	heights := make([]int, len(dets))
	for i, d := range dets {
		heights[i] = d.Box.Dy()
	}
	slices.Sort(heights)
	median := heights[len(heights)/2]
	for i := range dets {
		box := dets[i].Box
		switch {
		case densities[i] >= 0.6:
			dets[i].Class = classFigure
		case box.Dx() > pageWidth*9/10 && box.Dy() > 4*median:
			dets[i].Class = classTable
		case i == 0 && len(dets) > 1 && box.Dx() < pageWidth/2:
			dets[i].Class = classTitle
		}
	}
}

// blockScore maps ink density to a confidence; text sits around 0.1-0.4.
func blockScore(density float64) float64 {
	switch {
	case density <= 0:
		return 0
	case density >= 0.6:
		return 0.95
	default:
		return 0.5 + density*0.75
	}
}
