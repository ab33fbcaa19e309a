//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"strconv"

	"github.com/otiai10/gosseract/v2"
)

// Gosseract recognises through libtesseract in-process. Each call uses its
// own client; clients are not safe for concurrent use.
type Gosseract struct {
	TessdataDir string
	Lang        string
}

// NewGosseract returns the in-process engine.
func NewGosseract(tessdataDir, lang string) (*Gosseract, error) {
	if lang == "" {
		lang = "eng"
	}
	return &Gosseract{TessdataDir: tessdataDir, Lang: lang}, nil
}

func (g *Gosseract) Name() string { return "gosseract" }

func (g *Gosseract) Recognize(ctx context.Context, imagePath string, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c := gosseract.NewClient()
	defer c.Close()

	if g.TessdataDir != "" {
		if err := c.SetTessdataPrefix(g.TessdataDir); err != nil {
			return Result{}, fmt.Errorf("set tessdata: %w", err)
		}
	}
	lang := opts.Lang
	if lang == "" {
		lang = g.Lang
	}
	if err := c.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}
	if opts.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(opts.PSM)); err != nil {
			return Result{}, fmt.Errorf("set psm: %w", err)
		}
	}
	if opts.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(opts.DPI)); err != nil {
			return Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	if err := c.SetImage(imagePath); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Result{}, fmt.Errorf("recognize: %w", err)
	}
	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		words = append(words, Word{
			Text:       b.Word,
			Confidence: b.Confidence,
			Box:        b.Box,
			Block:      b.BlockNum,
			Paragraph:  b.ParNum,
			Line:       b.LineNum,
		})
	}
	return Result{Text: textFromWords(words), Words: words, Language: lang}, nil
}
