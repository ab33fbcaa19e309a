package ocr

import (
	"context"
	"errors"
	"image"
	"strings"
)

// ErrEngineUnavailable is returned by engines that were not compiled in.
var ErrEngineUnavailable = errors.New("ocr: engine not available in this build")

// Options are the per-call recognition settings.
type Options struct {
	Lang string // tesseract language spec, e.g. "eng" or "eng+deu"
	PSM  int    // page segmentation mode; 0 leaves the engine default
	OEM  *int   // engine mode; nil leaves the engine default, 0 is legacy
	DPI  int    // resolution hint; 0 leaves the engine default
}

// Word is one recognised word.
type Word struct {
	Text       string
	Confidence float64 // 0..100
	Box        image.Rectangle
	Block      int
	Paragraph  int
	Line       int
}

// Result is the output of one recognition call.
type Result struct {
	Text     string
	Words    []Word
	Language string
}

// MeanConfidence returns the mean word confidence, 0 with no words.
func (r Result) MeanConfidence() float64 {
	if len(r.Words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range r.Words {
		sum += w.Confidence
	}
	return sum / float64(len(r.Words))
}

// Engine recognises text in a single image file.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string, opts Options) (Result, error)
}

// textFromWords rebuilds reading-order text, one line per (block, paragraph,
// line) triple and a blank line between blocks.
func textFromWords(words []Word) string {
	var b strings.Builder
	prevBlock, prevPar, prevLine := -1, -1, -1
	for _, w := range words {
		switch {
		case prevBlock == -1:
		case w.Block != prevBlock:
			b.WriteString("\n\n")
		case w.Paragraph != prevPar || w.Line != prevLine:
			b.WriteString("\n")
		default:
			b.WriteString(" ")
		}
		b.WriteString(w.Text)
		prevBlock, prevPar, prevLine = w.Block, w.Paragraph, w.Line
	}
	return b.String()
}
