//go:build !ocr

package ocr

import "context"

// Gosseract is unavailable without the "ocr" build tag; rebuild with
// -tags ocr and libtesseract installed to enable it.
type Gosseract struct{}

// NewGosseract returns ErrEngineUnavailable in this build.
func NewGosseract(tessdataDir, lang string) (*Gosseract, error) {
	return nil, ErrEngineUnavailable
}

func (g *Gosseract) Name() string { return "gosseract" }

func (g *Gosseract) Recognize(ctx context.Context, imagePath string, opts Options) (Result, error) {
	return Result{}, ErrEngineUnavailable
}
