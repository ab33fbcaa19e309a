package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Renderer rasterises single PDF pages with pdftoppm.
type Renderer struct {
	Binary string // binary name or absolute path; if empty -> "pdftoppm"
	runner Runner
	logger *slog.Logger
}

// NewRenderer returns a pdftoppm renderer. A nil runner uses ExecRunner.
func NewRenderer(binary string, runner Runner, logger *slog.Logger) *Renderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{Binary: binary, runner: runner, logger: logger}
}

// RenderPage writes page (1-based) of pdfPath to outPrefix.<format> and
// returns the written path. format is png, jpeg or tiff.
func (r *Renderer) RenderPage(ctx context.Context, pdfPath string, page, dpi int, format, outPrefix string) (string, error) {
	format = strings.ToLower(format)
	var flag string
	switch format {
	case "png":
		flag = "-png"
	case "jpeg", "jpg":
		format, flag = "jpg", "-jpeg"
	case "tiff", "tif":
		format, flag = "tif", "-tiff"
	default:
		return "", fmt.Errorf("pdftoppm: unsupported output format %q", format)
	}
	if dpi <= 0 {
		dpi = 300
	}
	p := strconv.Itoa(page)
	// pdftoppm -r 300 -f N -l N -png -singlefile <in.pdf> <prefix>
	_, errb, err := r.runner.Run(ctx, r.Binary, r.logger,
		"-r", strconv.Itoa(dpi), "-f", p, "-l", p, flag, "-singlefile", pdfPath, outPrefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	out := outPrefix + "." + format
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("pdftoppm produced no image for page %d: %w", page, err)
	}
	return out, nil
}
