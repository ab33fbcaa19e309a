package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
)

// TesseractConfig locates the tesseract binary and its data.
type TesseractConfig struct {
	Binary      string // binary name or absolute path; if empty -> "tesseract"
	TessdataDir string
	Lang        string // default "eng"
}

// Tesseract drives the tesseract CLI in TSV mode so word confidences come
// back alongside the text.
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
	logger *slog.Logger
}

// NewTesseract returns a CLI engine. A nil runner uses ExecRunner.
func NewTesseract(cfg TesseractConfig, runner Runner, logger *slog.Logger) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Recognize runs `tesseract <img> stdout ... tsv` and parses the words.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string, opts Options) (Result, error) {
	lang := opts.Lang
	if lang == "" {
		lang = t.cfg.Lang
	}
	args := []string{imagePath, "stdout", "-l", lang}
	if opts.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(opts.PSM))
	}
	if opts.OEM != nil {
		args = append(args, "--oem", strconv.Itoa(*opts.OEM))
	}
	if opts.DPI > 0 {
		args = append(args, "--dpi", strconv.Itoa(opts.DPI))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, t.logger, args...)
	if err != nil {
		return Result{}, fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	words, err := ParseTSV(out)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: textFromWords(words), Words: words, Language: lang}, nil
}

// ParseTSV reads tesseract TSV output and returns word rows in file order.
// Rows without text or with confidence -1 are structural and are dropped.
func ParseTSV(data []byte) ([]Word, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	var words []Word
	for i, ln := range lines {
		if i == 0 && strings.HasPrefix(ln, "level") {
			continue
		}
		if strings.TrimSpace(ln) == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			return nil, fmt.Errorf("tesseract tsv: line %d has %d columns", i+1, len(cols))
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if cols[0] != "5" || text == "" || cols[10] == "-1" {
			continue
		}
		nums := make([]int, 8)
		for j := range nums {
			n, err := strconv.Atoi(cols[j+2])
			if err != nil {
				return nil, fmt.Errorf("tesseract tsv: line %d column %d: %w", i+1, j+3, err)
			}
			nums[j] = n
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return nil, fmt.Errorf("tesseract tsv: line %d conf: %w", i+1, err)
		}
		left, top, width, height := nums[4], nums[5], nums[6], nums[7]
		words = append(words, Word{
			Text:       text,
			Confidence: conf,
			Box:        image.Rect(left, top, left+width, top+height),
			Block:      nums[0],
			Paragraph:  nums[1],
			Line:       nums[2],
		})
	}
	return words, nil
}
