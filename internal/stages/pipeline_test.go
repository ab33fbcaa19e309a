package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

const defaultPipelineYAML = `
stages:
  - {name: normalize, params: {output_format: png}}
  - name: preprocess
    ops:
      - {type: grayscale, enabled: true}
      - {type: denoise, enabled: true, params: {kernel_size: 3}}
      - {type: threshold, enabled: true, params: {method: adaptive_gaussian, block_size: 11, c: 2}}
      - {type: deskew, enabled: false}
  - {name: enhance, enabled: false, optional: true, params: {scale: 2.0}}
  - {name: layout, optional: true}
  - {name: ocr, params: {lang: eng, psm: 3}}
  - name: cleanup
  - {name: format, params: {format: json}}
quality: {threshold: 85}
retry:
  from: preprocess
  to: ocr
  strategies:
    - {name: aggressive_binarization, overrides: {preprocess: {threshold: {method: otsu}}}}
    - {name: assume_sparse_text, overrides: {ocr: {psm: 11}}}
`

func TestDefaultStagesEndToEnd(t *testing.T) {
	engine := &fakeEngine{conf: map[int]float64{3: 60, 11: 92}}
	opts := testOptions(t, engine)
	reg := testRegistry(t, opts)
	reg.Seal()
	spec, err := pipeline.ParseSpecYAML([]byte(defaultPipelineYAML), reg)
	if err != nil {
		t.Fatalf("ParseSpecYAML: %v", err)
	}
	work := t.TempDir()
	exec, err := pipeline.NewDocumentExecutor(spec, discardLogger(), pipeline.WithWorkDir(work))
	if err != nil {
		t.Fatalf("NewDocumentExecutor: %v", err)
	}

	src := filepath.Join(t.TempDir(), "receipt.png")
	writeImage(t, src, barsImage(160, 200))
	doc := pipeline.Document{ID: "doc-7", Path: src, Format: constants.IMAGE, Pages: []int{1}}
	res, err := exec.Execute(context.Background(), doc, spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	page := res.Pages[0]
	if page.StatusLabel() != "passed-after-retry:assume_sparse_text" {
		t.Fatalf("unexpected status %q (err=%v)", page.StatusLabel(), page.Err)
	}
	if len(engine.calls) != 3 {
		t.Fatalf("expected initial plus two retries, engine ran %d times", len(engine.calls))
	}
	want := filepath.Join(opts.OutputDir, "doc-7", "receipt_page_1.json")
	if page.Output != want {
		t.Fatalf("unexpected output %s", page.Output)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), `"strategy": "assume_sparse_text"`) {
		t.Fatalf("output should record the winning strategy: %s", data)
	}
	for _, loser := range []string{constants.InitialStrategy, "aggressive_binarization"} {
		if _, err := os.Stat(filepath.Join(work, "doc-7", "page-0001", loser)); !os.IsNotExist(err) {
			t.Fatalf("losing attempt %s left artifacts behind", loser)
		}
	}
}
