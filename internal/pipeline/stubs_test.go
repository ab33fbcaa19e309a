package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/scanflow/internal/common"
)

const retryPipelineYAML = `
stages:
  - name: normalize
    params: {dpi: 300}
  - name: preprocess
    params: {mode: base}
    ops:
      - {type: threshold, enabled: true, params: {method: adaptive_gaussian, block_size: 11}}
  - name: ocr
    params: {psm: 3}
  - name: format
quality:
  threshold: 85
retry:
  from: preprocess
  to: ocr
  max_attempts: 2
  strategies:
    - name: aggressive_binarization
      overrides: {preprocess: {mode: aggressive}}
    - name: assume_sparse_text
      overrides: {ocr: {psm: 11}}
`

// stubStages provides counting stand-ins for the real stage bodies. The OCR
// stub emits tokens whose confidence comes from scores[mode/psm].
type stubStages struct {
	mu     sync.Mutex
	calls  map[string]int
	scores map[string]float64

	failNormalize func(page int) bool
	delay         func(path string) time.Duration
	onNormalize   func()
	// writeFiles makes normalize and preprocess materialize their output in
	// the phase directories carried by ctx, like the real stages do.
	writeFiles bool

	live atomic.Int64
	peak atomic.Int64
}

func newStubStages(scores map[string]float64) *stubStages {
	return &stubStages{calls: map[string]int{}, scores: scores}
}

func (s *stubStages) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func (s *stubStages) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubStages) enter() {
	n := s.live.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (s *stubStages) registry() *Registry {
	reg := NewRegistry()
	reg.MustRegister("normalize", Contract{
		Input:  KindSource,
		Output: KindImage,
		Params: ParamSpec{"dpi": ParamInt},
		Stage: StageFunc(func(ctx context.Context, in Artifact, p StageParams) (Artifact, error) {
			s.count("normalize")
			s.enter()
			defer s.live.Add(-1)
			if s.delay != nil {
				time.Sleep(s.delay(in.Path))
			}
			if s.onNormalize != nil {
				s.onNormalize()
			}
			if s.failNormalize != nil && s.failNormalize(in.Page) {
				return Artifact{}, fmt.Errorf("render page %d: corrupt stream", in.Page)
			}
			out := in.Derive(KindImage, fmt.Sprintf("%s#p%d", in.Path, in.Page))
			if s.writeFiles {
				path, err := writeScratch(common.WorkDirFromContext(ctx), "page.png")
				if err != nil {
					return Artifact{}, err
				}
				out.Path = path
			}
			return out, nil
		}),
	})
	reg.MustRegister("preprocess", Contract{
		Input:  KindImage,
		Output: KindImage,
		Params: ParamSpec{"mode": ParamString},
		Ops:    map[string]ParamSpec{"threshold": {"method": ParamString, "block_size": ParamInt}},
		Stage: StageFunc(func(ctx context.Context, in Artifact, p StageParams) (Artifact, error) {
			s.count("preprocess")
			mode := p.String("mode", "base")
			out := in.Derive(KindImage, in.Path+"/"+mode)
			if s.writeFiles {
				if _, err := os.Stat(in.Path); err != nil {
					return Artifact{}, err
				}
				path, err := writeScratch(common.WorkDirFromContext(ctx), mode+".png")
				if err != nil {
					return Artifact{}, err
				}
				if dir := common.IntermediateDirFromContext(ctx); dir != "" {
					if _, err := writeScratch(dir, mode+"_threshold.png"); err != nil {
						return Artifact{}, err
					}
				}
				out.Path = path
			}
			return out.WithMeta("mode", mode), nil
		}),
	})
	reg.MustRegister("ocr", Contract{
		Input:  KindImage,
		Output: KindText,
		Params: ParamSpec{"psm": ParamInt},
		Stage: StageFunc(func(ctx context.Context, in Artifact, p StageParams) (Artifact, error) {
			s.count("ocr")
			key := fmt.Sprintf("%s/%d", in.Meta["mode"], p.Int("psm", 3))
			score, ok := s.scores[key]
			if !ok {
				return Artifact{}, fmt.Errorf("no score for %s", key)
			}
			out := in.Derive(KindText, fmt.Sprintf("%s/psm%d", in.Path, p.Int("psm", 3)))
			out.OCR = &OCRResult{Text: "a b c d", Tokens: []Token{
				{Text: "a", Confidence: score}, {Text: "b", Confidence: score},
				{Text: "c", Confidence: score}, {Text: "d", Confidence: score},
			}}
			return out, nil
		}),
	})
	reg.MustRegister("format", Contract{
		Input:  KindText,
		Output: KindOutput,
		Stage: StageFunc(func(ctx context.Context, in Artifact, p StageParams) (Artifact, error) {
			s.count("format")
			return in.Derive(KindOutput, "out:"+in.Path), nil
		}),
	})
	return reg
}

func writeScratch(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, []byte(name), 0o644)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustSpec(t *testing.T, yamlDoc string, reg *Registry) *PipelineSpec {
	t.Helper()
	spec, err := ParseSpecYAML([]byte(yamlDoc), reg)
	if err != nil {
		t.Fatalf("ParseSpecYAML: %v", err)
	}
	return spec
}

func mustExecutor(t *testing.T, spec *PipelineSpec, opts ...ExecutorOption) *DocumentExecutor {
	t.Helper()
	exec, err := NewDocumentExecutor(spec, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("NewDocumentExecutor: %v", err)
	}
	return exec
}

func imageDoc(id string) Document {
	return Document{ID: id, Path: "/in/" + id + ".png", Format: "IMAGE", Pages: []int{1}}
}

func withMaxAttempts(doc string, n int) string {
	return strings.Replace(doc, "max_attempts: 2", fmt.Sprintf("max_attempts: %d", n), 1)
}
