package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// pageOutput is the JSON shape written by the format stage.
type pageOutput struct {
	DocumentID string                 `json:"document_id"`
	Source     string                 `json:"source"`
	Page       int                    `json:"page"`
	Strategy   string                 `json:"strategy,omitempty"`
	Score      float64                `json:"score"`
	Language   string                 `json:"language,omitempty"`
	Text       string                 `json:"text"`
	Tokens     []pipeline.Token       `json:"tokens"`
	Layout     []pipeline.LayoutBlock `json:"layout,omitempty"`
}

// formatContract writes the final per-page output under
// <output_dir>/<document_id>/.
func formatContract(opts Options) pipeline.Contract {
	return pipeline.Contract{
		Input:  pipeline.KindText,
		Output: pipeline.KindOutput,
		Params: pipeline.ParamSpec{"format": pipeline.ParamString},
		Stage: pipeline.StageFunc(func(ctx context.Context, in pipeline.Artifact, p pipeline.StageParams) (pipeline.Artifact, error) {
			if in.OCR == nil {
				return pipeline.Artifact{}, fmt.Errorf("no recognised text on page %d", in.Page)
			}
			docID := common.DocumentIDFromContext(ctx)
			dir := filepath.Join(opts.OutputDir, safeName(docID))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return pipeline.Artifact{}, fmt.Errorf("create %s: %w", dir, err)
			}

			var data []byte
			format := p.String("format", "txt")
			switch format {
			case "txt":
				data = []byte(in.OCR.Text + "\n")
			case "json":
				score, _ := strconv.ParseFloat(in.Meta[pipeline.MetaScore], 64)
				doc := pageOutput{
					DocumentID: docID,
					Source:     in.Meta[pipeline.MetaSource],
					Page:       in.Page,
					Strategy:   in.Meta[pipeline.MetaStrategy],
					Score:      score,
					Language:   in.OCR.Language,
					Text:       in.OCR.Text,
					Tokens:     in.OCR.Tokens,
					Layout:     in.Layout,
				}
				if doc.Tokens == nil {
					doc.Tokens = []pipeline.Token{}
				}
				var err error
				if data, err = json.MarshalIndent(doc, "", "  "); err != nil {
					return pipeline.Artifact{}, err
				}
			default:
				return pipeline.Artifact{}, fmt.Errorf("unsupported output format %q", format)
			}

			path := filepath.Join(dir, pageBase(in)+"."+format)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return pipeline.Artifact{}, fmt.Errorf("write output: %w", err)
			}
			return in.Derive(pipeline.KindOutput, path), nil
		}),
	}
}
