package pipeline

import "maps"

// Kind describes what an artifact holds.
type Kind string

const (
	KindAny    Kind = "any"
	KindSource Kind = "source"
	KindImage  Kind = "image"
	KindText   Kind = "text"
	KindOutput Kind = "output"
)

// Well-known Meta keys.
const (
	MetaSource   = "source"   // base name of the source document, without extension
	MetaStrategy = "strategy" // attempt that produced the artifact
	MetaScore    = "score"    // quality score of that attempt
	MetaLayout   = "layout"   // path of the layout JSON written for the page

	MetaLayoutOverlay = "layout_overlay" // path of the box overlay image, when requested
)

// Token is one recognised word with its engine confidence in 0..100.
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// OCRResult is the structured output of a recognition stage.
type OCRResult struct {
	Text     string  `json:"text"`
	Tokens   []Token `json:"tokens"`
	Language string  `json:"language,omitempty"`
}

// LayoutBlock is one detected region, box as [x1, y1, x2, y2].
type LayoutBlock struct {
	Box   [4]int  `json:"box"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// Artifact is the opaque handle stages pass to each other. Stages treat
// artifacts as values: they return a new one rather than mutating their input.
type Artifact struct {
	Kind   Kind
	Path   string
	Page   int
	Format string // source format of the owning document (PDF | IMAGE)
	OCR    *OCRResult
	Layout []LayoutBlock
	Meta   map[string]string
}

// Derive returns a copy of a that keeps page identity and carried results,
// with a new kind and path.
func (a Artifact) Derive(kind Kind, path string) Artifact {
	out := a
	out.Kind = kind
	out.Path = path
	out.Meta = maps.Clone(a.Meta)
	return out
}

// WithMeta returns a copy of a with key set to value.
func (a Artifact) WithMeta(key, value string) Artifact {
	out := a
	out.Meta = maps.Clone(a.Meta)
	if out.Meta == nil {
		out.Meta = map[string]string{}
	}
	out.Meta[key] = value
	return out
}
