package constants

// Built-in stage types, in their conventional order.
const (
	StageNormalize  = "normalize"
	StagePreprocess = "preprocess"
	StageEnhance    = "enhance"
	StageLayout     = "layout"
	StageOCR        = "ocr"
	StageCleanup    = "cleanup"
	StageFormat     = "format"
)

// Preprocess sub-operations.
const (
	OpGrayscale = "grayscale"
	OpDenoise   = "denoise"
	OpThreshold = "threshold"
	OpDeskew    = "deskew"
)

// Threshold methods.
const (
	ThresholdAdaptiveGaussian = "adaptive_gaussian"
	ThresholdOtsu             = "otsu"
	ThresholdSimple           = "simple"
)

// DefaultLayoutLabels maps layout model class ids to names.
var DefaultLayoutLabels = map[int]string{
	0: "Text",
	1: "Title",
	2: "List",
	3: "Table",
	4: "Figure",
}
