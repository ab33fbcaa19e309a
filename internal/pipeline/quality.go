package pipeline

import "fmt"

// Metric selects how an OCR result is scored.
type Metric string

const (
	// MetricMeanConfidence scores the mean token confidence.
	MetricMeanConfidence Metric = "mean_confidence"
	// MetricLowConfidenceRatio scores 1 - low/total, scaled to the score range.
	MetricLowConfidenceRatio Metric = "low_confidence_ratio"
)

// Score bounds. Scores are comparable across metrics.
const (
	MinScore = 0.0
	MaxScore = 100.0

	DefaultLowTokenConfidence = 60.0
)

// Score is the evaluator's verdict on one OCR result.
type Score struct {
	Value     float64
	Tokens    int
	LowTokens int
}

// QualityEvaluator scores OCR results. It is pure and safe for concurrent use.
type QualityEvaluator struct {
	metric       Metric
	lowThreshold float64
}

// NewQualityEvaluator validates the metric and returns an evaluator. A
// lowThreshold of zero uses DefaultLowTokenConfidence.
func NewQualityEvaluator(metric Metric, lowThreshold float64) (*QualityEvaluator, error) {
	switch metric {
	case "":
		metric = MetricMeanConfidence
	case MetricMeanConfidence, MetricLowConfidenceRatio:
	default:
		return nil, fmt.Errorf("pipeline: unknown quality metric %q", metric)
	}
	if lowThreshold <= 0 {
		lowThreshold = DefaultLowTokenConfidence
	}
	return &QualityEvaluator{metric: metric, lowThreshold: lowThreshold}, nil
}

// Metric reports the configured metric.
func (q *QualityEvaluator) Metric() Metric { return q.metric }

// Score rates r. A nil result or one without tokens scores MinScore.
func (q *QualityEvaluator) Score(r *OCRResult) Score {
	if r == nil || len(r.Tokens) == 0 {
		return Score{Value: MinScore}
	}
	var sum float64
	low := 0
	for _, t := range r.Tokens {
		c := clamp(t.Confidence)
		sum += c
		if c < q.lowThreshold {
			low++
		}
	}
	n := len(r.Tokens)
	s := Score{Tokens: n, LowTokens: low}
	switch q.metric {
	case MetricLowConfidenceRatio:
		s.Value = MaxScore * (1 - float64(low)/float64(n))
	default:
		s.Value = sum / float64(n)
	}
	s.Value = clamp(s.Value)
	return s
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
