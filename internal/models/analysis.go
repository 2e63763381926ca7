package models

import (
	"time"
)

// NutriScore grades, A best.
var NutriScores = []string{"A", "B", "C", "D", "E"}

// AnalysisMode tells which prompt path produced a result.
type AnalysisMode string

const (
	ModeCatalog AnalysisMode = "catalog" // barcode resolved through the nutrition database
	ModeVision  AnalysisMode = "vision"  // model reads the label from the attached image
)

// AnalysisResult is the validated, sanitized model verdict.
type AnalysisResult struct {
	NutriScore             string   `json:"nutriScore"`
	AnalysisPoints         []string `json:"analysisPoints"`
	Citations              []string `json:"citations"`
	ProductName            string   `json:"productName,omitempty"`
	Confidence             *float64 `json:"confidence,omitempty"`
	IngredientExplanations []string `json:"ingredients,omitempty"`
}

// ScanRecord is the durable outcome of one completed analysis.
type ScanRecord struct {
	ID                     string       `json:"id"`
	UserID                 string       `json:"user_id"`
	ProductName            string       `json:"product_name"`
	ImageRef               string       `json:"image_ref,omitempty"`
	NutriScore             string       `json:"nutri_score"`
	AnalysisPoints         []string     `json:"analysis_points"`
	Citations              []string     `json:"citations"`
	IngredientExplanations []string     `json:"ingredients,omitempty"`
	Confidence             *float64     `json:"confidence,omitempty"`
	Barcode                string       `json:"barcode,omitempty"`
	Mode                   AnalysisMode `json:"mode"`
	ScannedAt              time.Time    `json:"scanned_at"`
}

// ScanSummary is the short form of a scan used as chat context.
type ScanSummary struct {
	ProductName string    `json:"product_name"`
	NutriScore  string    `json:"nutri_score"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// Summary returns the chat-context view of the record.
func (r *ScanRecord) Summary() ScanSummary {
	return ScanSummary{
		ProductName: r.ProductName,
		NutriScore:  r.NutriScore,
		ScannedAt:   r.ScannedAt,
	}
}
