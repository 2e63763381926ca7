package models

import (
	"fmt"
)

// HealthProfile is the consumer snapshot an analysis is personalized against.
type HealthProfile struct {
	Age               int      `json:"age"`
	HeightCM          float64  `json:"height_cm"`
	WeightKG          float64  `json:"weight_kg"`
	MedicalConditions []string `json:"medical_conditions"`

	// Free-text additions from the profile editor
	CustomConditions   []string `json:"custom_conditions,omitempty"`
	HealthGoals        string   `json:"health_goals,omitempty"`
	AdditionalConcerns string   `json:"additional_concerns,omitempty"`
}

// Validate checks the numeric fields are positive.
func (p HealthProfile) Validate() error {
	if p.Age <= 0 {
		return fmt.Errorf("age must be positive, got %d", p.Age)
	}
	if p.HeightCM <= 0 {
		return fmt.Errorf("height must be positive, got %v", p.HeightCM)
	}
	if p.WeightKG <= 0 {
		return fmt.Errorf("weight must be positive, got %v", p.WeightKG)
	}
	return nil
}
