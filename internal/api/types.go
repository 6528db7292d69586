package api

import "github.com/samcharles93/beamstep/internal/translate"

type TranslationRequest struct {
	Sources  []string `json:"sources"`
	NBest    *int     `json:"n_best,omitempty"`
	BeamSize *int     `json:"beam_size,omitempty"`
}

type TranslationUsage struct {
	Sentences       int     `json:"sentences"`
	TokensGenerated int     `json:"tokens_generated"`
	DurationMS      int64   `json:"duration_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

type TranslationResponse struct {
	ID        string               `json:"id"`
	Object    string               `json:"object"`
	CreatedAt int64                `json:"created_at"`
	Results   []translate.Response `json:"results"`
	Usage     TranslationUsage     `json:"usage"`
}

type DeleteTranslationResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Translations int    `json:"translations"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
