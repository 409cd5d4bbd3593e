package api

import (
	"context"

	"matchgate/internal/gateway"
)

// AnalysisRequest compares a resume with a job description in natural
// language.
type AnalysisRequest struct {
	ResumeText     string `json:"resume_text" validate:"required,max=100000"`
	JobDescription string `json:"job_description" validate:"required,max=50000"`
	Focus          string `json:"focus,omitempty" validate:"omitempty,oneof=skills experience gaps overall"`
}

// Analysis is the LLM service's verdict.
type Analysis struct {
	Score           int      `json:"score" validate:"gte=0,lte=100"`
	Summary         string   `json:"summary" validate:"required"`
	Strengths       []string `json:"strengths,omitempty"`
	Gaps            []string `json:"gaps,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Model           string   `json:"model,omitempty"`
}

// LLM is the typed client of the analysis service. Calls are slow; its
// descriptor carries the longest timeout.
type LLM struct {
	client *gateway.Client
}

func NewLLM(client *gateway.Client) *LLM {
	return &LLM{client: client}
}

func (l *LLM) AnalyzeResume(ctx context.Context, req AnalysisRequest) (Analysis, error) {
	return gateway.PostJSON[Analysis](ctx, l.client, "/analyze", req)
}
