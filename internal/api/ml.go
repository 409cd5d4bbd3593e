package api

import (
	"context"
	"net/url"
	"strconv"

	"matchgate/internal/gateway"
)

// MatchRequest scores a resume against jobs. Either ResumeText or ResumeID
// identifies the resume.
type MatchRequest struct {
	ResumeID   string   `json:"resume_id,omitempty" validate:"required_without=ResumeText"`
	ResumeText string   `json:"resume_text,omitempty" validate:"required_without=ResumeID,max=100000"`
	JobIDs     []string `json:"job_ids,omitempty" validate:"max=100,dive,required"`
	TopK       int      `json:"top_k,omitempty" validate:"gte=0,lte=100"`
}

// JobMatch is the score of one job.
type JobMatch struct {
	JobID         string   `json:"job_id" validate:"required"`
	Title         string   `json:"title,omitempty"`
	Score         float64  `json:"score" validate:"gte=0,lte=1"`
	MatchedSkills []string `json:"matched_skills,omitempty"`
	MissingSkills []string `json:"missing_skills,omitempty"`
}

// MatchResult lists the matches, best first.
type MatchResult struct {
	Matches []JobMatch `json:"matches" validate:"dive"`
	ModelID string     `json:"model_id,omitempty"`
}

// MarketQuery selects a slice of the job market.
type MarketQuery struct {
	Role     string `json:"role,omitempty" validate:"max=100"`
	Location string `json:"location,omitempty" validate:"max=100"`
	Days     int    `json:"days,omitempty" validate:"gte=0,lte=365"`
}

func (q MarketQuery) values() url.Values {
	v := url.Values{}
	if q.Role != "" {
		v.Set("role", q.Role)
	}
	if q.Location != "" {
		v.Set("location", q.Location)
	}
	if q.Days > 0 {
		v.Set("days", strconv.Itoa(q.Days))
	}
	return v
}

// SkillDemand is how often a skill appears in postings.
type SkillDemand struct {
	Skill string  `json:"skill" validate:"required"`
	Count int     `json:"count" validate:"gte=0"`
	Share float64 `json:"share" validate:"gte=0,lte=1"`
}

// MarketAnalytics summarizes postings in the queried slice.
type MarketAnalytics struct {
	TotalJobs    int            `json:"total_jobs" validate:"gte=0"`
	MedianSalary int            `json:"median_salary,omitempty" validate:"gte=0"`
	RemoteShare  float64        `json:"remote_share" validate:"gte=0,lte=1"`
	TopSkills    []SkillDemand  `json:"top_skills,omitempty" validate:"dive"`
	ByLocation   map[string]int `json:"by_location,omitempty"`
}

// ML is the typed client of the matching service.
type ML struct {
	client *gateway.Client
}

func NewML(client *gateway.Client) *ML {
	return &ML{client: client}
}

func (m *ML) MatchResume(ctx context.Context, req MatchRequest) (MatchResult, error) {
	return gateway.PostJSON[MatchResult](ctx, m.client, "/match", req)
}

func (m *ML) MarketAnalytics(ctx context.Context, q MarketQuery) (MarketAnalytics, error) {
	if err := gateway.Validate(q); err != nil {
		return MarketAnalytics{}, err
	}
	return gateway.GetJSON[MarketAnalytics](ctx, m.client, "/analytics/market", gateway.WithQuery(q.values()))
}
