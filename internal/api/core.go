package api

import (
	"context"
	"net/url"
	"path/filepath"
	"time"

	"matchgate/internal/gateway"
	"matchgate/internal/utils"
)

// Job is one listing from the core API.
type Job struct {
	ID             string    `json:"id" validate:"required"`
	Title          string    `json:"title" validate:"required"`
	Company        string    `json:"company"`
	Location       string    `json:"location,omitempty"`
	Remote         bool      `json:"remote"`
	EmploymentType string    `json:"employment_type,omitempty"`
	Description    string    `json:"description,omitempty"`
	Skills         []string  `json:"skills,omitempty"`
	SalaryMin      int       `json:"salary_min,omitempty"`
	SalaryMax      int       `json:"salary_max,omitempty"`
	URL            string    `json:"url,omitempty" validate:"omitempty,url"`
	Source         string    `json:"source,omitempty"`
	PostedAt       time.Time `json:"posted_at,omitzero"`
}

// JobList is one page of jobs.
type JobList struct {
	Jobs  []Job `json:"jobs" validate:"dive"`
	Total int   `json:"total" validate:"gte=0"`
}

// ScrapeRequest asks the core API to pull fresh listings from job boards.
type ScrapeRequest struct {
	Query    string   `json:"query" validate:"required,max=200"`
	Location string   `json:"location,omitempty"`
	Sources  []string `json:"sources,omitempty" validate:"dive,required"`
	Limit    int      `json:"limit,omitempty" validate:"gte=0,lte=500"`
}

// ScrapeResult reports what a scrape produced.
type ScrapeResult struct {
	TaskID  string `json:"task_id,omitempty"`
	Status  string `json:"status" validate:"required"`
	Scraped int    `json:"scraped"`
	New     int    `json:"new"`
}

// Profile is the signed-in user.
type Profile struct {
	ID        string    `json:"id" validate:"required"`
	Email     string    `json:"email" validate:"required,email"`
	FullName  string    `json:"full_name,omitempty"`
	Headline  string    `json:"headline,omitempty"`
	Location  string    `json:"location,omitempty"`
	Skills    []string  `json:"skills,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// ProfileUpdate changes editable profile fields. Nil fields are left alone.
type ProfileUpdate struct {
	FullName *string  `json:"full_name,omitempty" validate:"omitempty,max=200"`
	Headline *string  `json:"headline,omitempty" validate:"omitempty,max=300"`
	Location *string  `json:"location,omitempty" validate:"omitempty,max=100"`
	Skills   []string `json:"skills,omitempty" validate:"max=50,dive,required"`
}

// Settings are per-user preferences.
type Settings struct {
	EmailNotifications bool     `json:"email_notifications"`
	JobAlerts          bool     `json:"job_alerts"`
	AlertFrequency     string   `json:"alert_frequency,omitempty" validate:"omitempty,oneof=daily weekly never"`
	PreferredLocations []string `json:"preferred_locations,omitempty"`
	Theme              string   `json:"theme,omitempty" validate:"omitempty,oneof=light dark system"`
}

// Stats are dashboard counters.
type Stats struct {
	TotalJobs     int       `json:"total_jobs" validate:"gte=0"`
	NewJobsToday  int       `json:"new_jobs_today" validate:"gte=0"`
	ResumeCount   int       `json:"resume_count" validate:"gte=0"`
	AnalysisCount int       `json:"analysis_count" validate:"gte=0"`
	AverageScore  float64   `json:"average_match_score" validate:"gte=0,lte=100"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

// Resume is an uploaded resume.
type Resume struct {
	ID          string    `json:"id" validate:"required"`
	Filename    string    `json:"filename" validate:"required"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size,omitempty" validate:"gte=0"`
	UploadedAt  time.Time `json:"uploaded_at,omitzero"`
}

// ResumeList is the user's resumes.
type ResumeList struct {
	Resumes []Resume `json:"resumes" validate:"dive"`
	Total   int      `json:"total" validate:"gte=0"`
}

// Core is the typed client of the core API.
type Core struct {
	client *gateway.Client
}

func NewCore(client *gateway.Client) *Core {
	return &Core{client: client}
}

// ListJobs returns one page of jobs matching filter.
func (c *Core) ListJobs(ctx context.Context, filter JobFilter) (JobList, error) {
	if err := gateway.Validate(filter); err != nil {
		return JobList{}, err
	}
	return gateway.GetJSON[JobList](ctx, c.client, "/jobs", gateway.WithQuery(filter.Values()))
}

func (c *Core) GetJob(ctx context.Context, id string) (Job, error) {
	if id == "" {
		return Job{}, &gateway.APIError{Kind: gateway.KindValidation, Service: c.client.Name(), Detail: "job id is required"}
	}
	return gateway.GetJSON[Job](ctx, c.client, "/jobs/"+url.PathEscape(id))
}

// ScrapeJobs starts a scrape. The core API rate limits this endpoint hard;
// callers should honor RetryAfter on a RateLimited error.
func (c *Core) ScrapeJobs(ctx context.Context, req ScrapeRequest) (ScrapeResult, error) {
	return gateway.PostJSON[ScrapeResult](ctx, c.client, "/jobs/scrape", req)
}

func (c *Core) GetProfile(ctx context.Context) (Profile, error) {
	return gateway.GetJSON[Profile](ctx, c.client, "/users/me")
}

func (c *Core) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	return gateway.PutJSON[Profile](ctx, c.client, "/users/me", update)
}

func (c *Core) GetSettings(ctx context.Context) (Settings, error) {
	return gateway.GetJSON[Settings](ctx, c.client, "/users/me/settings")
}

func (c *Core) UpdateSettings(ctx context.Context, settings Settings) (Settings, error) {
	return gateway.PutJSON[Settings](ctx, c.client, "/users/me/settings", settings)
}

func (c *Core) GetStats(ctx context.Context) (Stats, error) {
	return gateway.GetJSON[Stats](ctx, c.client, "/stats")
}

// UploadResume sends a resume file as multipart form data.
func (c *Core) UploadResume(ctx context.Context, filename string, content []byte) (Resume, error) {
	if len(content) == 0 {
		return Resume{}, &gateway.APIError{Kind: gateway.KindValidation, Service: c.client.Name(), Detail: "resume file is empty"}
	}
	contentType, err := utils.ResumeContentType(filename)
	if err != nil {
		return Resume{}, &gateway.APIError{Kind: gateway.KindValidation, Service: c.client.Name(), Detail: err.Error()}
	}

	body := &gateway.Multipart{
		Files: []gateway.File{{
			Field:       "file",
			Name:        filepath.Base(filename),
			ContentType: contentType,
			Content:     content,
		}},
	}
	return gateway.PostJSON[Resume](ctx, c.client, "/resumes/upload", body)
}

func (c *Core) ListResumes(ctx context.Context) (ResumeList, error) {
	return gateway.GetJSON[ResumeList](ctx, c.client, "/resumes")
}
