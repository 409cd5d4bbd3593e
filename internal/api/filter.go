// Package api exposes typed calls on top of the gateway clients for the core,
// ML and LLM services. Request and response payloads are validated with
// struct tags.
package api

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination selects one page of a listing. Pages are 1-based.
type Pagination struct {
	Page     int `json:"page" validate:"gte=0"`
	PageSize int `json:"page_size" validate:"gte=0"`
}

// Normalize clamps the page to at least 1 and the page size into
// [1, MaxPageSize], using DefaultPageSize when unset.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.PageSize <= 0:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the index of the first item on the page.
func (p Pagination) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Query          string   `json:"query,omitempty" validate:"max=200"`
	Location       string   `json:"location,omitempty" validate:"max=100"`
	Remote         *bool    `json:"remote,omitempty"`
	EmploymentType string   `json:"employment_type,omitempty" validate:"omitempty,oneof=full_time part_time contract internship"`
	Skills         []string `json:"skills,omitempty" validate:"max=20,dive,required"`
	MinSalary      int      `json:"min_salary,omitempty" validate:"gte=0"`
	Source         string   `json:"source,omitempty"`
	SortBy         string   `json:"sort_by,omitempty" validate:"omitempty,oneof=posted_at salary relevance"`
	Pagination
}

// Values encodes the filter as query parameters. Empty fields are omitted;
// pagination is always present.
func (f JobFilter) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			v.Set(key, value)
		}
	}

	set("q", f.Query)
	set("location", f.Location)
	set("employment_type", f.EmploymentType)
	set("source", f.Source)
	set("sort_by", f.SortBy)
	if f.Remote != nil {
		v.Set("remote", strconv.FormatBool(*f.Remote))
	}
	for _, skill := range f.Skills {
		if skill = strings.TrimSpace(skill); skill != "" {
			v.Add("skills", skill)
		}
	}
	if f.MinSalary > 0 {
		v.Set("min_salary", strconv.Itoa(f.MinSalary))
	}

	page := f.Pagination.Normalize()
	v.Set("page", strconv.Itoa(page.Page))
	v.Set("page_size", strconv.Itoa(page.PageSize))
	return v
}
