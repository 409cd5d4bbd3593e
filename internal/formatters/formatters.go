package formatters

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"matchgate/internal/api"

	"gopkg.in/yaml.v3"
)

// Formatter interface for different output formats
type Formatter interface {
	Format(data any) (string, error)
	SupportedType() string
}

// FormatterRegistry manages all available formatters
type FormatterRegistry struct {
	formatters map[string]map[string]Formatter // format -> type -> formatter
}

// NewFormatterRegistry creates a new formatter registry with default formatters
func NewFormatterRegistry() *FormatterRegistry {
	registry := &FormatterRegistry{
		formatters: make(map[string]map[string]Formatter),
	}

	registry.RegisterFormatter("json", "any", &JSONFormatter{})
	registry.RegisterFormatter("yaml", "any", &YAMLFormatter{})
	registry.RegisterFormatter("text", "any", &TextFormatter{})
	registry.RegisterFormatter("text", "JobList", &JobListTextFormatter{})
	registry.RegisterFormatter("text", "MatchResult", &MatchTextFormatter{})
	registry.RegisterFormatter("text", "Analysis", &AnalysisTextFormatter{})
	registry.RegisterFormatter("text", "MarketAnalytics", &MarketTextFormatter{})

	return registry
}

// RegisterFormatter registers a new formatter for a specific format and data type
func (fr *FormatterRegistry) RegisterFormatter(format, dataType string, formatter Formatter) {
	if fr.formatters[format] == nil {
		fr.formatters[format] = make(map[string]Formatter)
	}
	fr.formatters[format][dataType] = formatter
}

// Format formats data using the appropriate formatter
func (fr *FormatterRegistry) Format(data any, format string) (string, error) {
	dataType := getDataType(data)

	if formatters, exists := fr.formatters[format]; exists {
		if formatter, exists := formatters[dataType]; exists {
			return formatter.Format(data)
		}
		if formatter, exists := formatters["any"]; exists {
			return formatter.Format(data)
		}
	}

	return "", fmt.Errorf("no formatter found for format '%s' and type '%s'", format, dataType)
}

// GetSupportedFormats returns all supported formats, sorted
func (fr *FormatterRegistry) GetSupportedFormats() []string {
	formats := make([]string, 0, len(fr.formatters))
	for format := range fr.formatters {
		formats = append(formats, format)
	}
	slices.Sort(formats)
	return formats
}

func getDataType(data any) string {
	switch data.(type) {
	case api.JobList:
		return "JobList"
	case api.MatchResult:
		return "MatchResult"
	case api.Analysis:
		return "Analysis"
	case api.MarketAnalytics:
		return "MarketAnalytics"
	default:
		return "any"
	}
}

// JSONFormatter handles JSON formatting for any data type
type JSONFormatter struct{}

func (jf *JSONFormatter) Format(data any) (string, error) {
	if raw, ok := data.(json.RawMessage); ok {
		data = generic(raw)
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData) + "\n", nil
}

func (jf *JSONFormatter) SupportedType() string {
	return "any"
}

// YAMLFormatter renders data as YAML. Values go through JSON first so keys
// follow the json tags.
type YAMLFormatter struct{}

func (yf *YAMLFormatter) Format(data any) (string, error) {
	plain, err := toPlain(data)
	if err != nil {
		return "", err
	}
	out, err := yaml.Marshal(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (yf *YAMLFormatter) SupportedType() string {
	return "any"
}

// TextFormatter prints flat key: value lines, falling back to YAML for
// nested values.
type TextFormatter struct{}

func (tf *TextFormatter) Format(data any) (string, error) {
	plain, err := toPlain(data)
	if err != nil {
		return "", err
	}
	m, ok := plain.(map[string]any)
	if !ok {
		return (&YAMLFormatter{}).Format(plain)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var output strings.Builder
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any, []any:
			nested, err := yaml.Marshal(v)
			if err != nil {
				return "", err
			}
			output.WriteString(k + ":\n")
			for line := range strings.SplitSeq(strings.TrimRight(string(nested), "\n"), "\n") {
				output.WriteString("  " + line + "\n")
			}
		default:
			output.WriteString(fmt.Sprintf("%s: %v\n", k, v))
		}
	}
	return output.String(), nil
}

func (tf *TextFormatter) SupportedType() string {
	return "any"
}

// JobListTextFormatter prints one line per job
type JobListTextFormatter struct{}

func (f *JobListTextFormatter) Format(data any) (string, error) {
	result, ok := data.(api.JobList)
	if !ok {
		return "", fmt.Errorf("expected JobList, got %T", data)
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("=== JOBS (%d of %d) ===\n\n", len(result.Jobs), result.Total))
	if len(result.Jobs) == 0 {
		output.WriteString("No jobs match the filter.\n")
		return output.String(), nil
	}
	for i, job := range result.Jobs {
		output.WriteString(fmt.Sprintf("%d. %s", i+1, job.Title))
		if job.Company != "" {
			output.WriteString(" at " + job.Company)
		}
		if job.Location != "" {
			output.WriteString(" (" + job.Location + ")")
		}
		if job.Remote {
			output.WriteString(" [remote]")
		}
		output.WriteString("\n")
		output.WriteString(fmt.Sprintf("   id: %s", job.ID))
		if job.SalaryMin > 0 || job.SalaryMax > 0 {
			output.WriteString(fmt.Sprintf("  salary: %d-%d", job.SalaryMin, job.SalaryMax))
		}
		output.WriteString("\n")
		if len(job.Skills) > 0 {
			output.WriteString("   skills: " + strings.Join(job.Skills, ", ") + "\n")
		}
	}
	return output.String(), nil
}

func (f *JobListTextFormatter) SupportedType() string {
	return "JobList"
}

// MatchTextFormatter handles text formatting for match results
type MatchTextFormatter struct{}

func (f *MatchTextFormatter) Format(data any) (string, error) {
	result, ok := data.(api.MatchResult)
	if !ok {
		return "", fmt.Errorf("expected MatchResult, got %T", data)
	}

	var output strings.Builder
	output.WriteString("=== RESUME MATCHES ===\n\n")
	if len(result.Matches) == 0 {
		output.WriteString("No matching jobs.\n")
		return output.String(), nil
	}
	for i, m := range result.Matches {
		title := m.Title
		if title == "" {
			title = m.JobID
		}
		output.WriteString(fmt.Sprintf("%d. %s  %.0f%%\n", i+1, title, m.Score*100))
		if len(m.MatchedSkills) > 0 {
			output.WriteString("   matched: " + strings.Join(m.MatchedSkills, ", ") + "\n")
		}
		if len(m.MissingSkills) > 0 {
			output.WriteString("   missing: " + strings.Join(m.MissingSkills, ", ") + "\n")
		}
	}
	if result.ModelID != "" {
		output.WriteString("\nModel: " + result.ModelID + "\n")
	}
	return output.String(), nil
}

func (f *MatchTextFormatter) SupportedType() string {
	return "MatchResult"
}

// AnalysisTextFormatter handles text formatting for resume analysis
type AnalysisTextFormatter struct{}

func (f *AnalysisTextFormatter) Format(data any) (string, error) {
	result, ok := data.(api.Analysis)
	if !ok {
		return "", fmt.Errorf("expected Analysis, got %T", data)
	}

	var output strings.Builder
	output.WriteString("=== RESUME ANALYSIS ===\n\n")
	output.WriteString(fmt.Sprintf("Score: %d/100\n\n", result.Score))
	output.WriteString("Summary:\n")
	output.WriteString(result.Summary)
	output.WriteString("\n\n")

	writeList(&output, "Strengths", result.Strengths, "- ")
	writeList(&output, "Gaps", result.Gaps, "- ")
	writeList(&output, "Recommendations", result.Recommendations, "")

	return output.String(), nil
}

func (f *AnalysisTextFormatter) SupportedType() string {
	return "Analysis"
}

// MarketTextFormatter handles text formatting for market analytics
type MarketTextFormatter struct{}

func (f *MarketTextFormatter) Format(data any) (string, error) {
	result, ok := data.(api.MarketAnalytics)
	if !ok {
		return "", fmt.Errorf("expected MarketAnalytics, got %T", data)
	}

	var output strings.Builder
	output.WriteString("=== MARKET ANALYTICS ===\n\n")
	output.WriteString(fmt.Sprintf("Jobs: %d\n", result.TotalJobs))
	if result.MedianSalary > 0 {
		output.WriteString(fmt.Sprintf("Median salary: %d\n", result.MedianSalary))
	}
	output.WriteString(fmt.Sprintf("Remote share: %.0f%%\n\n", result.RemoteShare*100))

	if len(result.TopSkills) > 0 {
		output.WriteString("Top skills:\n")
		for _, s := range result.TopSkills {
			output.WriteString(fmt.Sprintf("- %s (%d, %.0f%%)\n", s.Skill, s.Count, s.Share*100))
		}
		output.WriteString("\n")
	}

	if len(result.ByLocation) > 0 {
		locations := make([]string, 0, len(result.ByLocation))
		for loc := range result.ByLocation {
			locations = append(locations, loc)
		}
		slices.SortFunc(locations, func(a, b string) int {
			return result.ByLocation[b] - result.ByLocation[a]
		})
		output.WriteString("By location:\n")
		for _, loc := range locations {
			output.WriteString(fmt.Sprintf("- %s: %d\n", loc, result.ByLocation[loc]))
		}
	}
	return output.String(), nil
}

func (f *MarketTextFormatter) SupportedType() string {
	return "MarketAnalytics"
}

// writeList writes a titled list. An empty prefix numbers the items.
func writeList(output *strings.Builder, title string, items []string, prefix string) {
	if len(items) == 0 {
		return
	}
	output.WriteString(title + ":\n")
	for i, item := range items {
		if prefix == "" {
			output.WriteString(fmt.Sprintf("%d. %s\n", i+1, item))
		} else {
			output.WriteString(prefix + item + "\n")
		}
	}
	output.WriteString("\n")
}

// toPlain converts data to maps, slices and scalars by way of JSON.
func toPlain(data any) (any, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return generic(raw), nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return generic(encoded), nil
}

func generic(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// Global formatter registry
var GlobalRegistry = NewFormatterRegistry()
