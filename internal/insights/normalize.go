package insights

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultSummary is served when no candidate field carries an answer.
const DefaultSummary = "Analysis completed successfully"

// NormalizedResult couples the render-ready record with the visualization
// payload extracted alongside it. The payload travels separately so list
// views never drag megabytes of chart code around.
type NormalizedResult struct {
	Record        AnalysisRecord
	Visualization []byte
}

// Field candidates per semantic slot, in priority order. The compute
// service's result shape drifted across job kinds; first non-empty wins.
var (
	summaryPaths = [][]string{
		{"analysis_summary"},
		{"summary"},
		{"final_results", "answer"},
		{"final_results", "summary"},
		{"final_answer"},
		{"execution", "output"},
	}
	visualizationPaths = [][]string{
		{"designed_echart_code"},
		{"echart_code"},
		{"chart_html"},
		{"visualization_html"},
	}
	queryTypePaths = [][]string{
		{"query_analysis", "query_type"},
		{"classification", "query_type"},
		{"query_type"},
	}
	queryPaths = [][]string{
		{"user_query"},
		{"query"},
	}
	createdAtLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
)

// Normalize maps one raw compute payload onto the canonical record shape.
// It never fails: an undecodable payload degrades to defaults. receivedAt
// is the caller's clock so repeated calls with the same inputs produce
// identical records.
func Normalize(analysisID, query, queryTypeHint string, raw json.RawMessage, receivedAt time.Time) NormalizedResult {
	var top map[string]any
	if len(raw) > 0 {
		// Decode failure leaves top nil; every slot falls back.
		_ = json.Unmarshal(raw, &top)
	}

	record := AnalysisRecord{
		AnalysisID: analysisID,
		Query:      fallbackString(query, firstStringAt(top, queryPaths)),
		QueryType:  normalizeQueryType(top, queryTypeHint),
		Summary:    fallbackString(firstStringAt(top, summaryPaths), DefaultSummary),
		Insights:   extractInsights(top),
		IsActive:   activeFlag(top),
		CreatedAt:  createdAt(top, receivedAt),
	}

	visualization := visualizationPayload(top)
	if len(visualization) > 0 {
		record.HasVisualization = true
		record.VisualizationRef = analysisID
	} else if visualizationFlag(top) {
		// The backend claims a chart exists but shipped no payload in
		// this response shape; the deep-fetch path recovers it later.
		record.HasVisualization = true
		record.VisualizationRef = analysisID
	}

	return NormalizedResult{Record: record, Visualization: visualization}
}

func normalizeQueryType(top map[string]any, hint string) string {
	if qt := firstStringAt(top, queryTypePaths); qt != "" {
		return strings.ToLower(qt)
	}
	if strings.TrimSpace(hint) != "" {
		return strings.ToLower(strings.TrimSpace(hint))
	}
	return "general"
}

// visualizationPayload returns the first candidate as bytes. String
// candidates pass through; the dashboard job kind nests a ready-made
// object, which is re-serialized.
func visualizationPayload(top map[string]any) []byte {
	for _, path := range visualizationPaths {
		value, ok := valueAt(top, path)
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return []byte(v)
			}
		case map[string]any, []any:
			if encoded, err := json.Marshal(v); err == nil {
				return encoded
			}
		}
	}
	return nil
}

func visualizationFlag(top map[string]any) bool {
	for _, path := range [][]string{
		{"execution", "visualization_created"},
		{"visualization_created"},
		{"has_visualization"},
	} {
		if value, ok := valueAt(top, path); ok {
			if flag, ok := value.(bool); ok && flag {
				return true
			}
		}
	}
	return false
}

func extractInsights(top map[string]any) []string {
	for _, path := range [][]string{
		{"insights"},
		{"key_insights"},
		{"final_results", "insights"},
	} {
		value, ok := valueAt(top, path)
		if !ok {
			continue
		}
		if list := extractStringSlice(value); len(list) > 0 {
			return list
		}
	}
	return nil
}

func activeFlag(top map[string]any) bool {
	if value, ok := valueAt(top, []string{"is_active"}); ok {
		if flag, ok := value.(bool); ok {
			return flag
		}
	}
	return true
}

func createdAt(top map[string]any, receivedAt time.Time) time.Time {
	raw := firstStringAt(top, [][]string{{"created_at"}, {"timestamp"}})
	if raw != "" {
		for _, layout := range createdAtLayouts {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return parsed.UTC()
			}
		}
	}
	return receivedAt.UTC()
}

// valueAt walks nested maps along path.
func valueAt(top map[string]any, path []string) (any, bool) {
	current := any(top)
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func firstStringAt(top map[string]any, paths [][]string) string {
	for _, path := range paths {
		value, ok := valueAt(top, path)
		if !ok {
			continue
		}
		if str, ok := value.(string); ok {
			if trimmed := strings.TrimSpace(str); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func extractStringSlice(value any) []string {
	switch raw := value.(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			switch entry := item.(type) {
			case string:
				if strings.TrimSpace(entry) != "" {
					out = append(out, entry)
				}
			case map[string]any:
				// Some job kinds wrap each insight in an object.
				for _, key := range []string{"finding", "insight", "text", "description"} {
					if str, ok := entry[key].(string); ok && strings.TrimSpace(str) != "" {
						out = append(out, str)
						break
					}
				}
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
