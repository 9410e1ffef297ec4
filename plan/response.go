package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// plannerResponse is the JSON document planners are prompted to return.
type plannerResponse struct {
	ColumnMappings map[string]*string `json:"column_mappings"`
	Workflow       struct {
		Steps []struct {
			Tool string `json:"tool"`
		} `json:"steps"`
	} `json:"workflow"`
}

// ParseResponse extracts an Input from a planner's free-text reply. It
// tolerates reasoning blocks, markdown fences, a leading "json" label and
// prose around the object. Step names are passed through unfiltered so
// that Validate reports unknown steps instead of dropping them.
func ParseResponse(text string) (Input, error) {
	normalized := NormalizeResponse(text)

	var resp plannerResponse
	if err := json.Unmarshal([]byte(normalized), &resp); err != nil {
		return Input{}, &InvalidPlanError{Reason: fmt.Sprintf("planner returned invalid JSON: %v", err)}
	}

	in := Input{ColumnMappings: make(map[string]string, len(resp.ColumnMappings))}
	for k, v := range resp.ColumnMappings {
		if v == nil || isBlank(strings.TrimSpace(*v)) {
			continue
		}
		in.ColumnMappings[k] = *v
	}
	for _, s := range resp.Workflow.Steps {
		if s.Tool != "" {
			in.StepNames = append(in.StepNames, s.Tool)
		}
	}
	return in, nil
}

// NormalizeResponse reduces a planner reply to the JSON object it carries.
func NormalizeResponse(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))

	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl != -1 {
			s = s[nl+1:]
			if end := strings.LastIndex(s, "```"); end != -1 {
				s = strings.TrimRight(s[:end], " \t\r\n")
			}
		}
	}

	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		rest := strings.TrimLeft(s[4:], "\r\n \t:")
		if strings.HasPrefix(rest, "{") {
			s = rest
		}
	}
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return s
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}
