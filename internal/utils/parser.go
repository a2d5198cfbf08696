package utils

import (
	"encoding/json"
	"regexp"
	"strings"

	"gorm.io/datatypes"
)

var variableRe = regexp.MustCompile(`{{\s*(\w+)\s*}}`)

// ParseVariables extracts the {{variable}} names used in a template.
func ParseVariables(input string) []string {
	matches := variableRe.FindAllStringSubmatch(input, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, match := range matches {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}

// ReplaceVariables substitutes {{variable}} placeholders with their
// values. Unknown placeholders are left in place.
func ReplaceVariables(input string, variables map[string]string) string {
	return variableRe.ReplaceAllStringFunc(input, func(m string) string {
		name := strings.Trim(m, "{} \t")
		if value, ok := variables[name]; ok {
			return value
		}
		return m
	})
}

// JSONToMap converts a JSON column to a flat string map.
func JSONToMap(jsonData datatypes.JSON) (map[string]string, error) {
	if len(jsonData) == 0 {
		return map[string]string{}, nil
	}
	var result map[string]string
	if err := json.Unmarshal(jsonData, &result); err != nil {
		return nil, err
	}
	return result, nil
}
