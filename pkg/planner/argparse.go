package planner

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var skillCallPattern = regexp.MustCompile(`^(\w+)\((.*)\)$`)

// parseSkillCall splits a skill invocation string like
// `alarm_create(hour=7, minute=30, days=['M', 'W'])` into its name and typed
// parameter map (§4.6).
func parseSkillCall(execution string) (string, map[string]interface{}) {
	execution = strings.TrimSpace(execution)
	match := skillCallPattern.FindStringSubmatch(execution)
	if match == nil {
		return "", map[string]interface{}{}
	}
	name := match[1]
	body := strings.TrimSpace(match[2])

	params := map[string]interface{}{}
	if body == "" {
		return name, params
	}
	for _, pair := range splitParameters(body) {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(pair[:eq])
		value := strings.TrimSpace(pair[eq+1:])
		params[key] = safeEval(value)
	}
	return name, params
}

// splitParameters splits on top-level commas, tracking bracket depth and
// quotes so nested lists/maps and quoted commas don't split early.
func splitParameters(s string) []string {
	var params []string
	var current strings.Builder
	depth := 0
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			current.WriteByte(c)
			if c == quote && (current.Len() == 1 || s[i-1] != '\\') {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			current.WriteByte(c)
		case c == '[' || c == '(' || c == '{':
			depth++
			current.WriteByte(c)
		case c == ']' || c == ')' || c == '}':
			depth--
			current.WriteByte(c)
		case c == ',' && depth == 0:
			if strings.TrimSpace(current.String()) != "" {
				params = append(params, strings.TrimSpace(current.String()))
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		params = append(params, strings.TrimSpace(current.String()))
	}
	return params
}

// safeEval reads a literal value conservatively: true/false/none, a quoted
// string, a JSON list/map (falling back to splitParameters for malformed
// JSON), a number, or else the raw string (§4.6's "conservative literal
// reader").
func safeEval(value string) interface{} {
	value = strings.TrimSpace(value)

	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	case "none", "null":
		return nil
	}

	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}

	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		var list []interface{}
		if err := json.Unmarshal([]byte(value), &list); err == nil {
			return list
		}
		inner := strings.TrimSpace(value[1 : len(value)-1])
		if inner == "" {
			return []interface{}{}
		}
		items := make([]interface{}, 0)
		for _, item := range splitParameters(inner) {
			items = append(items, safeEval(item))
		}
		return items
	}

	if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(value), &obj); err == nil {
			return obj
		}
		return value
	}

	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return value
}
