// Package action implements ActionHandler (C5, §4.4): parsing a VLM-emitted
// textual action expression and dispatching it against a device.Controller.
package action

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a parsed `do(action="X", ...)` or `finish(message=...)` call.
type Expr struct {
	Func string
	Args map[string]string
}

// Parse reads one action expression. It is intentionally NOT a general
// expression evaluator: no code execution, only a keyword-argument call
// shape `name(k1=v1, k2=v2, ...)` with quoted string values and explicit
// escape sequences (\n \r \t) inside them, matching the VLM's expected
// output grammar (§4.4).
func Parse(src string) (Expr, error) {
	src = strings.TrimSpace(src)

	open := strings.IndexByte(src, '(')
	if open < 0 || !strings.HasSuffix(src, ")") {
		return Expr{}, fmt.Errorf("action: not a call expression: %q", src)
	}
	name := strings.TrimSpace(src[:open])
	if name == "" {
		return Expr{}, fmt.Errorf("action: missing function name in %q", src)
	}
	body := src[open+1 : len(src)-1]

	args, err := parseArgs(body)
	if err != nil {
		return Expr{}, fmt.Errorf("action: parse args of %s: %w", name, err)
	}

	return Expr{Func: name, Args: args}, nil
}

// parseArgs splits a comma-separated keyword-arg list, respecting quoted
// strings so commas inside a quoted value don't split the argument.
func parseArgs(body string) (map[string]string, error) {
	args := map[string]string{}
	body = strings.TrimSpace(body)
	if body == "" {
		return args, nil
	}

	for _, raw := range splitTopLevel(body, ',') {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		eq := strings.IndexByte(raw, '=')
		if eq < 0 {
			return nil, fmt.Errorf("malformed argument %q, expected key=value", raw)
		}
		key := strings.TrimSpace(raw[:eq])
		val := strings.TrimSpace(raw[eq+1:])
		unquoted, err := unquote(val)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", key, err)
		}
		args[key] = unquoted
	}
	return args, nil
}

// splitTopLevel splits s on sep, ignoring occurrences inside single or
// double quotes.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++ // skip escaped char
				continue
			}
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// unquote strips surrounding quotes (if present) and resolves \n \r \t
// escapes. Unquoted bare tokens (numbers, true/false/none) pass through
// unchanged as raw text; callers that need typed values parse further.
func unquote(s string) (string, error) {
	if len(s) < 2 || !((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		return s, nil
	}
	quote := s[0]
	inner := s[1 : len(s)-1]

	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			next := inner[i+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case quote:
				b.WriteByte(quote)
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// IntArg parses a required integer argument.
func IntArg(args map[string]string, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}
