package llm

import (
	"regexp"
	"strings"
)

var danglingKeyRe = regexp.MustCompile(`[,\s]*\{?\s*"(?:[^"\\]|\\.)*"\s*$`)

// Repair attempts a lenient fix of almost-JSON output: leading prose is cut,
// truncated arrays or objects are trimmed back to the last complete element,
// a dangling object key is dropped, and open brackets re-closed. Returns
// false when the text has no recoverable JSON structure.
func Repair(s string) (string, bool) {
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	s = s[start:]

	lastComplete := -1
	runes := []rune(s)
	inString := false
	escaped := false
	depth := 0
	for i, r := range runes {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
				lastComplete = i
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			if depth == 0 {
				return "", false
			}
			depth--
			lastComplete = i
		case 'e', 'l': // true/false/null terminators
			lastComplete = i
		default:
			if r >= '0' && r <= '9' {
				lastComplete = i
			}
		}
	}
	if lastComplete < 0 {
		return "", false
	}

	out := strings.TrimRight(string(runes[:lastComplete+1]), " \t\n\r,:")
	// A cut mid-object can leave a key with no value; drop it.
	if open := openBrackets(out); len(open) > 0 && open[len(open)-1] == '{' {
		out = danglingKeyRe.ReplaceAllString(out, "")
		out = strings.TrimRight(out, " \t\n\r,")
	}
	if out == "" {
		return "", false
	}
	for open := openBrackets(out); len(open) > 0; open = open[:len(open)-1] {
		if open[len(open)-1] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out, true
}

// openBrackets returns the still-open brackets of s in opening order,
// ignoring brackets inside string literals.
func openBrackets(s string) []rune {
	var stack []rune
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, r)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return stack
}
