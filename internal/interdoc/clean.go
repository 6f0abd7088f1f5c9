package interdoc

import (
	"regexp"
	"strings"
)

var (
	reWhitespace     = regexp.MustCompile(`[\s\x{3000}]+`)
	reTitleNumbering = regexp.MustCompile(`^(第[一二三四五六七八九十百千0-9]+[章节条部分]|[一二三四五六七八九十]+[、.．]|[0-9]+(\.[0-9]+)*[、.．]?|[(（][一二三四五六七八九十0-9]+[)）])`)
	rePunctuation    = regexp.MustCompile(`[，。、；：？！“”‘’（）《》【】,.;:?!"'()<>\[\]_\-—–·…]+`)
)

// CleanText collapses all whitespace, including ideographic spaces.
func CleanText(s string) string {
	return reWhitespace.ReplaceAllString(strings.TrimSpace(s), "")
}

// CleanTitle normalises a chapter title for equality comparison: strips
// leading numbering, punctuation and whitespace.
func CleanTitle(s string) string {
	s = CleanText(s)
	s = reTitleNumbering.ReplaceAllString(s, "")
	return rePunctuation.ReplaceAllString(s, "")
}

// NormalizeParens converts half-width parentheses to full-width, the form
// used throughout fund documents.
func NormalizeParens(s string) string {
	s = strings.ReplaceAll(s, "(", "（")
	return strings.ReplaceAll(s, ")", "）")
}
