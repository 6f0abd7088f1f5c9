// Package paradiff aligns reference paragraphs against contract paragraphs
// and scores the similarity. Template rules are built on it: a group of
// reference contents is compliant when every content reaches ratio 100
// against some resolved chapter.
package paradiff

import (
	"regexp"
	"strings"

	"github.com/veridocs/inspection-engine/internal/interdoc"
)

// Para is one diffable paragraph. Reference paragraphs are mocked from
// template text; contract paragraphs come from the interdoc reader.
type Para struct {
	Index    int
	Page     int
	Text     string
	Outline  interdoc.Box
	CellPath string
}

// MockParas splits reference text lines into pseudo paragraphs with
// sequential indexes starting at start.
func MockParas(lines []string, page, start int) []*Para {
	out := make([]*Para, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, &Para{Index: start + i, Page: page, Text: line})
	}
	return out
}

// FromElements converts reader elements into diffable paragraphs.
func FromElements(els []*interdoc.Element) []*Para {
	out := make([]*Para, 0, len(els))
	for _, el := range els {
		out = append(out, &Para{
			Index:   el.Index,
			Page:    el.Page,
			Text:    el.Text,
			Outline: el.Outline,
		})
	}
	return out
}

// Options is the normalisation policy applied before comparing.
type Options struct {
	IgnoreCase         bool
	IgnorePunctuation  bool
	IgnoreChaptNumbers bool
}

// DefaultOptions is the policy template rules use.
var DefaultOptions = Options{
	IgnoreCase:         true,
	IgnorePunctuation:  true,
	IgnoreChaptNumbers: true,
}

var (
	reSerial = regexp.MustCompile(`^\s*(第[一二三四五六七八九十百千0-9]+[章节条款]|[一二三四五六七八九十]+[、.．]|[0-9]+(\.[0-9]+)*[、.．]?|[(（][一二三四五六七八九十0-9]+[)）])\s*`)
	rePunct  = regexp.MustCompile(`[，。、；：？！“”‘’（）《》【】,.;:?!"'()<>\[\]\s\x{3000}]+`)
	// PNumbering reports list-item paragraphs; trimming around them needs an
	// integrity check so sibling numbered items stay in the window.
	PNumbering = regexp.MustCompile(`^\s*([0-9]+|[一二三四五六七八九十]+|[(（][一二三四五六七八九十0-9]+[)）])[、.．)）]`)
)

// Normalize applies the option policy to one paragraph text.
func (o Options) Normalize(text string) string {
	if o.IgnoreChaptNumbers {
		text = reSerial.ReplaceAllString(text, "")
	}
	if o.IgnorePunctuation {
		text = rePunct.ReplaceAllString(text, "")
	} else {
		text = strings.TrimSpace(text)
	}
	if o.IgnoreCase {
		text = strings.ToLower(text)
	}
	return text
}
