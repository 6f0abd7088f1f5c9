// Package answer models the extracted fields of one document as an
// addressable tree. Values are keyed by schema path and carry the evidence
// boxes needed to point findings back into the source document.
package answer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/veridocs/inspection-engine/internal/interdoc"
)

// DataBox is one evidence rectangle with the text it covers.
type DataBox struct {
	Page int          `json:"page"`
	Box  interdoc.Box `json:"box"`
	Text string       `json:"text,omitempty"`
	Cell string       `json:"cell,omitempty"`
}

// DataItem groups the boxes of one extraction hit, with an optional
// pre-joined text.
type DataItem struct {
	Text  string    `json:"text,omitempty"`
	Boxes []DataBox `json:"boxes,omitempty"`
}

// Item is one stored answer row. Key is the compact JSON schema path, e.g.
// ["合同:0","基金名称:0"].
type Item struct {
	Key    string     `json:"key"`
	Values []string   `json:"value,omitempty"`
	Data   []DataItem `json:"data,omitempty"`
	Manual bool       `json:"manual,omitempty"`
	Score  float64    `json:"score,omitempty"`
}

// ParsePath splits a compact JSON key into (name, index) segments.
func ParsePath(key string) []PathSegment {
	var raw []string
	if err := json.Unmarshal([]byte(key), &raw); err != nil {
		return nil
	}
	segs := make([]PathSegment, 0, len(raw))
	for _, part := range raw {
		name, idx, ok := strings.Cut(part, ":")
		if !ok {
			return nil
		}
		n := 0
		for _, c := range idx {
			if c < '0' || c > '9' {
				return nil
			}
			n = n*10 + int(c-'0')
		}
		segs = append(segs, PathSegment{Name: name, Index: n})
	}
	return segs
}

type PathSegment struct {
	Name  string
	Index int
}

// KeyPath is the dotted lookup form: segment names after the root joined
// by "-".
func KeyPath(key string) string {
	segs := ParsePath(key)
	if len(segs) < 2 {
		return ""
	}
	names := make([]string, 0, len(segs)-1)
	for _, s := range segs[1:] {
		names = append(names, s.Name)
	}
	return strings.Join(names, "-")
}

var rePeerKey = regexp.MustCompile(`,"[^:"]+:\d+"\]$`)

// PeerPrefix strips the final NAME:INDEX token from a compact key, yielding
// the shared prefix of sibling answers.
func PeerPrefix(key string) string {
	return rePeerKey.ReplaceAllString(key, "")
}

// Answer is a read view of one Item bound to the document reader. A nil
// item is a valid empty Answer; misses are never errors.
type Answer struct {
	item   *Item
	name   string
	reader *interdoc.Reader
}

func (a *Answer) IsZero() bool { return a == nil || a.item == nil }

func (a *Answer) Name() string { return a.name }

func (a *Answer) Item() *Item {
	if a == nil {
		return nil
	}
	return a.item
}

func (a *Answer) Manual() bool { return !a.IsZero() && a.item.Manual }

// Value returns the enum value when present (list values joined by comma),
// falling back to the evidence text.
func (a *Answer) Value() string {
	if a.IsZero() {
		return ""
	}
	if len(a.item.Values) > 0 {
		return strings.Join(a.item.Values, ",")
	}
	return a.DataText()
}

// DataText joins the per-hit texts, deriving each from box texts when no
// pre-joined text exists.
func (a *Answer) DataText() string {
	if a.IsZero() {
		return ""
	}
	texts := make([]string, 0, len(a.item.Data))
	for _, d := range a.item.Data {
		if d.Text != "" {
			texts = append(texts, d.Text)
			continue
		}
		var sb strings.Builder
		for _, b := range d.Boxes {
			sb.WriteString(b.Text)
		}
		texts = append(texts, sb.String())
	}
	return strings.Join(texts, "\n")
}

// Outlines maps page → evidence boxes.
func (a *Answer) Outlines() interdoc.Outlines {
	if a.IsZero() {
		return nil
	}
	out := interdoc.Outlines{}
	for _, d := range a.item.Data {
		for _, b := range d.Boxes {
			out[b.Page] = append(out[b.Page], b.Box)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Page is the earliest evidence page, 0 when no evidence exists.
func (a *Answer) Page() int {
	page, _ := a.Outlines().FirstPage()
	return page
}

func (a *Answer) XPath() string {
	o := a.Outlines()
	page, ok := o.FirstPage()
	if !ok || a.reader == nil {
		return ""
	}
	return a.reader.XPathByOutline(page, o[page][0])
}

// FirstResult is the display record derived from the first evidence entry.
type FirstResult struct {
	Text     string            `json:"text"`
	Page     int               `json:"page"`
	Outlines interdoc.Outlines `json:"outlines,omitempty"`
	XPath    string            `json:"xpath,omitempty"`
	Chapters []string          `json:"chapters,omitempty"`
	Cells    []string          `json:"cells,omitempty"`
}

func (a *Answer) FirstResult() FirstResult {
	res := FirstResult{Text: a.Value(), Page: a.Page(), Outlines: a.Outlines(), XPath: a.XPath()}
	if a.reader != nil && res.Outlines != nil {
		res.Chapters = a.reader.ChapterTitlesByOutlines(res.Outlines)
	}
	if !a.IsZero() {
		for _, d := range a.item.Data {
			for _, b := range d.Boxes {
				if b.Cell != "" {
					res.Cells = append(res.Cells, b.Cell)
				}
			}
		}
	}
	return res
}

// ChapterTitle is the innermost chapter title covering the first evidence.
func (a *Answer) ChapterTitle() string {
	r := a.FirstResult()
	if len(r.Chapters) == 0 {
		return ""
	}
	return r.Chapters[len(r.Chapters)-1]
}

// RelatedParagraphs builds one pseudo-paragraph from the answer evidence,
// the input shape template diffing expects. Empty evidence yields nil.
func (a *Answer) RelatedParagraphs() []*interdoc.Element {
	o := a.Outlines()
	page, ok := o.FirstPage()
	if !ok {
		return nil
	}
	outline := o[page][0]
	for _, b := range o[page][1:] {
		outline = outline.Union(b)
	}
	return []*interdoc.Element{{
		Text:    a.Value(),
		Page:    page,
		Outline: outline,
	}}
}
