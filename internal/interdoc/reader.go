package interdoc

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Reader answers location queries against one parsed document. All methods
// are pure; a Reader is safe for concurrent use.
type Reader struct {
	doc      *Document
	byIndex  map[int]*Element
	sylByIdx map[int]*Syllabus
}

func NewReader(doc *Document) *Reader {
	r := &Reader{
		doc:      doc,
		byIndex:  make(map[int]*Element, len(doc.Paragraphs)),
		sylByIdx: make(map[int]*Syllabus, len(doc.Syllabuses)),
	}
	for i := range doc.Paragraphs {
		el := &doc.Paragraphs[i]
		r.byIndex[el.Index] = el
	}
	for i := range doc.Syllabuses {
		s := &doc.Syllabuses[i]
		r.sylByIdx[s.Index] = s
	}
	return r
}

func (r *Reader) Syllabuses() []Syllabus { return r.doc.Syllabuses }

// PageHeaders returns the detected repeating headers.
func (r *Reader) PageHeaders() []Element { return r.doc.PageHeaders }

// ElementByIndex returns the element at a parser index, or nil.
func (r *Reader) ElementByIndex(index int) *Element {
	return r.byIndex[index]
}

// ElementsInRange yields elements with index in [start, end) in index order.
func (r *Reader) ElementsInRange(start, end int) []*Element {
	var out []*Element
	for idx := start; idx < end; idx++ {
		if el, ok := r.byIndex[idx]; ok {
			out = append(out, el)
		}
	}
	return out
}

// ElementsByPage returns every element on the given page, index order.
func (r *Reader) ElementsByPage(page int) []*Element {
	var out []*Element
	for i := range r.doc.Paragraphs {
		if r.doc.Paragraphs[i].Page == page {
			out = append(out, &r.doc.Paragraphs[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// FindChaptersByPatterns returns syllabuses whose title matches any pattern,
// ordered by position; reverse flips the order.
func (r *Reader) FindChaptersByPatterns(patterns []*regexp.Regexp, reverse bool) []*Syllabus {
	var out []*Syllabus
	for i := range r.doc.Syllabuses {
		s := &r.doc.Syllabuses[i]
		title := CleanText(s.Title)
		for _, p := range patterns {
			if p.MatchString(title) {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if reverse {
			return out[i].Index > out[j].Index
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// FindSyllabusByClearTitle matches titles after CleanTitle normalisation.
// With multi=false only the first match is returned.
func (r *Reader) FindSyllabusByClearTitle(title string, multi bool) []*Syllabus {
	want := CleanTitle(title)
	if want == "" {
		return nil
	}
	var out []*Syllabus
	for i := range r.doc.Syllabuses {
		s := &r.doc.Syllabuses[i]
		if CleanTitle(s.Title) == want {
			out = append(out, s)
			if !multi {
				break
			}
		}
	}
	return out
}

// SyllabusByIndex returns the syllabus node keyed by its heading element
// index, or nil.
func (r *Reader) SyllabusByIndex(index int) *Syllabus {
	return r.sylByIdx[index]
}

// ParentSyllabuses walks from the syllabus containing the element index up
// to the root, nearest first.
func (r *Reader) ParentSyllabuses(index int) []*Syllabus {
	var chain []*Syllabus
	el := r.byIndex[index]
	if el == nil {
		return chain
	}
	s := r.sylByIdx[el.Syllabus]
	for s != nil {
		chain = append(chain, s)
		if s.Parent < 0 || s.Parent == s.Index {
			break
		}
		s = r.sylByIdx[s.Parent]
	}
	return chain
}

// ParagraphsBySyllabus returns the contiguous paragraph elements under a
// syllabus, heading excluded. Table rows are flattened to line paragraphs;
// fragments shorter than minCellLine runes are dropped.
func (r *Reader) ParagraphsBySyllabus(s *Syllabus, minCellLine int) []*Element {
	if s == nil {
		return nil
	}
	var out []*Element
	for idx := s.Range[0]; idx < s.Range[1]; idx++ {
		el, ok := r.byIndex[idx]
		if !ok || el.Index == s.Index {
			continue
		}
		switch el.Type {
		case ElementParagraph:
			out = append(out, el)
		case ElementTable:
			out = append(out, tableLineParagraphs(el, minCellLine)...)
		}
	}
	return out
}

// tableLineParagraphs projects a table into per-cell pseudo paragraphs so
// diff rules can treat tabular contract text uniformly.
func tableLineParagraphs(el *Element, minLen int) []*Element {
	var out []*Element
	for i, cell := range el.Cells {
		text := CleanText(cell.Text)
		if len([]rune(text)) < minLen {
			continue
		}
		out = append(out, &Element{
			Index:   el.Index,
			Type:    ElementParagraph,
			Text:    text,
			Page:    el.Page,
			Outline: el.Outline,
			// Distinguish cells sharing the table element index.
			Syllabus: el.Syllabus,
			Fragment: i > 0,
		})
	}
	return out
}

// TableMarkdown renders a table element as a GFM table, row-major.
func TableMarkdown(el *Element) string {
	if el.Type != ElementTable || len(el.Cells) == 0 {
		return ""
	}
	rows := map[int]map[int]string{}
	maxRow, maxCol := 0, 0
	for _, c := range el.Cells {
		if rows[c.Row] == nil {
			rows[c.Row] = map[int]string{}
		}
		rows[c.Row][c.Col] = strings.ReplaceAll(c.Text, "\n", " ")
		if c.Row > maxRow {
			maxRow = c.Row
		}
		if c.Col > maxCol {
			maxCol = c.Col
		}
	}
	var sb strings.Builder
	for row := 0; row <= maxRow; row++ {
		sb.WriteString("|")
		for col := 0; col <= maxCol; col++ {
			sb.WriteString(" " + rows[row][col] + " |")
		}
		sb.WriteString("\n")
		if row == 0 {
			sb.WriteString("|" + strings.Repeat(" --- |", maxCol+1) + "\n")
		}
	}
	return sb.String()
}

// Outlines is a page → boxes mapping attached to evidence.
type Outlines map[int][]Box

// BoundingBox unions every box on the earliest page.
func (o Outlines) BoundingBox() (int, Box, bool) {
	page, ok := o.FirstPage()
	if !ok {
		return 0, Box{}, false
	}
	boxes := o[page]
	bb := boxes[0]
	for _, b := range boxes[1:] {
		bb = bb.Union(b)
	}
	return page, bb, true
}

func (o Outlines) FirstPage() (int, bool) {
	if len(o) == 0 {
		return 0, false
	}
	first := -1
	for page := range o {
		if first < 0 || page < first {
			first = page
		}
	}
	return first, true
}

// ElementAtOutline finds the element on page whose outline overlaps box
// best, by intersection area over box area.
func (r *Reader) ElementAtOutline(page int, box Box) *Element {
	var best *Element
	bestScore := 0.0
	for _, el := range r.ElementsByPage(page) {
		score := overlapPercent(el.Outline, box)
		if score > bestScore {
			best, bestScore = el, score
		}
	}
	return best
}

func overlapPercent(a, b Box) float64 {
	w := minF(a[2], b[2]) - maxF(a[0], b[0])
	h := minF(a[3], b[3]) - maxF(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	area := (b[2] - b[0]) * (b[3] - b[1])
	if area <= 0 {
		return 0
	}
	return w * h / area
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// XPathByOutline computes the deterministic UI linkback path for the
// element best matching the outline box.
func (r *Reader) XPathByOutline(page int, box Box) string {
	el := r.ElementAtOutline(page, box)
	if el == nil {
		return ""
	}
	return fmt.Sprintf("/page[%d]/element[%d]", el.Page, el.Index)
}

// ChapterTitlesByOutlines resolves evidence outlines to the chapter-title
// chain of the containing element, outermost first.
func (r *Reader) ChapterTitlesByOutlines(o Outlines) []string {
	page, bb, ok := o.BoundingBox()
	if !ok {
		return nil
	}
	el := r.ElementAtOutline(page, bb)
	if el == nil {
		return nil
	}
	chain := r.ParentSyllabuses(el.Index)
	titles := make([]string, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		titles = append(titles, CleanText(chain[i].Title))
	}
	return titles
}

// TitleXPath points at the document title element, the fallback anchor when
// evidence cannot be resolved.
func (r *Reader) TitleXPath() string {
	first := r.ElementsByPage(0)
	if len(first) == 0 {
		return ""
	}
	return fmt.Sprintf("/page[%d]/element[%d]", first[0].Page, first[0].Index)
}
