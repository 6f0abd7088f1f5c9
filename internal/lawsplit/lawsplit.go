// Package lawsplit turns a parsed legal document into an ordered clause
// list. Statute laws are split by their numbering hierarchy, template laws
// by their chapter tree.
package lawsplit

import (
	"regexp"
	"strings"

	"github.com/veridocs/inspection-engine/internal/interdoc"
)

var (
	pEmpty       = regexp.MustCompile(`[^\S\n]`)
	pRemoveJie   = regexp.MustCompile(`\n第?[一二三四五六七八九十零百千\d]{1,6}?节.+[^。！？：；.!?:;]$`)
	pSectionTiao = regexp.MustCompile(`^(第?[一二三四五六七八九十零百千\d]{1,6}?条|\d+(\.\d+)*)\s*`)

	pZhang = []*regexp.Regexp{
		regexp.MustCompile(`^第?[一二三四五六七八九十零百千]{1,6}?章.*?$`),
		regexp.MustCompile(`^第?\d{1,6}?章.*?$`),
	}
	pJie = []*regexp.Regexp{
		regexp.MustCompile(`^第?[一二三四五六七八九十零百千]{1,6}?节.*?$`),
		regexp.MustCompile(`^第?\d{1,6}?节.*?$`),
	}
	pTiao = []*regexp.Regexp{
		regexp.MustCompile(`^第?[一二三四五六七八九十零百千]{1,6}?条\s*.*?$`),
		regexp.MustCompile(`^第?\d{1,6}?条\s*.*?$`),
		regexp.MustCompile(`^第.{1,6}?条?至第?.{1,6}?条$`),
	}
	pNumDash    = []*regexp.Regexp{regexp.MustCompile(`^\d+-(\d+-)*\d+\s+`)}
	pNumChinese = []*regexp.Regexp{regexp.MustCompile(`^[一二三四五六七八九十零百千]+、`)}
	pNumPoint   = []*regexp.Regexp{regexp.MustCompile(`^\d+\.(\d+\.)*\d+\s+`)}

	sentenceEnders = "。！？：；.!?:;"
)

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// node is one level of the numbering hierarchy. Descending is only allowed
// into a direct child; ancestors and siblings stay reachable.
type node struct {
	patterns []*regexp.Regexp
	parent   *node
	children []*node
}

func (n *node) child(patterns []*regexp.Regexp, children ...*node) *node {
	c := &node{patterns: patterns, parent: n, children: children}
	for _, grand := range children {
		grand.parent = c
	}
	n.children = append(n.children, c)
	return c
}

func (n *node) available() []*node {
	nodes := []*node{n}
	for p := n.parent; p != nil; p = p.parent {
		nodes = append(nodes, p)
	}
	if len(n.children) > 0 {
		nodes = append(nodes, n.children...)
	}
	return nodes
}

// splitter is the numbering state machine over
// {章 → (条 | N.M | 节 → N.M) | 条 | N-M | 一、}.
type splitter struct {
	root    *node
	current *node
}

func newSplitter() *splitter {
	root := &node{}
	zhang := root.child(pZhang)
	zhang.child(pTiao)
	zhang.child(pNumPoint)
	jie := zhang.child(pJie)
	jie.child(pNumPoint)
	root.child(pTiao)
	root.child(pNumDash)
	root.child(pNumChinese)
	return &splitter{root: root, current: root}
}

func (s *splitter) match(text string) bool {
	for _, n := range s.current.available() {
		if len(n.patterns) > 0 && matchAny(n.patterns, text) {
			for _, c := range s.current.children {
				if c == n {
					s.current = n
					break
				}
			}
			return true
		}
	}
	return false
}

// split groups elements into blocks: each matched header opens a block,
// following paragraphs attach to it. Tables always stand alone.
func (s *splitter) split(elements []*interdoc.Element, ignoreTopUnmatch, ignoreBottomExtra bool) [][]*interdoc.Element {
	var blocks [][]*interdoc.Element
	matchedAny := false
	for _, el := range elements {
		if el.Type == interdoc.ElementPageHeader || el.Type == interdoc.ElementPageFooter {
			continue
		}
		text := strings.TrimSpace(el.Text)
		switch {
		case text != "" && s.match(text):
			matchedAny = true
			blocks = append(blocks, []*interdoc.Element{el})
		case ignoreTopUnmatch && len(blocks) == 0:
			continue
		case !matchedAny || el.Type == interdoc.ElementTable:
			blocks = append(blocks, []*interdoc.Element{el})
		default:
			last := blocks[len(blocks)-1]
			if last[0].Type == interdoc.ElementTable {
				blocks = append(blocks, []*interdoc.Element{el})
			} else {
				blocks[len(blocks)-1] = append(last, el)
			}
		}
	}
	if ignoreBottomExtra && len(blocks) > 0 {
		last := blocks[len(blocks)-1]
		for i, el := range last[1:] {
			if strings.HasPrefix(strings.TrimSpace(el.Text), "附表 ") {
				blocks[len(blocks)-1] = last[:i+1]
				break
			}
		}
	}
	return blocks
}

func cleanClause(text string) string {
	return pEmpty.ReplaceAllString(text, "")
}

// joinBrokenLines removes newlines that do not follow sentence-ending
// punctuation, re-joining paragraphs broken by layout.
func joinBrokenLines(text string) string {
	runes := []rune(text)
	var sb strings.Builder
	for i, r := range runes {
		if r == '\n' && i > 0 && !strings.ContainsRune(sentenceEnders, runes[i-1]) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// filterClauses drops pure 章/节 headers and normalises each surviving
// block: collapsed whitespace, joined broken lines, and the article prefix
// rewritten to 第N条 plus an ideographic space.
func filterClauses(blocks [][]*interdoc.Element) []string {
	var clauses []string
	for _, block := range blocks {
		head := strings.TrimSpace(block[0].Text)
		if matchAny(pZhang, head) || matchAny(pJie, head) {
			continue
		}
		lines := make([]string, 0, len(block))
		for _, el := range block {
			lines = append(lines, cleanClause(el.Text))
		}
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		text = pRemoveJie.ReplaceAllString(text, "")
		text = joinBrokenLines(text)
		text = pSectionTiao.ReplaceAllString(text, "${1}　")
		if text != "" {
			clauses = append(clauses, text)
		}
	}
	return clauses
}

// SplitStatute splits a statute law into its article clauses. Elements
// before the first syllabus entry (cover and table of contents) are
// skipped.
func SplitStatute(doc *interdoc.Document) []string {
	elements := make([]*interdoc.Element, 0, len(doc.Paragraphs))
	start := 0
	if len(doc.Syllabuses) > 0 {
		start = doc.Syllabuses[0].Index
	}
	for i := range doc.Paragraphs {
		el := &doc.Paragraphs[i]
		if el.Index < start {
			continue
		}
		elements = append(elements, el)
	}
	s := newSplitter()
	return filterClauses(s.split(elements, true, true))
}

// SplitTemplate splits a template law along its chapter tree: every
// syllabus of level three or shallower with no such children becomes one
// clause, its paragraph texts joined by newlines.
func SplitTemplate(reader *interdoc.Reader) []string {
	var clauses []string
	for _, s := range reader.Syllabuses() {
		if s.Level > 3 {
			continue
		}
		shallowChild := false
		for _, childIdx := range s.Children {
			if child := reader.SyllabusByIndex(childIdx); child != nil && child.Level <= 3 {
				shallowChild = true
				break
			}
		}
		if shallowChild {
			continue
		}
		syll := s
		var lines []string
		for _, el := range reader.ParagraphsBySyllabus(&syll, 0) {
			if text := cleanClause(el.Text); strings.TrimSpace(text) != "" {
				lines = append(lines, text)
			}
		}
		if text := strings.TrimSpace(strings.Join(lines, "\n")); text != "" {
			clauses = append(clauses, text)
		}
	}
	return clauses
}

// ArticlePrefix returns the 第N条 prefix of a clause, or "".
func ArticlePrefix(clause string) string {
	m := pSectionTiao.FindStringSubmatch(clause)
	if m == nil {
		return ""
	}
	return m[1]
}

// RepairArticlePrefix re-attaches a source clause's article prefix to a
// generated fragment, normalising the separator to an ideographic space.
func RepairArticlePrefix(prefix, content string) string {
	if prefix == "" {
		return content
	}
	if pSectionTiao.MatchString(content) {
		return pSectionTiao.ReplaceAllString(content, "${1}　")
	}
	return prefix + "　" + content
}
