package evaluate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/paradiff"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

var reChapterAnd = regexp.MustCompile(`[＆&]`)

// contentOutcome is one reference content compared against the document.
type contentOutcome struct {
	content  rulebook.TemplateContent
	result   paradiff.Result
	compared bool
}

func (c *contentOutcome) ratio() float64 { return c.result.Ratio }

func (c *contentOutcome) isCompliance() bool { return c.compared && c.result.Ratio == 100 }

// groupOutcome aggregates the contents of one alternative group.
type groupOutcome struct {
	group    rulebook.TemplateGroup
	contents []*contentOutcome
	compared bool
}

func (g *groupOutcome) isTemplate() bool { return g.group.Label == "范文" }

func (g *groupOutcome) avgRatio() float64 {
	if len(g.contents) == 0 {
		return 0
	}
	var sum float64
	for _, c := range g.contents {
		sum += c.ratio()
	}
	return sum / float64(len(g.contents))
}

func (g *groupOutcome) isCompliance() bool {
	if !g.compared || len(g.contents) == 0 {
		return false
	}
	for _, c := range g.contents {
		if !c.isCompliance() {
			return false
		}
	}
	return true
}

func (g *groupOutcome) templateRef() *TemplateRef {
	lines := make([]string, 0, len(g.group.Contents))
	for _, c := range g.group.Contents {
		lines = append(lines, "◇"+c.Content)
	}
	return &TemplateRef{Name: g.group.Label, Content: strings.Join(lines, "\n"), ContentTitle: "合同范文"}
}

// evaluateTemplate diffs every reference group against the document.
// Groups are alternatives; the contents inside one group must all reach
// ratio 100 for the group to pass.
func (e *Evaluator) evaluateTemplate(ctx context.Context, rule *rulebook.Rule, tree *answer.Tree) *Result {
	res := baseResult(rule, tree)
	reader := tree.Reader()

	var topChapters []*interdoc.Syllabus
	if reader != nil {
		for _, s := range reader.Syllabuses() {
			if s.Level == 1 {
				top := s
				topChapters = append(topChapters, &top)
			}
		}
	}

	groups := make([]*groupOutcome, 0, len(rule.Params.Groups))
	isCompliance := false
	for _, group := range rule.Params.Groups {
		outcome := &groupOutcome{group: group}
		groups = append(groups, outcome)
		resolved := true
		for _, content := range group.Contents {
			if len(e.resolveChapters(reader, content, topChapters)) == 0 {
				resolved = false
				break
			}
		}
		if !resolved || reader == nil {
			for _, content := range group.Contents {
				outcome.contents = append(outcome.contents, &contentOutcome{content: content})
			}
			continue
		}
		outcome.compared = true
		for _, content := range group.Contents {
			outcome.contents = append(outcome.contents, e.compareContent(ctx, reader, content, topChapters))
		}
		if outcome.isCompliance() {
			isCompliance = true
		}
	}

	res.IsCompliance = compliant(isCompliance)
	for _, g := range groups {
		res.Reasons = append(res.Reasons, e.groupReason(reader, g))
	}
	if !isCompliance {
		sorted := append([]*groupOutcome{}, groups...)
		sort.SliceStable(sorted, func(i, j int) bool {
			gi, gj := sorted[i], sorted[j]
			zi, zj := gi.avgRatio() <= 0, gj.avgRatio() <= 0
			if zi != zj {
				return !zi
			}
			if gi.isTemplate() != gj.isTemplate() {
				return gi.isTemplate()
			}
			return gi.avgRatio() > gj.avgRatio()
		})
		if len(sorted) > 0 {
			res.Suggestion = groupSuggestion(sorted[0])
		}
	}
	res.SchemaResults = append(res.SchemaResults, templateSchemaResults(rule.Name, groups)...)
	return res
}

// chapterAlternative is one resolved chapter spec: the &-joined parts, each
// with the syllabuses sharing that title.
type chapterAlternative [][]*interdoc.Syllabus

func (e *Evaluator) resolveChapters(reader *interdoc.Reader, content rulebook.TemplateContent, topChapters []*interdoc.Syllabus) []chapterAlternative {
	if reader == nil {
		return nil
	}
	if len(content.Chapters) == 0 {
		alts := make([]chapterAlternative, 0, len(topChapters))
		for _, ch := range topChapters {
			alts = append(alts, chapterAlternative{{ch}})
		}
		return alts
	}
	var alts []chapterAlternative
	for _, chapter := range content.Chapters {
		var alt chapterAlternative
		ok := true
		for _, part := range reChapterAnd.Split(chapter, -1) {
			sylls := reader.FindSyllabusByClearTitle(part, true)
			if len(sylls) == 0 {
				ok = false
				break
			}
			alt = append(alt, sylls)
		}
		if ok {
			alts = append(alts, alt)
		}
	}
	return alts
}

// compareContent picks the best alternative: max ratio across alternatives,
// min across &-parts, max across same-title chapters.
func (e *Evaluator) compareContent(ctx context.Context, reader *interdoc.Reader, content rulebook.TemplateContent, topChapters []*interdoc.Syllabus) *contentOutcome {
	outcome := &contentOutcome{content: content, compared: true}
	diffContext := content.DiffContext
	if len(content.Chapters) == 0 {
		diffContext = false
	}
	for _, alt := range e.resolveChapters(reader, content, topChapters) {
		var altResult paradiff.Result
		altSet := false
		for _, sylls := range alt {
			var sameResult paradiff.Result
			sameSet := false
			for _, syll := range sylls {
				template := paradiff.MockParas(strings.Split(content.Content, "\n"), 0, 0)
				paras := paradiff.FromElements(reader.ParagraphsBySyllabus(syll, 5))
				result := paradiff.DiffWithContext(ctx, template, paras, paradiff.DefaultOptions, diffContext, interdoc.CleanText(syll.Title), e.Integrity)
				if !sameSet || result.Ratio > sameResult.Ratio {
					sameResult, sameSet = result, true
				}
			}
			if !altSet || sameResult.Ratio < altResult.Ratio {
				altResult, altSet = sameResult, true
			}
		}
		if altSet && (outcome.result.Segments == nil || altResult.Ratio > outcome.result.Ratio) {
			outcome.result = altResult
		}
	}
	return outcome
}

func (e *Evaluator) groupReason(reader *interdoc.Reader, g *groupOutcome) Reason {
	outlines := interdoc.Outlines{}
	var diffs []DiffItem
	for _, c := range g.contents {
		for page, boxes := range contentOutlines(c) {
			outlines[page] = append(outlines[page], boxes...)
		}
		diffs = append(diffs, contentDiffs(c)...)
	}
	if len(outlines) == 0 {
		return Reason{
			Type:       ReasonConflict,
			ReasonText: fmt.Sprintf("未找到与%s相同的内容", g.group.Label),
			Template:   g.templateRef(),
		}
	}
	page, _ := outlines.FirstPage()
	text := fmt.Sprintf("与%s不一致", g.group.Label)
	if g.isCompliance() {
		text = fmt.Sprintf("匹配到%s的内容", g.group.Label)
	}
	reason := Reason{
		Type:       ReasonConflict,
		ReasonText: text,
		Matched:    g.isCompliance(),
		Page:       page,
		Outlines:   outlines,
		Diff:       diffs,
		Template:   g.templateRef(),
	}
	if reason.Matched {
		reason.Type = ReasonMatchSuccess
	}
	if reader != nil {
		if p, box, ok := outlines.BoundingBox(); ok {
			reason.XPath = reader.XPathByOutline(p, box)
		}
	}
	return reason
}

func contentOutlines(c *contentOutcome) interdoc.Outlines {
	out := interdoc.Outlines{}
	for _, seg := range c.result.Segments {
		if seg.Type == paradiff.SegDelete {
			continue
		}
		for _, p := range seg.Right {
			out[p.Page] = append(out[p.Page], p.Outline)
		}
	}
	return out
}

func contentDiffs(c *contentOutcome) []DiffItem {
	items := make([]DiffItem, 0, len(c.result.Segments))
	for _, seg := range c.result.Segments {
		item := DiffItem{HTML: seg.HTML, Left: seg.LeftText(), Right: seg.RightText()}
		if seg.Type == paradiff.SegEqual {
			item.Type = "equal"
		} else {
			item.Type = "match"
		}
		if seg.Type == paradiff.SegInsert {
			item.Left = ""
		}
		if seg.Type == paradiff.SegDelete {
			item.Right = ""
		}
		items = append(items, item)
	}
	if len(items) > 0 {
		items[0].IsTop = true
	}
	return items
}

func groupSuggestion(g *groupOutcome) string {
	var parts []string
	for _, c := range g.contents {
		if c.isCompliance() {
			continue
		}
		if s := contentSuggestion(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func contentSuggestion(c *contentOutcome) string {
	if len(c.result.Segments) > 0 {
		chapter := c.result.Chapter
		if chapter != "" {
			chapter = "，" + chapter
		}
		var parts []string
		for _, seg := range c.result.Segments {
			switch seg.Type {
			case paradiff.SegEqual:
				continue
			case paradiff.SegDelete:
				parts = append(parts, fmt.Sprintf("合同%s，请补充“%s”", chapter, seg.LeftText()))
			case paradiff.SegInsert:
				parts = append(parts, fmt.Sprintf("合同%s，请删除“%s”", chapter, seg.RightText()))
			default:
				parts = append(parts, fmt.Sprintf("合同%s，请将“%s”修改为“%s”", chapter, seg.RightText(), seg.LeftText()))
			}
		}
		return strings.Join(parts, "\n\n")
	}
	if len(c.content.Chapters) > 0 {
		return fmt.Sprintf("请在%s中补充“%s”", reChapterAnd.ReplaceAllString(c.content.Chapters[0], "、"), c.content.Content)
	}
	return fmt.Sprintf("请在文档中补充“%s”", c.content.Content)
}

func templateSchemaResults(name string, groups []*groupOutcome) []answer.SchemaResult {
	byIndex := map[int]answer.SchemaResult{}
	var indexes []int
	for _, g := range groups {
		for _, c := range g.contents {
			for _, seg := range c.result.Segments {
				if seg.Type == paradiff.SegDelete {
					continue
				}
				for _, p := range seg.Right {
					if _, seen := byIndex[p.Index]; !seen {
						indexes = append(indexes, p.Index)
					}
					byIndex[p.Index] = answer.SchemaResult{
						Name:     name,
						Matched:  true,
						Text:     p.Text,
						Page:     p.Page,
						Outlines: interdoc.Outlines{p.Page: {p.Outline}},
					}
				}
			}
		}
	}
	sort.Ints(indexes)
	out := make([]answer.SchemaResult, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, byIndex[idx])
	}
	return out
}
