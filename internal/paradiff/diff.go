package paradiff

import (
	"context"
	"html"
	"strings"

	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"
)

type SegmentType string

const (
	SegEqual  SegmentType = "equal"
	SegInsert SegmentType = "para_insert"
	SegDelete SegmentType = "para_delete"
	SegModify SegmentType = "modify"
)

// Segment pairs reference paragraphs (left) with contract paragraphs
// (right). Insert segments have no left side, delete segments no right.
type Segment struct {
	Type  SegmentType
	Left  []*Para
	Right []*Para
	Ratio float64
	HTML  string
}

func (s Segment) LeftText() string  { return joinParas(s.Left) }
func (s Segment) RightText() string { return joinParas(s.Right) }

func joinParas(paras []*Para) string {
	texts := make([]string, 0, len(paras))
	for _, p := range paras {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n")
}

// matchThreshold is the minimum paragraph similarity treated as an
// alignment rather than a delete/insert pair.
const matchThreshold = 0.5

// Diff aligns reference paragraphs against contract paragraphs and emits
// ordered per-paragraph segments.
func Diff(template, contract []*Para, opts Options) []Segment {
	nl := make([]string, len(template))
	for i, p := range template {
		nl[i] = opts.Normalize(p.Text)
	}
	nr := make([]string, len(contract))
	for i, p := range contract {
		nr[i] = opts.Normalize(p.Text)
	}

	type cell struct {
		score float64
		move  byte // 'm' align, 'd' skip template, 'i' skip contract
	}
	rows, cols := len(template)+1, len(contract)+1
	dp := make([][]cell, rows)
	for i := range dp {
		dp[i] = make([]cell, cols)
	}
	for i := 1; i < rows; i++ {
		dp[i][0] = cell{score: dp[i-1][0].score, move: 'd'}
	}
	for j := 1; j < cols; j++ {
		dp[0][j] = cell{score: dp[0][j-1].score, move: 'i'}
	}
	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			best := cell{score: dp[i-1][j].score, move: 'd'}
			if s := dp[i][j-1].score; s > best.score {
				best = cell{score: s, move: 'i'}
			}
			if sim := SimilarityRatio(nl[i-1], nr[j-1]); sim >= matchThreshold {
				if s := dp[i-1][j-1].score + sim; s > best.score {
					best = cell{score: s, move: 'm'}
				}
			}
			dp[i][j] = best
		}
	}

	// Backtrack, then reverse into document order.
	var rev []Segment
	i, j := rows-1, cols-1
	for i > 0 || j > 0 {
		switch dp[i][j].move {
		case 'm':
			i--
			j--
			seg := Segment{Type: SegModify, Left: template[i : i+1], Right: contract[j : j+1]}
			if nl[i] == nr[j] {
				seg.Type = SegEqual
				seg.Ratio = 100
				seg.HTML = html.EscapeString(contract[j].Text)
			} else {
				seg.Ratio = SimilarityRatio(nl[i], nr[j]) * 100
				seg.HTML = charDiffHTML(template[i].Text, contract[j].Text)
			}
			rev = append(rev, seg)
		case 'd':
			i--
			seg := Segment{Type: SegDelete, Left: template[i : i+1]}
			seg.HTML = "<s>" + html.EscapeString(template[i].Text) + "</s>"
			rev = append(rev, seg)
		default:
			j--
			seg := Segment{Type: SegInsert, Right: contract[j : j+1]}
			seg.HTML = "<u>" + html.EscapeString(contract[j].Text) + "</u>"
			rev = append(rev, seg)
		}
	}
	segs := make([]Segment, 0, len(rev))
	for k := len(rev) - 1; k >= 0; k-- {
		segs = append(segs, rev[k])
	}
	return segs
}

// charDiffHTML renders a modify segment as "<s>删除</s>相同<u>新增</u>",
// left-to-right.
func charDiffHTML(left, right string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(left, right, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	var sb strings.Builder
	for _, d := range diffs {
		text := html.EscapeString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			if strings.TrimSpace(d.Text) != "" {
				sb.WriteString("<s>" + text + "</s>")
			}
		case diffmatchpatch.DiffInsert:
			if strings.TrimSpace(d.Text) != "" {
				sb.WriteString("<u>" + text + "</u>")
			}
		default:
			sb.WriteString(text)
		}
	}
	return sb.String()
}

// CalcRatio is the char-weighted average of per-segment ratios. Reference
// chars weight delete/equal/modify segments; insert segments weigh by their
// contract chars so interleaved extra text blocks compliance.
func CalcRatio(segs []Segment, opts Options) float64 {
	var sum, weight float64
	for _, seg := range segs {
		var w float64
		if len(seg.Left) > 0 {
			w = float64(len([]rune(opts.Normalize(seg.LeftText()))))
		} else {
			w = float64(len([]rune(opts.Normalize(seg.RightText()))))
		}
		if w == 0 {
			continue
		}
		sum += seg.Ratio * w
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// Result is one content-vs-chapter comparison.
type Result struct {
	Ratio    float64
	Segments []Segment
	Chapter  string
}

// IntegrityFunc answers how many paragraphs above and below the matched
// window must be kept so numbered list items stay intact. Zero-zero keeps
// the trimmed window as is.
type IntegrityFunc func(ctx context.Context, window, top, bottom []*Para) (keepTop, keepBottom int, error error)

// DiffWithContext runs the paragraph diff and, when diffContext is false,
// trims the leading and trailing contract-only segments. Trimming that cuts
// through numbered list items triggers the integrity callback and a
// re-diff over the expanded window.
func DiffWithContext(ctx context.Context, template, contract []*Para, opts Options, diffContext bool, chapter string, integrity IntegrityFunc) Result {
	segs := Diff(template, contract, opts)
	if allZero(segs) {
		return Result{Ratio: 0, Segments: deleteOnly(segs), Chapter: chapter}
	}
	if !diffContext {
		start := 0
		for start < len(segs) && segs[start].Type == SegInsert {
			start++
		}
		end := len(segs)
		for end > start && segs[end-1].Type == SegInsert {
			end--
		}
		window := segs[start:end]

		if integrity != nil && touchesNumbering(window, segs[:start], segs[end:]) {
			windowParas := rightParas(window)
			top := parasBefore(contract, minIndex(windowParas))
			bottom := parasAfter(contract, maxIndex(windowParas))
			keepTop, keepBottom, err := integrity(ctx, windowParas, top, bottom)
			if err == nil && (keepTop > 0 || keepBottom > 0) {
				if keepTop > len(top) {
					keepTop = len(top)
				}
				if keepBottom > len(bottom) {
					keepBottom = len(bottom)
				}
				expanded := append(append(append([]*Para{}, top[len(top)-keepTop:]...), windowParas...), bottom[:keepBottom]...)
				return DiffWithContext(ctx, template, expanded, opts, true, chapter, nil)
			}
		}
		segs = window
	}
	return Result{Ratio: CalcRatio(segs, opts), Segments: segs, Chapter: chapter}
}

func allZero(segs []Segment) bool {
	for _, seg := range segs {
		if seg.Ratio > 0 {
			return false
		}
	}
	return true
}

func deleteOnly(segs []Segment) []Segment {
	var out []Segment
	for _, seg := range segs {
		if seg.Type == SegDelete {
			out = append(out, seg)
		}
	}
	return out
}

// touchesNumbering reports whether the kept window contains list items
// while a trimmed boundary segment does too; in that case the trim may have
// severed sibling items.
func touchesNumbering(window, leading, trailing []Segment) bool {
	inWindow := false
	for _, seg := range window {
		if seg.Type == SegDelete {
			continue
		}
		for _, p := range seg.Left {
			if PNumbering.MatchString(p.Text) {
				inWindow = true
			}
		}
	}
	if !inWindow {
		return false
	}
	for _, seg := range append(append([]Segment{}, leading...), trailing...) {
		for _, p := range seg.Right {
			if PNumbering.MatchString(p.Text) {
				return true
			}
		}
	}
	return false
}

func rightParas(segs []Segment) []*Para {
	var out []*Para
	for _, seg := range segs {
		if seg.Type == SegDelete {
			continue
		}
		out = append(out, seg.Right...)
	}
	return out
}

func parasBefore(paras []*Para, index int) []*Para {
	var out []*Para
	for _, p := range paras {
		if p.Index < index {
			out = append(out, p)
		}
	}
	return out
}

func parasAfter(paras []*Para, index int) []*Para {
	var out []*Para
	for _, p := range paras {
		if p.Index > index {
			out = append(out, p)
		}
	}
	return out
}

func minIndex(paras []*Para) int {
	if len(paras) == 0 {
		return 0
	}
	m := paras[0].Index
	for _, p := range paras[1:] {
		if p.Index < m {
			m = p.Index
		}
	}
	return m
}

func maxIndex(paras []*Para) int {
	if len(paras) == 0 {
		return 0
	}
	m := paras[0].Index
	for _, p := range paras[1:] {
		if p.Index > m {
			m = p.Index
		}
	}
	return m
}
