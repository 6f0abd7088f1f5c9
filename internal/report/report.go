// Package report exports an inspection result batch as markdown, HTML, and
// print-ready PDF.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/store"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MaxResultsPerExport caps one export request; larger batches must page.
const MaxResultsPerExport = 500

// Batch is one export request: a document and its persisted results.
type Batch struct {
	Document *store.Document
	Results  []*evaluate.Result
	Exported time.Time
}

func verdictLabel(res *evaluate.Result) string {
	switch {
	case res.NotApplicable():
		return "不适用"
	case res.Compliant():
		return "合规"
	default:
		return "不合规"
	}
}

// Markdown serialises the batch: a header block plus one section per rule
// with verdict, reasons, and suggestion.
func Markdown(batch *Batch) (string, error) {
	if len(batch.Results) > MaxResultsPerExport {
		return "", fmt.Errorf("batch carries %d results, limit is %d", len(batch.Results), MaxResultsPerExport)
	}
	exported := batch.Exported
	if exported.IsZero() {
		exported = time.Now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# 合规审核报告：%s\n\n", batch.Document.Name)
	fmt.Fprintf(&sb, "- 文档编号：%d\n", batch.Document.ID)
	fmt.Fprintf(&sb, "- 整体结论：%s\n", auditLabel(batch.Document.AuditStatus))
	fmt.Fprintf(&sb, "- 导出时间：%s\n\n", exported.Format("2006-01-02 15:04"))

	if len(batch.Results) == 0 {
		sb.WriteString("暂无审核结果。\n")
		return sb.String(), nil
	}

	for i, res := range batch.Results {
		fmt.Fprintf(&sb, "## %d. %s\n\n", i+1, res.Name)
		fmt.Fprintf(&sb, "**结论：%s**\n\n", verdictLabel(res))
		for _, origin := range res.OriginContents {
			fmt.Fprintf(&sb, "> %s\n", strings.ReplaceAll(origin, "\n", "\n> "))
		}
		if len(res.OriginContents) > 0 {
			sb.WriteString("\n")
		}
		for _, reason := range res.Reasons {
			if reason.ReasonText == "" {
				continue
			}
			fmt.Fprintf(&sb, "- %s\n", reason.ReasonText)
		}
		if res.Suggestion != "" {
			fmt.Fprintf(&sb, "\n修改建议：%s\n", res.Suggestion)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func auditLabel(status store.AuditStatus) string {
	switch status {
	case store.AuditCompliant:
		return "合规"
	case store.AuditNonCompliant:
		return "存在不合规项"
	case store.AuditNA:
		return "不适用"
	default:
		return "待审核"
	}
}

const printCSS = `
body{font-family:"Noto Sans CJK SC","PingFang SC",sans-serif;color:#1c1917;margin:0;padding:0.6rem;}
.report-wrap{max-width:960px;margin:0 auto;}
h1{font-size:1.4rem;border-bottom:2px solid #1d4ed8;padding-bottom:0.4rem;}
h2{font-size:1.05rem;margin-top:1.2rem;break-inside:avoid;}
blockquote{border-left:3px solid #a8a29e;margin:0.4rem 0;padding:0.2rem 0.65rem;color:#44403c;background:#f9f7f3;}
table{width:100%;border-collapse:collapse;font-size:0.8rem;}
th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}
@media print{ @page{size:A4;margin:12mm;} }
`

// HTML renders the batch markdown to a standalone HTML page with inline
// print styling. An empty batch still yields a valid page.
func HTML(batch *Batch) (string, error) {
	markdown, err := Markdown(batch)
	if err != nil {
		return "", err
	}
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>合规审核报告</title>" +
		"<style>" + printCSS + "</style></head><body>" +
		"<div class='report-wrap'>" + content.String() + "</div>" +
		"</body></html>", nil
}
