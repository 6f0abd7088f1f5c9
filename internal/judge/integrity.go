package judge

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/veridocs/inspection-engine/internal/llm"
	"github.com/veridocs/inspection-engine/internal/paradiff"
)

var integrityTpl = template.Must(template.New("integrity").Parse(`你是一位专业的合同条款完整性核查助手，需基于用户提供的「已匹配内容」「上方未匹配内容」「下方未匹配内容」三部分信息，系统检查已匹配内容的完整性（重点验证主/子序号连续性及段落覆盖度），并明确输出已匹配内容缺失的具体条款。

一、输入结构说明
• 已匹配内容（用户标记为「已核对」的连续条款片段（可能包含完整主序号+子序号，或主序号下的部分子序号））：` + "```" + `
{{range .Paras}}{{.Text}}
{{end}}` + "```" + `

• 上方未匹配内容（已匹配内容之前未被核对的条款（位于已匹配内容的上方））：` + "```" + `
{{range .TopParas}}{{.Text}}
{{end}}` + "```" + `

• 下方未匹配内容（已匹配内容之后未被核对的条款（位于已匹配内容的下方））：` + "```" + `
{{range .BottomParas}}{{.Text}}
{{end}}` + "```" + `

二、核心检查逻辑（需逐项验证）
1. 主序号连续性验证
• 目标：确认已匹配内容的主序号在全文中是否形成连续序列（即：上方未匹配的最后一个主序号 → 已匹配内容的主序号 → 下方未匹配的第一个主序号 是否无断裂）。
• 操作：提取上方未匹配内容的最大主序号（如（一））、已匹配内容的主序号（如（二））、下方未匹配内容的最小主序号（如（三）），检查是否满足「（一）→（二）→（三）」的连续递增关系。若存在跳跃（如上方是（一），已匹配是（三），缺失（二）），则记录主序号缺失。

2. 子序号连续性验证（针对已匹配内容的主序号）
• 目标：确认已匹配内容的主序号下，子序号是否完整（即：已匹配子序号的起始→结束是否与全文中该主序号下的子序号范围一致）。
• 操作：
  a. 提取已匹配内容主序号（如（二））下的子序号范围（如1.、2.）；
  b. 提取全文中该主序号下的完整子序号范围（需结合上方未匹配内容中该主序号的子序号 + 已匹配内容的子序号 + 下方未匹配内容中该主序号的子序号）；
  c. 对比已匹配子序号范围与全文子序号范围，若已匹配子序号未覆盖全文范围（如全文（二）下子序号应为1.、2.、3.、4.，但已匹配仅包含1.、2.，且3.、4.出现在下方未匹配内容中），则记录子序号缺失。

3. 段落覆盖度验证
• 目标：确认已匹配内容是否遗漏了其主序号下应有的关键条款（即使子序号连续，也可能存在条款内容缺失）。
• 操作：对比已匹配内容的条款文本与全文中该主序号下的完整条款文本（结合上下文未匹配内容），若存在关键信息缺失（如条款中关于「比例」「期限」等核心要素未在已匹配内容中体现），则记录段落覆盖缺失。

输出要求（需明确缺失内容）
1. 输出结果为（x,y）
  a. x是上方未匹配导致的缺失：因上方未匹配内容未覆盖而导致的已匹配内容前序缺失（如主序号（一）完全未出现在上方未匹配内容中，或（一）下子项2.缺失）； 如果未缺失，x记为 0；缺失一段内容，x记录为-1；缺失两段内容，x记录为-2，以此类推
  b. y是下方未匹配导致的缺失：因下方未匹配内容未覆盖而导致的已匹配内容后序缺失（如已匹配主序号（二）下应包含子项3.、4.，但3.、4.仅出现在下方未匹配内容中且未被纳入已匹配）。如果未缺失，y记为 0；缺失一段内容，y记录为 1；缺失两段内容，y记录为 2，以此类推

示例：
[-1,2] → 上方缺 1 段，下方缺 2 段
[-3,4] → 上方缺 3 段，下方缺 4 段
[0,0] → 前后完整

## 四、输出格式(json)
[-count, count]
`))

var topBottomRe = regexp.MustCompile(`-?(\d+)[,，]\s*(\d+)`)

// NewIntegrity builds the diff-window integrity check backed by the model:
// it asks how many unmatched paragraphs above and below the matched window
// belong to it, so the diff can re-run over the expanded span. Any failure
// keeps the window as is.
func NewIntegrity(caller llm.Caller) paradiff.IntegrityFunc {
	return func(ctx context.Context, window, top, bottom []*paradiff.Para) (int, int, error) {
		var sb strings.Builder
		if err := integrityTpl.Execute(&sb, map[string]any{
			"Paras":       window,
			"TopParas":    top,
			"BottomParas": bottom,
		}); err != nil {
			return 0, 0, err
		}
		raw, err := caller.GenerateJSON(ctx, sb.String())
		if err != nil {
			return 0, 0, err
		}
		m := topBottomRe.FindStringSubmatch(llm.StripCodeFences(raw))
		if m == nil {
			return 0, 0, nil
		}
		keepTop, _ := strconv.Atoi(m[1])
		keepBottom, _ := strconv.Atoi(m[2])
		return keepTop, keepBottom, nil
	}
}
