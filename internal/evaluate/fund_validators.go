package evaluate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/paradiff"
)

// Built-in validators for 私募-基金合同 documents. Each one encodes a check
// that cannot be expressed as a declarative rule row.

var pOpenDayDate = []*regexp.Regexp{
	regexp.MustCompile(`[0-9一二三四五六七八九十〇]+年[0-9一二三四五六七八九十〇]+月[0-9一二三四五六七八九十〇]+日`),
	regexp.MustCompile(`每个.*?日.*?开放日`),
	regexp.MustCompile(`开放日.*?每个.*?日`),
	regexp.MustCompile(`开放日.*?第.*?个周`),
	regexp.MustCompile(`第.*?个周.*?开放日`),
	regexp.MustCompile(`开放日.*?每满.*?个自然日`),
	regexp.MustCompile(`每满.*?个自然日.*?开放日`),
	regexp.MustCompile(`开放日.*?每届满.*?个自然日`),
	regexp.MustCompile(`每届满.*?个自然日.*?开放日`),
	regexp.MustCompile(`开放日.*?每满.*?个月的月度对日`),
	regexp.MustCompile(`每满.*?个月的月度对日.*?开放日`),
	regexp.MustCompile(`开放日.*?每届满.*?个月的月度对日`),
	regexp.MustCompile(`每届满.*?个月的月度对日.*?开放日`),
	regexp.MustCompile(`每.*?日.*?开放日`),
	regexp.MustCompile(`开放日.*?每月计划成立日对日`),
	regexp.MustCompile(`每月计划成立日对日.*?开放日`),
	regexp.MustCompile(`开放日.*?每自然月.*?日`),
	regexp.MustCompile(`每自然月.*?日.*?开放日`),
	regexp.MustCompile(`开放日.*?每自然年.*?日`),
	regexp.MustCompile(`每自然年.*?日.*?开放日`),
	regexp.MustCompile(`每周.*?开放日`),
	regexp.MustCompile(`开放日.*?每周`),
	regexp.MustCompile(`每个(?:(?:交易日|工作日)[、/或]?){1,2}开放`),
}

var pCloseMode = regexp.MustCompile(`^无|封闭式|不设置开放`)

func firstMatch(patterns []*regexp.Regexp, s string) string {
	if s == "" {
		return ""
	}
	for _, p := range patterns {
		if m := p.FindString(s); m != "" {
			return m
		}
	}
	return ""
}

// managerType reads the fund manager registration category attached to the
// document.
func managerType(tree *answer.Tree) string {
	values := tree.Classification("基金管理人概况-类型")
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func managerTypeMatches(types []string, managerType string) bool {
	if managerType == "" {
		return false
	}
	for _, t := range types {
		if strings.Contains(managerType, t) {
			return true
		}
	}
	return false
}

// managerCategory collapses the registration category into its investment
// business class.
func managerCategory(managerType string) string {
	if strings.Contains(managerType, "股权") {
		return "股权投资"
	}
	for _, item := range []string{"证券投资", "创业投资", "股权投资", "资产配置"} {
		if strings.Contains(managerType, item) {
			return item
		}
	}
	return ""
}

func originContents(from, origin string) []string {
	if !strings.HasPrefix(from, "《") || !strings.HasSuffix(from, "》") {
		from = "《" + from + "》"
	}
	return []string{from, origin}
}

func validatorResult(tree *answer.Tree, name, relatedName, label string, fields []string, from, origin string) *Result {
	res := newResult(name, relatedName, label, "schema")
	res.SchemaResults = tree.BuildSchemaResults(fields)
	res.OriginContents = originContents(from, origin)
	return res
}

// OpenDayValidator requires an open-mode fund to name concrete open days and
// a closed-mode fund to declare it has none.
type OpenDayValidator struct{}

func (v *OpenDayValidator) Label() string { return "schema_32_1" }

func (v *OpenDayValidator) Check(tree *answer.Tree) *Result {
	const relatedName = "运作方式、开放日"
	res := validatorResult(tree, "开放式基金可申购或赎回", relatedName, v.Label(),
		[]string{"开放日", "运作方式"},
		"20150424 中华人民共和国证券投资基金法（主席令第23号  2015年4月24日修订）",
		"采用开放式运作方式的基金（以下简称开放式基金），是指基金份额总额不固定，基金份额可以在基金合同约定的时间和场所申购或者赎回的基金。")

	mode := tree.Get("运作方式")
	matched := true
	switch {
	case mode.Value() == "":
		matched = false
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "运作方式为空"})
		res.Suggestion = "请补充“运作方式”"
	case strings.Contains(mode.Value(), "开放式"):
		openDay := tree.Get("开放日")
		if firstMatch(pOpenDayDate, openDay.DataText()) == "" {
			matched = false
			res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "开放日未包含具体的开放日期"})
			res.Suggestion = fmt.Sprintf("合同，%s%s，请将“%s”修改为具体的开放日期", openDay.ChapterTitle(), relatedName, openDay.DataText())
		}
	case strings.Contains(mode.Value(), "封闭式"):
		openDay := tree.Get("开放日")
		if openDay.DataText() != "" && !pCloseMode.MatchString(openDay.DataText()) {
			matched = false
			res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "开放日未包含“无”或“封闭式”或“不设置开放”"})
			res.Suggestion = fmt.Sprintf("合同，%s%s，请将“%s”修改为“无”或“封闭式”或“不设置开放”", openDay.ChapterTitle(), relatedName, openDay.DataText())
		}
	default:
		res.Reasons = append(res.Reasons, Reason{Type: ReasonIgnoreCondition, ReasonText: "运作方式不是开放式或封闭式"})
	}
	res.IsCompliance = compliant(matched)
	return res
}

// OperationModeValidator is the converse check: the declared operation mode
// must agree with what the open-day field actually says.
type OperationModeValidator struct{}

func (v *OperationModeValidator) Label() string { return "schema_32_2" }

func (v *OperationModeValidator) Check(tree *answer.Tree) *Result {
	const relatedName = "运作方式、开放日"
	res := validatorResult(tree, "开放日约定应符合运作方式", relatedName, v.Label(),
		[]string{"开放日", "运作方式"},
		"20150424 中华人民共和国证券投资基金法（主席令第23号  2015年4月24日修订）",
		"采用开放式运作方式的基金（以下简称开放式基金），是指基金份额总额不固定，基金份额可以在基金合同约定的时间和场所申购或者赎回的基金。")

	mode := tree.Get("运作方式")
	openDay := tree.Get("开放日")
	matchedDate := firstMatch(pOpenDayDate, openDay.DataText())

	matched := true
	switch {
	case openDay.DataText() == "" || pCloseMode.MatchString(openDay.DataText()):
		if !strings.Contains(mode.Value(), "封闭式") {
			matched = false
			value := openDay.DataText()
			if value == "" {
				value = "空"
			}
			res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: fmt.Sprintf("开放日为%s，但运作方式不是封闭式", value)})
			res.Suggestion = fmt.Sprintf("合同，%s%s，请将“%s”修改为封闭式", mode.ChapterTitle(), relatedName, mode.Value())
		}
	case matchedDate != "":
		if !strings.Contains(mode.Value(), "开放式") {
			matched = false
			res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: fmt.Sprintf("开放日为%s，但运作方式不是开放式", matchedDate)})
			res.Suggestion = fmt.Sprintf("合同，%s%s，请将“%s”修改为开放式", mode.ChapterTitle(), relatedName, mode.Value())
		}
	default:
		res.Reasons = append(res.Reasons, Reason{Type: ReasonIgnoreCondition, ReasonText: "开放日无具体日期且不为“无”或“封闭式”或“不设置开放”"})
		return res
	}
	res.IsCompliance = compliant(matched)
	return res
}

// RiskLevelValidator enforces the suitability matrix between the fund's R
// level and the investor C levels it admits.
type RiskLevelValidator struct{}

func (v *RiskLevelValidator) Label() string { return "schema_505" }

var (
	pRLevel = regexp.MustCompile(`R(\d+)`)
	pCLevel = regexp.MustCompile(`C(\d+)`)

	// R level → admissible C levels, ascending.
	riskLevelMapping = map[string][]string{
		"1": {"1", "2", "3", "4", "5"},
		"2": {"2", "3", "4", "5"},
		"3": {"3", "4", "5"},
		"4": {"4", "5"},
		"5": {"5"},
	}
)

func (v *RiskLevelValidator) Check(tree *answer.Tree) *Result {
	res := validatorResult(tree, "基金风险等级和投资者风险承受能力等级应符合适当性匹配原则",
		"基金的风险等级、投资者风险承受能力等级", v.Label(),
		[]string{"本基金的风险等级", "适合的投资者风险承受能力等级"},
		"20170701 基金募集机构投资者适当性管理实施指引（试行)（基金业协会）",
		"基金募集机构要根据普通投资者风险承受能力和基金产品或者服务的风险等级建立以下适当性匹配原则：\n"+
			"(一）C1型（含最低风险承受能力类别）普通投资者可以购买R1级基金产品或者服务；\n"+
			"(二）C2型普通投资者可以购买R2级及以下风险等级的基金产品或者服务；\n"+
			"(三）C3型普通投资者可以购买R3级及以下风险等级的基金产品或者服务；\n"+
			"(四）C4型普通投资者可以购买R4级及以下风险等级的基金产品或者服务；\n"+
			"(五）C5型普通投资者可以购买所有风险等级的基金产品或者服务。")

	level := tree.Get("本基金的风险等级")
	investorLevel := tree.Get("适合的投资者风险承受能力等级")
	matched := true
	if level.Value() != "" && investorLevel.Value() != "" {
		if r := pRLevel.FindStringSubmatch(level.Value()); r != nil {
			admissible := riskLevelMapping[r[1]]
			set := make(map[string]bool, len(admissible))
			for _, c := range admissible {
				set[c] = true
			}
			for _, c := range pCLevel.FindAllStringSubmatch(investorLevel.Value(), -1) {
				if !set[c[1]] {
					matched = false
					res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "普通投资者风险承受能力和基金产品或者服务的风险等级不匹配"})
					res.Suggestion = fmt.Sprintf("根据基金风险等级，请修改普通投资者风险承受能力等级为C%s", admissible[0])
					if len(admissible) > 1 {
						res.Suggestion += "及以上"
					}
					break
				}
			}
		}
	}
	res.IsCompliance = compliant(matched)
	return res
}

// SingleManagerValidator rejects contracts naming more than one fund manager.
type SingleManagerValidator struct{}

func (v *SingleManagerValidator) Label() string { return "schema_439_2" }

func (v *SingleManagerValidator) Check(tree *answer.Tree) *Result {
	const relatedName = "管理人的义务"
	res := validatorResult(tree, "管理人不得超过一家", relatedName, v.Label(),
		[]string{"基金管理人概况-名称"},
		"20191223 私募投资基金备案须知（基金业协会）",
		"私募投资基金的管理人不得超过一家。")

	managers := tree.GetMulti("基金管理人概况-名称")
	matched := true
	switch {
	case len(managers) == 0:
		matched = false
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "无管理人"})
		res.Suggestion = relatedName + "、请补充基金管理人"
	case len(managers) > 1:
		matched = false
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: fmt.Sprintf("管理人存在%d家", len(managers))})
		res.Suggestion = "根据法律法规规定，私募投资基金的管理人不得超过一家；请修改"
	}
	res.IsCompliance = compliant(matched)
	return res
}

// DurationValidator requires an explicit duration in years; equity and asset
// allocation managers must set at least five.
type DurationValidator struct{}

func (v *DurationValidator) Label() string { return "schema_454" }

var pDurationYear = regexp.MustCompile(`^\d+(\.\d+)?年$`)

func (v *DurationValidator) Check(tree *answer.Tree) *Result {
	res := validatorResult(tree, "合同应约定明确的存续期", "存续期、基金名称", v.Label(),
		[]string{"存续期", "基金管理人概况-名称", "基金管理人-名称"},
		"20191223 私募投资基金备案须知（基金业协会）",
		"私募投资基金应当约定明确的存续期。私募股权投资基金和私募资产配置基金约定的存续期不得少于5年,鼓励管理人设立存续期在7年及以上的私募股权投资基金。")

	duration := tree.Get("存续期")
	matched := true
	switch value := interdoc.CleanText(duration.Value()); {
	case duration.Value() == "":
		matched = false
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "存续期为空"})
		res.Suggestion = "请在基金基本情况表中补充存续期"
	case !pDurationYear.MatchString(value):
		matched = false
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "存续期非具体年份"})
		res.Suggestion = fmt.Sprintf("合同，%s存续期，请将“%s”修改为具体年份", duration.ChapterTitle(), duration.Value())
	case managerTypeMatches([]string{"私募股权、创业投资基金管理人", "私募资产配置类管理人"}, managerType(tree)):
		years, err := strconv.ParseFloat(strings.TrimSuffix(value, "年"), 64)
		if err == nil && years < 5 {
			matched = false
			res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "存续期小于5年"})
			res.Suggestion = "请将基金基本情况表中【存续期】修改为5年及5年以上"
		}
	}
	res.IsCompliance = compliant(matched)
	return res
}

// ManagerNameValidator requires the fund name to carry the manager's full
// name or a recognisable abbreviation of it.
type ManagerNameValidator struct{}

func (v *ManagerNameValidator) Label() string { return "schema_367" }

var (
	pInvalidNameOnly   = regexp.MustCompile(`^((?:有限)?公司|(?:私募)?证券(?:投资)?(?:基金(?:管理)?)?|私募)$`)
	pInvalidNameSuffix = regexp.MustCompile(`((?:有限)?公司|(?:私募)?证券(?:投资)?(?:基金(?:管理)?)?)$`)
)

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

func (v *ManagerNameValidator) Check(tree *answer.Tree) *Result {
	res := validatorResult(tree, "基金名称应体现管理人名称", "基金名称、投资顾问", v.Label(),
		[]string{"基金管理人概况-名称", "基金名称", "基金管理人-名称"},
		"20181120 私募投资基金命名指引（中国证券投资基金业协会）",
		"契约型私募投资基金名称应当简单明了，列明私募投资基金管理人全称或能清晰代表私募投资基金管理人名称的简称。私募投资基金管理人聘请投资顾问的，私募投资基金名称中可以列明投资顾问机构的简称。")

	fundName := tree.Get("基金名称")
	managers := tree.GetMulti("基金管理人概况-名称")

	fail := func(text, suggestion string) *Result {
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: text})
		res.Suggestion = suggestion
		res.IsCompliance = compliant(false)
		return res
	}
	if len(managers) == 0 || managers[0].Value() == "" {
		return fail("未找到基金管理人", "请补充基金管理人")
	}
	if fundName.Value() == "" {
		return fail("未找到基金名称", "请补充基金名称")
	}

	manager := []rune(truncateRunes(pInvalidNameSuffix.ReplaceAllString(managers[0].Value(), ""), 8))
	name := truncateRunes(pInvalidNameSuffix.ReplaceAllString(fundName.Value(), ""), 8)

	blocks := paradiff.MatchingBlocks(string(manager), name)
	if len(blocks) == 1 && pInvalidNameOnly.MatchString(string(manager[blocks[0].A:blocks[0].A+blocks[0].Size])) {
		return fail("基金名称中未包含管理人简称", "请在基金名称中补充管理人全称或简称")
	}
	var shared strings.Builder
	for i, block := range blocks {
		if i > 0 && blocks[i-1].A+blocks[i-1].Size != block.A {
			return fail("基金名称中未包含管理人全称或简称", "请在基金名称中补充管理人全称或简称")
		}
		shared.WriteString(string(manager[block.A : block.A+block.Size]))
	}
	if len([]rune(pInvalidNameSuffix.ReplaceAllString(shared.String(), ""))) < 2 {
		return fail("基金名称中未包含管理人全称或简称", "请在基金名称中补充管理人全称或简称")
	}
	res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchSuccess, Matched: true, ReasonText: "基金名称中包含管理人全称或简称"})
	res.IsCompliance = compliant(true)
	return res
}

// FundNameValidator requires the cover-page fund name to appear in every
// other fund name field and in every page header.
type FundNameValidator struct{}

func (v *FundNameValidator) Label() string { return "schema_474" }

func (v *FundNameValidator) Check(tree *answer.Tree) *Result {
	fields := []string{"基金名称-封面", "基金名称", "募集结算资金专用账户及监督机构-账户名称"}
	res := validatorResult(tree, "全文基金名称保持一致", "基金名称", v.Label(), fields, "", "")
	res.OriginContents = nil

	cover := tree.Get(fields[0])
	if cover.Value() == "" {
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "基金名称不可为空"})
		res.Suggestion = "请添加基金名称"
		res.IsCompliance = compliant(false)
		return res
	}

	matched := true
	for _, field := range fields {
		for _, a := range tree.GetMulti(field) {
			if a.Value() != "" && !strings.Contains(a.Value(), cover.Value()) {
				matched = false
				res.Reasons = append(res.Reasons, Reason{
					Type:       ReasonMatchFailed,
					ReasonText: fmt.Sprintf("基金名称不是“%s”", cover.Value()),
					Page:       a.Page(),
					Outlines:   a.Outlines(),
				})
			}
		}
	}
	if reader := tree.Reader(); reader != nil {
		for _, header := range reader.PageHeaders() {
			if !strings.Contains(interdoc.CleanText(header.Text), cover.Value()) {
				matched = false
				res.Reasons = append(res.Reasons, Reason{
					Type:       ReasonMatchFailed,
					ReasonText: fmt.Sprintf("基金名称不是“%s”", cover.Value()),
					Page:       header.Page,
					Outlines:   interdoc.Outlines{header.Page: {header.Outline}},
				})
				break
			}
		}
	}
	if !matched {
		res.Suggestion = "全文基金名称需保持一致"
	}
	res.IsCompliance = compliant(matched)
	return res
}
