package checkpoint

import (
	"strings"
	"text/template"
)

var scenarioTpl = template.Must(template.New("scenario").Parse(`请帮我从场景列表中选择法规的全部适用场景

场景列表: {{ .Scenarios }}
法规: {{ .RuleContent }}

输出 JSON：{"scenarios": ["..."]}
`))

var keywordsTpl = template.Must(template.New("keywords").Parse(`你是金融行业相关法律法规资深人事, 帮我找出法规中关键词, 用来搜索相关合同文本

规则文本: {{ .RuleContent }}

请输出为关键词列表，JSON：{"keywords": ["..."]}
`))

var focusAreaTpl = template.Must(template.New("focusArea").Parse(`
你需要从以下单条法规条款中，{{ .Method }}与{{ .Scenario }}合规相关的“关注领域/条款类型”（如“信息披露”），并为每个领域关联具体的行业风险。具体要求如下：

### 一、任务目标
基于{{ .Scenario }}监管的行业常识（如“信息披露缺失可能被监管处罚”），从给定的单条法规条款中{{ .Method }}核心约束内容，按“领域/条款类型”分类，并说明该条款对应的行业风险。

### 二、输入内容
法规名称:《{{ .LawName }}》
法规条款： {{ .RuleContent }}
法规场景: {{ .Scenario }}


### 三、分析规则（需严格遵循）
#### 1. 提取核心约束内容
从单条条款中提取以下信息：
- 约束对象（如“{{ .Scenario }}管理人”“投资者”）；
- 核心要求（如“初始实缴规模≥1000万元”“不得短期赎回规避”）；
- 约束类型（禁止性/程序性/义务性）。

#### 2. 关联行业风险（基于模型内置知识）
根据{{ .Scenario }}行业的常见风险（如“信息披露风险”），将提取的核心约束内容与风险点匹配，判断其对应的行业风险。

#### 3. 生成关注领域
将核心约束内容归纳为更上层的领域/条款类型（如“投资者适当性管理”）。

### 四、输出格式（严格按JSON输出）
{"law_name": "...", "rule_content": "...", "scenario": "...", "focus_area": [{"focus_name": "...", "focus_core": "...", "focus_risk": "..."}]}
`))

var splitCheckPointTpl = template.Must(template.New("splitCheckPoint").Parse(`你需要基于以下信息，将法规《{{ .LawName }}》的一条法规内容拆分为可执行的审核点，用于后续{{ .Scenario }}场景相关合同的合规审核；具体要求如下：

### 一、输入信息

- 法规名称:《{{ .LawName }}》
- 法规条款： {{ .RuleContent }}

- 关注领域：
  1. {{ .FocusName }}
- 核心要求：
  1. {{ .FocusCore }}
- 风险关联：
  1. {{ .FocusRisk }}

### 二、任务目标
从法规中提取与[关注领域]强相关的条款，拆分为审核点，每个审核点需包含以下信息：
- 法规依据（条款原文）；
- 审核点类型（禁止性/程序性/义务性）；
- 行为主体（约束对象，如“私募基金管理人”“投资者”）；
- 核心要求（需遵守的具体行为，需与输入的“核心要求”绑定）；
- 验证方式（审核时如何检查合规，需关联“风险关联”）；
- 排除原因（若条款不拆分，需说明原因）。

### 三、分析规则（模型需严格遵循）
#### 1. 定位关联条款
从法规中定位与[关注领域]直接相关的条款（如“初始实缴规模”“投资者赎回限制”“清算程序”等）。

#### 2. 匹配审核点类型
根据条款内容，判断其类型（禁止性/程序性/义务性）：
- 禁止性条款：法规中包含“不得”“禁止”等否定词，要求主体不做某事；
- 义务性条款：法规中包含“应当”“必须”等肯定词，要求主体做某事；
- 程序性条款：法规中规定行为流程、时限或形式（如“需在…前完成”“应通过…方式”）。

#### 3. 设计验证方式
验证方式需与[风险关联]绑定，确保审核能直接降低风险（如“检查合同是否约定初始实缴≥1000万元”对应“规模不足风险”）。

#### 4. 排除无关条款
若条款与[关注领域]无直接关联（如“争议解决方式”），标注“无”并说明原因。

### 四、输出格式（严格按JSON输出）
{"check_points": [{"focus_name": "...", "check_type": "禁止性|程序性|义务性|无", "subject": "...", "law_name": "...", "rule_content": "...", "focus_core": "...", "check_method": "...", "exclude_reason": "..."}]}
`))

var fillTemplateTpl = template.Must(template.New("fillTemplate").Parse(`### 一、任务目标
基于范文，总结核心约束内容和领域名称

### 二、输入内容
范文：
{{ .RuleContent }}

### 三、分析规则（模型需严格遵循）
#### 1. 提取核心约束内容
从范文中总结出以下信息：
- 约束对象：通过范文总结，如“私募基金管理人”“投资者”，需要唯一；
- 约束类型：禁止性/义务性/程序性，需要唯一；
- 领域名称：通过范文总结一个简单的名称；

输出格式（严格按JSON输出）
{"focus_name": "...", "subject": "...", "check_type": "禁止性|程序性|义务性"}
`))

func renderPrompt(tpl *template.Template, data any) string {
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		// templates are static and data is plain structs; an error here is
		// a programming mistake
		panic(err)
	}
	return sb.String()
}
