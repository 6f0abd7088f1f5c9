package interdoc

import (
	"archive/zip"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"
)

func TestCleanText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  基金 合同\t", "基金合同"},
		{"第一章　总则", "第一章总则"},
		{"明世伙伴\n价值成长", "明世伙伴价值成长"},
		{"   ", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanText(tc.in); got != tc.want {
			t.Errorf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"第一章　基金的基本情况", "基金的基本情况"},
		{"第十二条 基金备案", "基金备案"},
		{"（一）投资范围：", "投资范围"},
		{"(三)费用与税收", "费用与税收"},
		{"二、当事人及权利义务", "当事人及权利义务"},
		{"1.2 风险揭示", "风险揭示"},
		{"12、信息披露", "信息披露"},
		{"基金份额的认购", "基金份额的认购"},
	}
	for _, tc := range cases {
		if got := CleanTitle(tc.in); got != tc.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeParens(t *testing.T) {
	if got := NormalizeParens("(一)基金名称(试行)"); got != "（一）基金名称（试行）" {
		t.Errorf("NormalizeParens = %q", got)
	}
}

// testDoc builds a two-page contract fixture: a cover title, one chapter
// with a nested heading, a fee table, and a second top-level heading whose
// cleaned title collides with the nested one.
func testDoc() *Document {
	return &Document{
		Paragraphs: []Element{
			{Index: 0, Type: ElementParagraph, Text: "示范基金合同", Page: 0,
				Outline: Box{10, 5, 200, 25}, Syllabus: -1},
			{Index: 1, Type: ElementParagraph, Text: "第一章　基金的基本情况", Page: 0,
				Outline: Box{10, 30, 200, 50}, Syllabus: 1},
			{Index: 2, Type: ElementParagraph, Text: "本基金为契约型私募证券投资基金。", Page: 0,
				Outline: Box{10, 55, 200, 75}, Syllabus: 1},
			{Index: 3, Type: ElementParagraph, Text: "（一）基金名称", Page: 1,
				Outline: Box{10, 5, 200, 25}, Syllabus: 3},
			{Index: 4, Type: ElementParagraph, Text: "基金名称：明世伙伴价值成长私募证券投资基金", Page: 1,
				Outline: Box{10, 30, 200, 50}, Syllabus: 3},
			{Index: 5, Type: ElementTable, Page: 1,
				Outline: Box{10, 55, 200, 120}, Syllabus: 3,
				Cells: []Cell{
					{Row: 0, Col: 0, Text: "份额类别"},
					{Row: 0, Col: 1, Text: "A类"},
					{Row: 1, Col: 0, Text: "管理费率"},
					{Row: 1, Col: 1, Text: "1.5%"},
					{Row: 2, Col: 0, Text: "-"},
				}},
			{Index: 6, Type: ElementParagraph, Text: "一、基金名称", Page: 2,
				Outline: Box{10, 5, 200, 25}, Syllabus: 6},
		},
		Syllabuses: []Syllabus{
			{Index: 1, Title: "第一章　基金的基本情况", Level: 1, Parent: -1, Range: [2]int{1, 6}},
			{Index: 3, Title: "（一）基金名称", Level: 2, Parent: 1, Range: [2]int{3, 6}},
			{Index: 6, Title: "一、基金名称", Level: 1, Parent: -1, Range: [2]int{6, 7}},
		},
	}
}

func TestElementsInRange(t *testing.T) {
	r := NewReader(testDoc())
	els := r.ElementsInRange(1, 4)
	if len(els) != 3 || els[0].Index != 1 || els[2].Index != 3 {
		t.Fatalf("range [1,4) = %+v", els)
	}
}

func TestFindSyllabusByClearTitle(t *testing.T) {
	r := NewReader(testDoc())

	got := r.FindSyllabusByClearTitle("基金的基本情况", false)
	if len(got) != 1 || got[0].Index != 1 {
		t.Fatalf("chapter lookup = %+v", got)
	}
	// Raw chapter heading resolves to the same node.
	if got := r.FindSyllabusByClearTitle("第一章 基金的基本情况", false); len(got) != 1 || got[0].Index != 1 {
		t.Fatalf("numbered lookup = %+v", got)
	}

	// "基金名称" appears under two headings once numbering is stripped.
	all := r.FindSyllabusByClearTitle("基金名称", true)
	if len(all) != 2 || all[0].Index != 3 || all[1].Index != 6 {
		t.Fatalf("multi lookup = %+v", all)
	}
	if first := r.FindSyllabusByClearTitle("基金名称", false); len(first) != 1 {
		t.Fatalf("single lookup = %+v", first)
	}

	if got := r.FindSyllabusByClearTitle("", true); got != nil {
		t.Errorf("empty title = %+v", got)
	}
}

func TestFindChaptersByPatterns(t *testing.T) {
	r := NewReader(testDoc())
	patterns := []*regexp.Regexp{regexp.MustCompile("基本情况|基金名称")}

	fwd := r.FindChaptersByPatterns(patterns, false)
	if len(fwd) != 3 || fwd[0].Index != 1 {
		t.Fatalf("forward = %+v", fwd)
	}
	rev := r.FindChaptersByPatterns(patterns, true)
	if rev[0].Index != 6 {
		t.Fatalf("reverse = %+v", rev)
	}
}

func TestParentSyllabuses(t *testing.T) {
	r := NewReader(testDoc())

	chain := r.ParentSyllabuses(4)
	if len(chain) != 2 || chain[0].Index != 3 || chain[1].Index != 1 {
		t.Fatalf("chain = %+v", chain)
	}
	if chain := r.ParentSyllabuses(0); len(chain) != 0 {
		t.Errorf("cover title chain = %+v", chain)
	}
	if chain := r.ParentSyllabuses(99); len(chain) != 0 {
		t.Errorf("unknown index chain = %+v", chain)
	}
}

func TestParagraphsBySyllabus(t *testing.T) {
	r := NewReader(testDoc())
	s := r.SyllabusByIndex(3)
	if s == nil {
		t.Fatal("syllabus 3 missing")
	}

	paras := r.ParagraphsBySyllabus(s, 2)
	// Heading excluded; the "-" cell is shorter than two runes and dropped.
	var texts []string
	for _, el := range paras {
		texts = append(texts, el.Text)
	}
	want := []string{
		"基金名称：明世伙伴价值成长私募证券投资基金",
		"份额类别", "A类", "管理费率", "1.5%",
	}
	if !reflect.DeepEqual(texts, want) {
		t.Fatalf("paragraphs = %v", texts)
	}
	if paras[1].Fragment {
		t.Error("first cell marked fragment")
	}
	if !paras[2].Fragment || !paras[4].Fragment {
		t.Error("later cells not marked fragment")
	}

	if got := r.ParagraphsBySyllabus(nil, 0); got != nil {
		t.Errorf("nil syllabus = %+v", got)
	}
}

func TestTableMarkdown(t *testing.T) {
	el := &Element{Type: ElementTable, Cells: []Cell{
		{Row: 0, Col: 0, Text: "份额类别"},
		{Row: 0, Col: 1, Text: "A类"},
		{Row: 1, Col: 0, Text: "管理费率"},
		{Row: 1, Col: 1, Text: "1.5%\n（年化）"},
	}}
	want := "| 份额类别 | A类 |\n" +
		"| --- | --- |\n" +
		"| 管理费率 | 1.5% （年化） |\n"
	if got := TableMarkdown(el); got != want {
		t.Errorf("markdown =\n%s\nwant\n%s", got, want)
	}

	if got := TableMarkdown(&Element{Type: ElementParagraph}); got != "" {
		t.Errorf("non-table markdown = %q", got)
	}
}

func TestOutlines(t *testing.T) {
	o := Outlines{
		2: {{0, 0, 10, 10}},
		1: {{10, 30, 100, 50}, {50, 20, 150, 60}},
	}
	page, ok := o.FirstPage()
	if !ok || page != 1 {
		t.Fatalf("first page = %d, %v", page, ok)
	}
	page, bb, ok := o.BoundingBox()
	if !ok || page != 1 || bb != (Box{10, 20, 150, 60}) {
		t.Fatalf("bounding box = %d %v %v", page, bb, ok)
	}
	if _, ok := (Outlines{}).FirstPage(); ok {
		t.Error("empty outlines reported a page")
	}
}

func TestElementAtOutline(t *testing.T) {
	r := NewReader(testDoc())

	el := r.ElementAtOutline(1, Box{12, 32, 100, 48})
	if el == nil || el.Index != 4 {
		t.Fatalf("element = %+v", el)
	}
	if got := r.XPathByOutline(1, Box{12, 32, 100, 48}); got != "/page[1]/element[4]" {
		t.Errorf("xpath = %q", got)
	}
	if el := r.ElementAtOutline(1, Box{500, 500, 600, 600}); el != nil {
		t.Errorf("off-page element = %+v", el)
	}
}

func TestChapterTitlesByOutlines(t *testing.T) {
	r := NewReader(testDoc())

	titles := r.ChapterTitlesByOutlines(Outlines{1: {{12, 32, 100, 48}}})
	want := []string{"第一章基金的基本情况", "（一）基金名称"}
	if !reflect.DeepEqual(titles, want) {
		t.Fatalf("titles = %v", titles)
	}
	if titles := r.ChapterTitlesByOutlines(nil); titles != nil {
		t.Errorf("empty outlines = %v", titles)
	}
}

func TestTitleXPath(t *testing.T) {
	r := NewReader(testDoc())
	if got := r.TitleXPath(); got != "/page[0]/element[0]" {
		t.Errorf("title xpath = %q", got)
	}
	if got := NewReader(&Document{}).TitleXPath(); got != "" {
		t.Errorf("empty document xpath = %q", got)
	}
}

func TestOpenArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contract.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	entry, err := zw.Create("document.json")
	if err != nil {
		t.Fatal(err)
	}
	payload := `{
		"paragraphs": [{"index": 0, "type": "PARAGRAPH", "text": "示范基金合同", "page": 0}],
		"syllabuses": [{"index": 0, "title": "示范基金合同", "level": 0, "range": [0, 1], "parent": -1}]
	}`
	if _, err := entry.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	doc, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(doc.Paragraphs) != 1 || doc.Paragraphs[0].Text != "示范基金合同" {
		t.Fatalf("paragraphs = %+v", doc.Paragraphs)
	}
	if len(doc.Syllabuses) != 1 || doc.Syllabuses[0].Range != [2]int{0, 1} {
		t.Fatalf("syllabuses = %+v", doc.Syllabuses)
	}

	if _, err := OpenArchive(filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Error("missing archive did not error")
	}
}
