package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/veridocs/inspection-engine/internal/rulebook"
)

func writeRulebook(t *testing.T, dir string, schemaID int64, rules []*rulebook.Rule) {
	t.Helper()
	raw, err := json.Marshal(rules)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, fmt.Sprintf("schema_%d.json", schemaID))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileCatalogueSource(t *testing.T) {
	dir := t.TempDir()
	writeRulebook(t, dir, 3, []*rulebook.Rule{
		{ID: 1, Name: "基础要素", Kind: rulebook.KindEmpty, Label: "basic", Enabled: true},
		{ID: 2, Name: "名称一致", Kind: rulebook.KindRegex, Label: "naming", Enabled: true, DependsOn: []int64{1}},
		{ID: 3, Name: "停用规则", Kind: rulebook.KindEmpty, Label: "naming", Enabled: false},
	})
	src := &FileCatalogueSource{Dir: dir}

	t.Run("all labels", func(t *testing.T) {
		cat, err := src.Catalogue(context.Background(), 3, rulebook.FilterSpec{})
		if err != nil {
			t.Fatal(err)
		}
		rules := cat.Rules()
		if len(rules) != 2 {
			t.Fatalf("disabled rules must be dropped, got %d", len(rules))
		}
		if rules[0].ID != 1 || rules[1].ID != 2 {
			t.Errorf("order = %d, %d", rules[0].ID, rules[1].ID)
		}
	})

	t.Run("label filter prunes dangling dependencies", func(t *testing.T) {
		cat, err := src.Catalogue(context.Background(), 3, rulebook.FilterSpec{Labels: []string{"naming"}})
		if err != nil {
			t.Fatal(err)
		}
		rules := cat.Rules()
		if len(rules) != 1 || rules[0].ID != 2 {
			t.Fatalf("rules = %+v", rules)
		}
		if len(rules[0].DependsOn) != 0 {
			t.Errorf("dependency on a filtered-out rule must be pruned: %v", rules[0].DependsOn)
		}
	})

	t.Run("missing schema file", func(t *testing.T) {
		if _, err := src.Catalogue(context.Background(), 99, rulebook.FilterSpec{}); err == nil {
			t.Fatal("expected error for missing rulebook")
		}
	})
}
