package answer

import (
	"strings"

	"github.com/veridocs/inspection-engine/internal/interdoc"
)

// KeyRewrites maps legacy field prefixes to their current schema names.
// Applied at most once per lookup, on exact match or "prefix-" match.
var KeyRewrites = map[string]string{
	"投资比例": "投资比例及限制",
	"投资限制": "投资比例及限制",
}

// SchemaLeaf describes one leaf field of the attached schema.
type SchemaLeaf struct {
	Path  string
	Kind  string
	Multi bool
}

// Tree holds every answer of one (document, schema) pair and resolves
// dotted-path lookups against them.
type Tree struct {
	items          []*Item
	mapping        map[string]*Item
	reader         *interdoc.Reader
	schemaLeaves   map[string]SchemaLeaf
	classification map[string][]string
}

// NewTree builds a tree over stored items. leaves may be nil when no schema
// is attached; classification carries the document's classification
// attributes used by condition rules.
func NewTree(items []*Item, reader *interdoc.Reader, leaves []SchemaLeaf, classification map[string][]string) *Tree {
	t := &Tree{
		items:          items,
		mapping:        make(map[string]*Item, len(items)),
		reader:         reader,
		schemaLeaves:   make(map[string]SchemaLeaf, len(leaves)),
		classification: classification,
	}
	for _, item := range items {
		if path := KeyPath(item.Key); path != "" {
			if _, exists := t.mapping[path]; !exists {
				t.mapping[path] = item
			}
		}
	}
	for _, leaf := range leaves {
		t.schemaLeaves[leaf.Path] = leaf
	}
	return t
}

func (t *Tree) Reader() *interdoc.Reader { return t.reader }

func (t *Tree) Items() []*Item { return t.items }

// resolveKey applies one rewrite pass when the raw path misses.
func (t *Tree) resolveKey(key string) string {
	key = strings.TrimSpace(key)
	if _, ok := t.mapping[key]; ok {
		return key
	}
	for prefix, repl := range KeyRewrites {
		if key == prefix || strings.HasPrefix(key, prefix+"-") {
			rewritten := repl + key[len(prefix):]
			if _, ok := t.mapping[rewritten]; ok {
				return rewritten
			}
			break
		}
	}
	return key
}

// Get returns the first answer for a dotted schema path. A missing path
// yields an empty Answer, never an error.
func (t *Tree) Get(key string) *Answer {
	resolved := t.resolveKey(key)
	return &Answer{item: t.mapping[resolved], name: key, reader: t.reader}
}

// GetMulti returns every answer whose key path matches, insertion order.
func (t *Tree) GetMulti(key string) []*Answer {
	resolved := t.resolveKey(key)
	var out []*Answer
	for _, item := range t.items {
		if KeyPath(item.Key) == resolved {
			out = append(out, &Answer{item: item, name: key, reader: t.reader})
		}
	}
	return out
}

// Peers returns sibling answers: items whose key starts with the prefix
// obtained by stripping the final NAME:INDEX token, excluding the answer
// itself.
func (t *Tree) Peers(a *Answer) []*Answer {
	if a.IsZero() {
		return nil
	}
	prefix := PeerPrefix(a.item.Key)
	var out []*Answer
	for _, item := range t.items {
		if item.Key != a.item.Key && strings.HasPrefix(item.Key, prefix) {
			out = append(out, &Answer{item: item, name: KeyPath(item.Key), reader: t.reader})
		}
	}
	return out
}

// SchemaContains reports whether a leaf path exists in the attached schema.
// With no schema attached every field is assumed present.
func (t *Tree) SchemaContains(name string) bool {
	if len(t.schemaLeaves) == 0 {
		return true
	}
	_, ok := t.schemaLeaves[name]
	return ok
}

// Classification returns the attribute values for one classification name.
func (t *Tree) Classification(name string) []string {
	return t.classification[name]
}

// SchemaResult records per target field whether an answer matched, with its
// first evidence when it did.
type SchemaResult struct {
	Name     string            `json:"name"`
	Matched  bool              `json:"matched"`
	Text     string            `json:"text,omitempty"`
	Page     int               `json:"page,omitempty"`
	Outlines interdoc.Outlines `json:"outlines,omitempty"`
	XPath    string            `json:"xpath,omitempty"`
}

// BuildSchemaResults derives the result envelope rows for a field list.
func (t *Tree) BuildSchemaResults(fields []string) []SchemaResult {
	out := make([]SchemaResult, 0, len(fields))
	for _, name := range fields {
		a := t.Get(name)
		if !a.IsZero() && a.Value() != "" {
			fr := a.FirstResult()
			out = append(out, SchemaResult{
				Name: name, Matched: true,
				Text: fr.Text, Page: fr.Page, Outlines: fr.Outlines, XPath: fr.XPath,
			})
		} else {
			out = append(out, SchemaResult{Name: name})
		}
	}
	return out
}
