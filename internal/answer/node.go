package answer

import (
	"sort"
	"strings"
)

// Node is one vertex of the answer tree built from stored item key paths.
// Leaves carry the Item; inner nodes carry branches keyed by child name and
// index.
type Node struct {
	Path     []PathSegment
	Data     *Item
	branches map[string]map[int]*Node
}

func (n *Node) Name() string {
	if len(n.Path) == 0 {
		return ""
	}
	return n.Path[len(n.Path)-1].Name
}

func (n *Node) IsLeaf() bool { return n.branches == nil }

// Branch returns the indexed children under one name, nil when absent.
func (n *Node) Branch(name string) map[int]*Node {
	return n.branches[name]
}

// Child returns the node at (name, idx), nil when absent.
func (n *Node) Child(name string, idx int) *Node {
	return n.branches[name][idx]
}

// BranchNames lists child names in sorted order for deterministic walks.
func (n *Node) BranchNames() []string {
	names := make([]string, 0, len(n.branches))
	for name := range n.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descendants walks the subtree depth-first. With onlyLeaf set, inner nodes
// are skipped.
func (n *Node) Descendants(onlyLeaf bool) []*Node {
	var out []*Node
	for _, name := range n.BranchNames() {
		branch := n.branches[name]
		idxs := make([]int, 0, len(branch))
		for idx := range branch {
			idxs = append(idxs, idx)
		}
		sort.Ints(idxs)
		for _, idx := range idxs {
			child := branch[idx]
			if child.IsLeaf() {
				out = append(out, child)
				continue
			}
			if !onlyLeaf {
				out = append(out, child)
			}
			out = append(out, child.Descendants(onlyLeaf)...)
		}
	}
	return out
}

// BuildNode assembles the answer tree from stored items. The root layer
// (schema name) is skipped, matching the addressable paths used by Get.
// Returns nil when no item has a parseable key.
func BuildNode(items []*Item) *Node {
	root := &Node{branches: map[string]map[int]*Node{}}
	valid := false
	for _, item := range items {
		segs := ParsePath(item.Key)
		if len(segs) < 2 {
			continue
		}
		valid = true
		cur := root
		for i, seg := range segs[1:] {
			if cur.branches == nil {
				cur.branches = map[string]map[int]*Node{}
			}
			branch := cur.branches[seg.Name]
			if branch == nil {
				branch = map[int]*Node{}
				cur.branches[seg.Name] = branch
			}
			child := branch[seg.Index]
			if child == nil {
				child = &Node{Path: append(append([]PathSegment{}, cur.Path...), seg)}
				branch[seg.Index] = child
			}
			cur = child
			if i == len(segs)-2 {
				cur.Data = item
			}
		}
	}
	if !valid {
		return nil
	}
	return root
}

// compositeWeight orders the parts of a money-like composite leaf group.
var compositeWeight = map[string]int{"币种": 0, "金额": 1, "数值": 1, "单位": 2}

func isCompositeName(name string) bool {
	_, ok := compositeWeight[name]
	return ok
}

// Folded is the flattened view of a composite node: the joined display text
// plus the item whose position should anchor the finding.
type Folded struct {
	Text   string
	Anchor *Item
}

// Fold flattens a composite node into "币种: x|金额: y|单位: z" form. Groups
// repeating the first name start on a new line. The anchor prefers 金额 or
// 数值 evidence.
func Fold(n *Node) Folded {
	if n.IsLeaf() {
		return Folded{Text: leafText(n.Data), Anchor: n.Data}
	}
	leaves := n.Descendants(true)
	if len(leaves) == 0 {
		return Folded{}
	}
	sort.SliceStable(leaves, func(i, j int) bool {
		return weightOf(leaves[i].Name()) < weightOf(leaves[j].Name())
	})
	first := leaves[0]
	out := Folded{Anchor: first.Data}
	var sb strings.Builder
	sb.WriteString(first.Name() + ": " + strings.TrimSpace(leafText(first.Data)))
	for _, leaf := range leaves[1:] {
		sep := "|"
		if leaf.Name() == first.Name() {
			sep = "\n"
		}
		sb.WriteString(sep + leaf.Name() + ": " + strings.TrimSpace(leafText(leaf.Data)))
		if leaf.Name() == "金额" || leaf.Name() == "数值" {
			out.Anchor = leaf.Data
		}
	}
	out.Text = sb.String()
	return out
}

// FoldGroup flattens multiple sibling nodes, joining group texts with
// newlines. Composite-part nodes only keep the first group; extra groups on
// those are annotation noise.
func FoldGroup(nodes []*Node) Folded {
	if len(nodes) == 0 {
		return Folded{}
	}
	first := Fold(nodes[0])
	if isCompositeName(nodes[0].Name()) {
		return first
	}
	texts := []string{first.Text}
	for _, n := range nodes[1:] {
		texts = append(texts, Fold(n).Text)
	}
	first.Text = strings.Join(texts, "\n")
	return first
}

func weightOf(name string) int {
	if w, ok := compositeWeight[name]; ok {
		return w
	}
	return 3
}

func leafText(item *Item) string {
	a := Answer{item: item}
	return a.Value()
}
