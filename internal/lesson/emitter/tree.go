package emitter

import (
	"errors"
	"fmt"
)

const RootID = "root"

var (
	ErrUnknownTarget = errors.New("unknown target node")
	ErrDuplicateID   = errors.New("duplicate node id")
	ErrBadMessage    = errors.New("malformed component message")
)

// Tree is the server-side mirror of the client UI. It starts with an empty
// root and only changes through component messages.
type Tree struct {
	root   *Node
	index  map[string]*Node
	parent map[string]*Node
}

func NewTree() *Tree {
	root := &Node{ID: RootID, Type: "Root"}
	return &Tree{
		root:   root,
		index:  map[string]*Node{RootID: root},
		parent: map[string]*Node{},
	}
}

// Apply mutates the tree per a component message. The component is copied;
// later changes to it do not affect the tree.
//
//	replace: the target's children become [component]
//	append:  component is added as the target's last child
//	update:  the target node itself is swapped for component, keeping its id
func (t *Tree) Apply(m Message) error {
	if m.Type != TypeComponent || m.Component == nil || m.TargetID == "" {
		return ErrBadMessage
	}
	target, ok := t.index[m.TargetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, m.TargetID)
	}
	comp := m.Component.Clone()

	switch m.Action {
	case ActionReplace:
		keep := map[string]bool{}
		for _, c := range target.Children {
			collectIDs(c, keep)
		}
		if err := t.checkNew(comp, keep); err != nil {
			return err
		}
		for _, c := range target.Children {
			t.unindex(c)
		}
		target.Children = []*Node{comp}
		t.indexTree(comp, target)
	case ActionAppend:
		if err := t.checkNew(comp, nil); err != nil {
			return err
		}
		target.Children = append(target.Children, comp)
		t.indexTree(comp, target)
	case ActionUpdate:
		if comp.ID == "" {
			comp.ID = target.ID
		}
		if comp.ID != target.ID {
			return fmt.Errorf("%w: update of %s carries id %s", ErrBadMessage, target.ID, comp.ID)
		}
		if target == t.root {
			return fmt.Errorf("%w: root cannot be updated", ErrBadMessage)
		}
		keep := map[string]bool{}
		collectIDs(target, keep)
		if err := t.checkNew(comp, keep); err != nil {
			return err
		}
		parent := t.parent[target.ID]
		t.unindex(target)
		for i, c := range parent.Children {
			if c == target {
				parent.Children[i] = comp
				break
			}
		}
		t.indexTree(comp, parent)
	default:
		return fmt.Errorf("%w: action %q", ErrBadMessage, m.Action)
	}
	return nil
}

// checkNew rejects ids in n that already exist outside the replaced subtree.
func (t *Tree) checkNew(n *Node, replaced map[string]bool) error {
	seen := map[string]bool{}
	var walk func(*Node) error
	walk = func(n *Node) error {
		if n.ID == "" {
			return fmt.Errorf("%w: node of type %s has no id", ErrBadMessage, n.Type)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		seen[n.ID] = true
		if _, exists := t.index[n.ID]; exists && !replaced[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(n)
}

func (t *Tree) indexTree(n, parent *Node) {
	t.index[n.ID] = n
	t.parent[n.ID] = parent
	for _, c := range n.Children {
		t.indexTree(c, n)
	}
}

func (t *Tree) unindex(n *Node) {
	delete(t.index, n.ID)
	delete(t.parent, n.ID)
	for _, c := range n.Children {
		t.unindex(c)
	}
}

func collectIDs(n *Node, into map[string]bool) {
	into[n.ID] = true
	for _, c := range n.Children {
		collectIDs(c, into)
	}
}

// Snapshot returns a deep copy of the whole tree.
func (t *Tree) Snapshot() *Node { return t.root.Clone() }

// Find returns a copy of the node with id, or nil.
func (t *Tree) Find(id string) *Node {
	if n, ok := t.index[id]; ok {
		return n.Clone()
	}
	return nil
}

func (t *Tree) Has(id string) bool {
	_, ok := t.index[id]
	return ok
}
