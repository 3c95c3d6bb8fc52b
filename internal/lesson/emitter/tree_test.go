package emitter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comp(action Action, target string, n *Node) Message {
	return Message{Type: TypeComponent, Action: action, TargetID: target, Component: n}
}

func TestTreeActions(t *testing.T) {
	tr := NewTree()
	require.NoError(t, tr.Apply(comp(ActionReplace, RootID, pageContainer("a", "b"))))
	require.NoError(t, tr.Apply(comp(ActionAppend, PageContainerID, cardNode("c1", "one", textNode("c1-t", "x", "body")))))
	require.NoError(t, tr.Apply(comp(ActionAppend, PageContainerID, cardNode("c2", "two"))))

	snap := tr.Snapshot()
	require.Len(t, snap.Children, 1)
	page := snap.Children[0]
	require.Len(t, page.Children, 2)
	assert.Equal(t, "c1", page.Children[0].ID)

	require.NoError(t, tr.Apply(comp(ActionUpdate, "c1", cardNode("c1", "uno", textNode("c1-u", "y", "body")))))
	assert.False(t, tr.Has("c1-t"))
	assert.True(t, tr.Has("c1-u"))
	assert.Equal(t, "uno", tr.Find("c1").Props["title"])
	assert.Equal(t, "c1", tr.Snapshot().Children[0].Children[0].ID, "update keeps position")

	// replacing root drops the old subtree ids
	require.NoError(t, tr.Apply(comp(ActionReplace, RootID, pageContainer("new", ""))))
	assert.False(t, tr.Has("c1"))
	assert.True(t, tr.Has(PageContainerID))
}

func TestTreeRejects(t *testing.T) {
	tr := NewTree()
	require.NoError(t, tr.Apply(comp(ActionReplace, RootID, pageContainer("a", "b"))))
	require.NoError(t, tr.Apply(comp(ActionAppend, PageContainerID, cardNode("c1", ""))))

	err := tr.Apply(comp(ActionAppend, "missing", cardNode("x", "")))
	assert.True(t, errors.Is(err, ErrUnknownTarget))

	err = tr.Apply(comp(ActionAppend, PageContainerID, cardNode("c1", "")))
	assert.True(t, errors.Is(err, ErrDuplicateID))

	err = tr.Apply(comp(ActionAppend, PageContainerID, cardNode("d", "", textNode("d", "", ""))))
	assert.True(t, errors.Is(err, ErrDuplicateID), "duplicate inside one component")

	err = tr.Apply(comp(ActionUpdate, "c1", cardNode("other", "")))
	assert.True(t, errors.Is(err, ErrBadMessage))

	err = tr.Apply(Message{Type: TypeProgress, TargetID: RootID})
	assert.True(t, errors.Is(err, ErrBadMessage))
}

func TestTreeCopiesComponents(t *testing.T) {
	tr := NewTree()
	n := pageContainer("a", "b")
	require.NoError(t, tr.Apply(comp(ActionReplace, RootID, n)))
	n.Props["title"] = "mutated"
	assert.Equal(t, "a", tr.Find(PageContainerID).Props["title"])

	found := tr.Find(PageContainerID)
	found.Props["title"] = "again"
	assert.Equal(t, "a", tr.Find(PageContainerID).Props["title"])
}

func TestUpdatesToDistinctTargetsCommute(t *testing.T) {
	setup := []Message{
		comp(ActionReplace, RootID, pageContainer("a", "b")),
		comp(ActionAppend, PageContainerID, cardNode("m", "media")),
		comp(ActionAppend, PageContainerID, cardNode("s", "sound")),
	}
	u1 := comp(ActionUpdate, "m", cardNode("m", "media ready"))
	u2 := comp(ActionUpdate, "s", cardNode("s", "sound ready"))

	build := func(order ...Message) *Node {
		tr := NewTree()
		for _, m := range append(append([]Message(nil), setup...), order...) {
			require.NoError(t, tr.Apply(m))
		}
		return tr.Snapshot()
	}
	assert.Equal(t, build(u1, u2), build(u2, u1))
}
