package tree

import (
	"fmt"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

// View is a recursive rendering of part of the arena.
// Folder views always carry a non-nil Children slice; file views carry nil.
type View struct {
	models.Node
	Children []*View `json:"children,omitempty"`
}

func newView(n models.Node) *View {
	v := &View{Node: n}
	if n.IsFolder() {
		v.Children = []*View{}
	}
	return v
}

// BuildView renders the subtree rooted at id. BuildView(RootID) renders the
// whole collection under the virtual root.
func (idx *Index) BuildView(id string) (*View, error) {
	return idx.BuildFilteredView(id, nil)
}

// BuildFilteredView renders the subtree rooted at id, leaving out every node
// keep rejects together with everything below it. A nil keep keeps all nodes.
func (idx *Index) BuildFilteredView(id string, keep func(models.Node) bool) (*View, error) {
	var root models.Node
	if id == models.RootID {
		root = Root()
	} else {
		n, ok := idx.nodes[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		root = *n
	}

	top := newView(root)
	stack := []*View{top}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !cur.IsFolder() {
			continue
		}
		for _, child := range idx.ChildrenOf(cur.ID) {
			if keep != nil && !keep(child) {
				continue
			}
			cv := newView(child)
			cur.Children = append(cur.Children, cv)
			stack = append(stack, cv)
		}
	}
	return top, nil
}

// CountNodes counts all nodes in a view, the view's own root included.
func CountNodes(root *View) int {
	if root == nil {
		return 0
	}
	count := 0
	stack := []*View{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, cur.Children...)
	}
	return count
}
