package wbxml

// Builder is a small fluent helper for assembling *Node trees without
// hand-nesting slice literals, used by every EAS command handler to keep
// strict child ordering (e.g. the AirSyncBase Body element order mandated
// by spec.md §4.1) visually obvious at the call site.
type Builder struct {
	stack []*Node
}

// NewBuilder starts a builder rooted at an element on page named name.
func NewBuilder(page Page, name string) *Builder {
	root := Elem(page, name)
	return &Builder{stack: []*Node{root}}
}

// Elem opens a new child element under the current top-of-stack node and
// descends into it.
func (b *Builder) Elem(page Page, name string) *Builder {
	child := Elem(page, name)
	top := b.top()
	top.Children = append(top.Children, child)
	b.stack = append(b.stack, child)
	return b
}

// Text sets the current element's text content.
func (b *Builder) Text(s string) *Builder {
	b.top().Text = s
	return b
}

// Opaque sets the current element's opaque byte content.
func (b *Builder) Opaque(data []byte) *Builder {
	top := b.top()
	top.Opaque = data
	top.IsOpaque = true
	return b
}

// Empty opens and immediately closes a flag element with no content, e.g.
// <MoreAvailable/>.
func (b *Builder) Empty(page Page, name string) *Builder {
	top := b.top()
	top.Children = append(top.Children, Elem(page, name))
	return b
}

// TextElem is Elem+Text+End in one call, the common case for header
// fields like <Subject>.
func (b *Builder) TextElem(page Page, name, text string) *Builder {
	return b.Elem(page, name).Text(text).End()
}

// End closes the current element, returning to its parent.
func (b *Builder) End() *Builder {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
	return b
}

// Node returns the root of the tree built so far. The builder remains
// usable afterwards, but callers typically call this once at the end.
func (b *Builder) Node() *Node {
	return b.stack[0]
}

func (b *Builder) top() *Node {
	return b.stack[len(b.stack)-1]
}

// Top returns the currently open element, for callers that need to splice
// already-built subtrees in directly (e.g. replaying a cached batch).
func (b *Builder) Top() *Node {
	return b.top()
}
