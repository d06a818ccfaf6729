package wbxml

// Node is the logical tree the codec converts to and from WBXML bytes.
// Exactly one of Text, Opaque or Children is meaningful for a given node:
// a node with Opaque set encodes its content with the OPAQUE token
// (spec.md §4.1 "Data encoding rule"); a node with Text set uses STR_I;
// a node with Children is a container.
type Node struct {
	Page     Page
	Name     string
	Text     string
	Opaque   []byte
	IsOpaque bool
	Children []*Node
}

// Elem creates an empty container node on page with the given name.
func Elem(page Page, name string) *Node {
	return &Node{Page: page, Name: name}
}

// WithText sets n's inline-string content and returns n for chaining.
func (n *Node) WithText(text string) *Node {
	n.Text = text
	return n
}

// WithOpaque sets n's opaque byte content and returns n for chaining.
func (n *Node) WithOpaque(data []byte) *Node {
	n.Opaque = data
	n.IsOpaque = true
	return n
}

// Add appends children and returns n for chaining.
func (n *Node) Add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// Child returns the first direct child named name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildText returns the text content of the first direct child named name,
// or "" if absent.
func (n *Node) ChildText(name string) string {
	if c := n.Child(name); c != nil {
		return c.Text
	}
	return ""
}

// HasChild reports whether n has a direct child named name (used for
// empty/flag elements like <MoreAvailable/>).
func (n *Node) HasChild(name string) bool {
	return n.Child(name) != nil
}
