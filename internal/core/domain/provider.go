package domain

import "strings"

type ProviderID string

const (
	ProviderSerpro    ProviderID = "serpro"
	ProviderOobj      ProviderID = "oobj"
	ProviderWebmania  ProviderID = "webmania"
	ProviderSynthetic ProviderID = "synthetic"
)

func ParseProviderID(s string) (ProviderID, bool) {
	switch id := ProviderID(strings.ToLower(strings.TrimSpace(s))); id {
	case ProviderSerpro, ProviderOobj, ProviderWebmania:
		return id, true
	default:
		return "", false
	}
}

// ProviderPayload is the closed set of response shapes a provider may return.
// Only the three types below implement it.
type ProviderPayload interface {
	payloadShape() string
}

// XMLPayload carries an NF-e/NFC-e document decoded into a generic tree.
type XMLPayload struct {
	Root *XMLNode
}

// WrappedJSONPayload is the dialect nesting everything under one "retorno" object.
type WrappedJSONPayload struct {
	Body map[string]any
}

// FlatJSONPayload is the dialect with top-level fields.
type FlatJSONPayload struct {
	Body map[string]any
}

func (XMLPayload) payloadShape() string         { return "xml" }
func (WrappedJSONPayload) payloadShape() string { return "json_wrapped" }
func (FlatJSONPayload) payloadShape() string    { return "json_flat" }

// ShapeOf names the payload variant for logs.
func ShapeOf(p ProviderPayload) string {
	if p == nil {
		return "none"
	}
	return p.payloadShape()
}

type ProviderQueryResult struct {
	Provider    ProviderID
	AccessKey   AccessKey
	Payload     ProviderPayload
	Raw         []byte
	ContentType string
	Synthetic   bool
}

// XMLNode is one element of a decoded XML document.
type XMLNode struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*XMLNode
}

// Child returns the first direct child with the given local name.
func (n *XMLNode) Child(name string) *XMLNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child with the given local name, in document order.
func (n *XMLNode) ChildrenNamed(name string) []*XMLNode {
	if n == nil {
		return nil
	}
	var out []*XMLNode
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Path walks direct children by name; nil when any step is missing.
func (n *XMLNode) Path(names ...string) *XMLNode {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// TextAt returns the trimmed text at path, or "".
func (n *XMLNode) TextAt(names ...string) string {
	node := n.Path(names...)
	if node == nil {
		return ""
	}
	return strings.TrimSpace(node.Text)
}

func (n *XMLNode) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}
