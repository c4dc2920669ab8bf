// Package richtext builds structured rich-text documents from simple
// HTML-like templates.
//
// The recognizer is intentionally narrow. It knows three block shapes
// (heading, list, paragraph) and anything it does not recognize becomes a
// paragraph holding the text verbatim. It is not an HTML parser.
//
// The JSON encoding of a document matches the Contentful rich-text format:
//
//	{"nodeType":"document","data":{},"content":[
//	    {"nodeType":"heading-2","data":{},"content":[
//	        {"nodeType":"text","value":"Hello","marks":[],"data":{}}]}]}
package richtext

import (
	"encoding/json"
	"strconv"
)

// NodeType is the tag carried by every node in a document tree.
type NodeType string

const (
	NodeDocument      NodeType = "document"
	NodeParagraph     NodeType = "paragraph"
	NodeUnorderedList NodeType = "unordered-list"
	NodeOrderedList   NodeType = "ordered-list"
	NodeListItem      NodeType = "list-item"
	NodeText          NodeType = "text"
)

// HeadingType returns the node type for a heading of the given level (1-6).
func HeadingType(level int) NodeType {
	return NodeType("heading-" + strconv.Itoa(level))
}

// Node is either a Block or a Text.
type Node interface {
	Type() NodeType
	node()
}

// Text is a leaf node holding a literal string.
type Text struct {
	Value string
}

func (Text) Type() NodeType { return NodeText }
func (Text) node()          {}

// MarshalJSON encodes the text node with empty marks and data.
func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		NodeType NodeType       `json:"nodeType"`
		Value    string         `json:"value"`
		Marks    []any          `json:"marks"`
		Data     map[string]any `json:"data"`
	}{
		NodeType: NodeText,
		Value:    t.Value,
		Marks:    []any{},
		Data:     map[string]any{},
	})
}

// Block is a structural node with ordered children.
type Block struct {
	NodeType NodeType
	Content  []Node
}

func (b Block) Type() NodeType { return b.NodeType }
func (Block) node()            {}

// MarshalJSON encodes the block. Content is always a list, never null.
func (b Block) MarshalJSON() ([]byte, error) {
	content := b.Content
	if content == nil {
		content = []Node{}
	}
	return json.Marshal(struct {
		NodeType NodeType       `json:"nodeType"`
		Data     map[string]any `json:"data"`
		Content  []Node         `json:"content"`
	}{
		NodeType: b.NodeType,
		Data:     map[string]any{},
		Content:  content,
	})
}

// Document is the root of a rich-text tree.
type Document = Block

// NewDocument returns a document node with the given children.
func NewDocument(children ...Node) Document {
	if children == nil {
		children = []Node{}
	}
	return Block{NodeType: NodeDocument, Content: children}
}

func textBlock(t NodeType, value string) Block {
	return Block{NodeType: t, Content: []Node{Text{Value: value}}}
}
