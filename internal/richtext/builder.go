package richtext

import (
	"regexp"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{([^}]+)\}`)
	headingRe     = regexp.MustCompile(`(?is)^<h([1-6])>(.*)</h([1-6])>$`)
	listRe        = regexp.MustCompile(`(?is)^<(ul|ol)>(.*)</(ul|ol)>$`)
	listItemRe    = regexp.MustCompile(`(?is)<li>(.*?)</li>`)
	paragraphRe   = regexp.MustCompile(`(?is)^<p>(.*)</p>$`)
)

// Substitute replaces every {Header} placeholder in template with the
// record value for Header, or the empty string if the record has none.
// Values inserted by substitution are not scanned again.
func Substitute(template string, record map[string]string) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		header := strings.TrimSpace(match[1 : len(match)-1])
		return record[header]
	})
}

// shape is one of the block forms the recognizer understands.
type shape interface {
	block() Block
}

type heading struct {
	level int
	text  string
}

func (h heading) block() Block {
	return textBlock(HeadingType(h.level), h.text)
}

type list struct {
	ordered bool
	items   []string
}

func (l list) block() Block {
	kind := NodeUnorderedList
	if l.ordered {
		kind = NodeOrderedList
	}
	children := make([]Node, 0, len(l.items))
	for _, item := range l.items {
		children = append(children, Block{
			NodeType: NodeListItem,
			Content:  []Node{textBlock(NodeParagraph, item)},
		})
	}
	return Block{NodeType: kind, Content: children}
}

type paragraph struct {
	text string
}

func (p paragraph) block() Block {
	return textBlock(NodeParagraph, p.text)
}

// recognize classifies already-substituted text. It returns nil when the
// text yields no content.
func recognize(text string) shape {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if m := headingRe.FindStringSubmatch(text); m != nil && m[1] == m[3] {
		return heading{level: int(m[1][0] - '0'), text: strings.TrimSpace(m[2])}
	}

	if m := listRe.FindStringSubmatch(text); m != nil && strings.EqualFold(m[1], m[3]) {
		var items []string
		for _, im := range listItemRe.FindAllStringSubmatch(m[2], -1) {
			if item := strings.TrimSpace(im[1]); item != "" {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			return list{ordered: strings.EqualFold(m[1], "ol"), items: items}
		}
	}

	value := text
	if m := paragraphRe.FindStringSubmatch(text); m != nil {
		value = strings.TrimSpace(m[1])
	}
	if value == "" {
		return nil
	}
	return paragraph{text: value}
}

// BuildNode converts a single substituted template into a block node.
// The boolean is false when the text is empty after trimming.
func BuildNode(text string) (Block, bool) {
	s := recognize(text)
	if s == nil {
		return Block{}, false
	}
	return s.block(), true
}

// BuildDocument substitutes each template against record and collects the
// resulting blocks, in template order, under a document node.
func BuildDocument(templates []string, record map[string]string) Document {
	children := make([]Node, 0, len(templates))
	for _, tmpl := range templates {
		if b, ok := BuildNode(Substitute(tmpl, record)); ok {
			children = append(children, b)
		}
	}
	return NewDocument(children...)
}
