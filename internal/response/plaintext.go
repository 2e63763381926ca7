package response

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// PlainText flattens a markdown chat reply to plain text: headings and
// paragraphs become lines, list items keep a "- " or "N. " prefix, links keep
// their label, code blocks keep their content. The result is then passed
// through Sanitize line by line.
func PlainText(s string) string {
	src := []byte(s)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				switch {
				case node.HardLineBreak():
					buf.WriteByte('\n')
				case node.SoftLineBreak():
					buf.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
				buf.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				buf.WriteString(listPrefix(node))
			}
		case *ast.Heading:
			if !entering {
				buf.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				buf.WriteByte('\n')
			}
		case *ast.Paragraph:
			if !entering {
				buf.WriteByte('\n')
				if _, inList := n.Parent().(*ast.ListItem); !inList {
					buf.WriteByte('\n')
				}
			}
		case *ast.List:
			if !entering {
				if _, nested := n.Parent().(*ast.ListItem); !nested {
					buf.WriteByte('\n')
				}
			}
		}
		return ast.WalkContinue, nil
	})

	return tidyLines(buf.String())
}

func listPrefix(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "- "
	}
	idx := list.Start
	for c := item.PreviousSibling(); c != nil; c = c.PreviousSibling() {
		idx++
	}
	return strconv.Itoa(idx) + ". "
}

// tidyLines sanitizes each line and collapses runs of blank lines.
func tidyLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = Sanitize(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
