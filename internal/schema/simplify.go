package schema

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Content tags worth keeping in a sanitized snippet. Script, style and
// metadata subtrees are dropped wholesale.
var keepTags = map[string]bool{
	"html": true, "head": true, "body": true, "title": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "div": true, "span": true, "br": true, "hr": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tfoot": true, "tr": true, "th": true, "td": true,
	"a": true, "button": true, "input": true, "textarea": true, "select": true, "option": true, "label": true,
	"form": true, "img": true, "pre": true, "code": true, "strong": true, "em": true, "b": true, "i": true,
}

var dropSubtree = map[string]bool{
	"script": true, "style": true, "noscript": true, "meta": true, "link": true,
}

var voidTags = map[string]bool{
	"br": true, "hr": true, "input": true, "img": true,
}

var keepAttrs = map[string]bool{
	"href": true, "src": true, "alt": true, "title": true,
	"id": true, "class": true,
	"type": true, "value": true, "placeholder": true, "name": true,
	"selected": true, "checked": true, "disabled": true, "readonly": true,
	"aria-label": true, "aria-hidden": true, "role": true,
}

// Sanitize reduces raw HTML to a compact snippet: allowed content tags and
// attributes only, whitespace-collapsed text, comments and metadata gone.
func Sanitize(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := sanitizeNode(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeNode(w io.Writer, n *html.Node) error {
	switch n.Type {
	case html.ErrorNode, html.CommentNode, html.DoctypeNode:
		return nil
	case html.TextNode:
		trimmed := strings.TrimSpace(n.Data)
		if trimmed != "" {
			if _, err := io.WriteString(w, html.EscapeString(trimmed)+" "); err != nil {
				return err
			}
		}
		return nil
	case html.ElementNode:
		if dropSubtree[n.Data] {
			return nil
		}
		if !keepTags[n.Data] {
			return sanitizeChildren(w, n)
		}
		if err := writeOpenTag(w, n); err != nil {
			return err
		}
	}

	if err := sanitizeChildren(w, n); err != nil {
		return err
	}

	if n.Type == html.ElementNode && keepTags[n.Data] && !voidTags[n.Data] {
		if _, err := io.WriteString(w, "</"+n.Data+">"); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeChildren(w io.Writer, n *html.Node) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := sanitizeNode(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeOpenTag(w io.Writer, n *html.Node) error {
	if _, err := io.WriteString(w, "<"+n.Data); err != nil {
		return err
	}
	for _, a := range n.Attr {
		if !keepAttrs[a.Key] {
			continue
		}
		val := strings.TrimSpace(a.Val)
		if val == "" && a.Key != "value" && a.Key != "selected" && a.Key != "checked" &&
			a.Key != "disabled" && a.Key != "readonly" {
			continue
		}
		if _, err := io.WriteString(w, " "+a.Key+"=\""+html.EscapeString(val)+"\""); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, ">")
	return err
}
