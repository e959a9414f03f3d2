// Package document extracts values from HTML pages using CSS selectors.
package document

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrNoMatch is returned when a selector matches nothing.
var ErrNoMatch = errors.New("no element matches selector")

type Document struct {
	root *html.Node
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse for an in-memory page.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// First returns the first node matching selector.
func (d *Document) First(selector string) (*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	n := cascadia.Query(d.root, sel)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, selector)
	}
	return n, nil
}

// All returns every node matching selector in document order.
func (d *Document) All(selector string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	return cascadia.QueryAll(d.root, sel), nil
}

// FirstAttr returns attribute name of the first node matching selector.
func (d *Document) FirstAttr(selector, name string) (string, error) {
	n, err := d.First(selector)
	if err != nil {
		return "", err
	}
	v, ok := Attr(n, name)
	if !ok {
		return "", fmt.Errorf("%s: missing attribute %s", selector, name)
	}
	return v, nil
}

// Attr looks up an attribute on n.
func Attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
