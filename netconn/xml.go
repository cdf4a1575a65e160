package netconn

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmptyDocument = errors.New("deepview: empty xml document")

// Element is a generic XML element. Metadata files are small and loosely structured,
// so callers read attributes by name instead of binding to fixed structs.
type Element struct {
	Name     string
	Attrs    map[string]string
	Children []*Element
	Text     string
}

// Attr returns the attribute value, matching the name case-insensitively.
func (e *Element) Attr(name string) (string, bool) {
	if v, ok := e.Attrs[name]; ok {
		return v, true
	}
	for k, v := range e.Attrs {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Find returns the first descendant (or e itself) with the given name.
func (e *Element) Find(name string) *Element {
	if strings.EqualFold(e.Name, name) {
		return e
	}
	for _, child := range e.Children {
		if found := child.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// ParseXML reads a document and returns its root element.
func ParseXML(r io.Reader) (*Element, error) {
	decoder := xml.NewDecoder(r)
	var stack []*Element
	var root *Element
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			e := &Element{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				e.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, e)
			} else if root == nil {
				root = e
			}
			stack = append(stack, e)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += strings.TrimSpace(string(t))
			}
		}
	}
	if root == nil {
		return nil, ErrEmptyDocument
	}
	return root, nil
}
