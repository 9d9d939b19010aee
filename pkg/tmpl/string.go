package tmpl

import (
	"fmt"
)

// TemplateString is a standalone template that may include or extend
// templates served by a Loader.
type TemplateString string

func (t TemplateString) Validate() error {
	if _, err := ParseString("<string>", string(t)); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	return nil
}

// Render parses, resolves and renders t. loader may be nil when t neither
// extends nor includes other templates.
func (t TemplateString) Render(loader Loader, data map[string]any) (string, error) {
	const self = "<string>"
	doc, err := ParseString(self, string(t))
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	load := func(name string) (*Document, error) {
		if name == self {
			return doc, nil
		}
		if loader == nil {
			return nil, ErrTemplateNotFound{name}
		}
		src, err := loader.Load(name)
		if err != nil {
			return nil, err
		}
		return ParseString(name, src.Text)
	}
	res, err := Resolve(self, load)
	if err != nil {
		return "", err
	}
	inc := IncluderFunc(func(name string) (*Resolved, error) { return Resolve(name, load) })
	return NewRenderer(inc).Render(res, NewContextFromAny(data))
}
