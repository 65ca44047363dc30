// Package formatters provides the default message-template renderer and the
// byte formatters used by the concrete destinations.
package formatters

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedTemplate marks a template with unbalanced or empty holes.
var ErrMalformedTemplate = errors.New("malformed message template")

// ErrMissingProperty marks a template hole with no matching property.
var ErrMissingProperty = errors.New("missing template property")

// TemplateRenderer renders message templates with {Name} holes, e.g.
// "user {UserID} logged in from {IP}". Doubled braces are literals.
// Rendering is a pure function of the template and properties.
type TemplateRenderer struct{}

// NewTemplateRenderer creates the default renderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render substitutes properties into the template. It fails with
// ErrMalformedTemplate on unbalanced braces or an empty hole, and with
// ErrMissingProperty when the template references a property that was not
// supplied.
func (r *TemplateRenderer) Render(template string, properties map[string]interface{}) (string, error) {
	var b strings.Builder
	b.Grow(len(template) + 16)

	for i := 0; i < len(template); {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				return "", errors.Wrapf(ErrMalformedTemplate, "unclosed hole at offset %d", i)
			}
			name := template[i+1 : i+end]
			if name == "" {
				return "", errors.Wrapf(ErrMalformedTemplate, "empty hole at offset %d", i)
			}
			value, ok := properties[name]
			if !ok {
				return "", errors.Wrapf(ErrMissingProperty, "property %q", name)
			}
			fmt.Fprintf(&b, "%v", value)
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", errors.Wrapf(ErrMalformedTemplate, "stray '}' at offset %d", i)
		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String(), nil
}

// PropertyNames returns the hole names referenced by the template, in order
// of appearance. Malformed templates yield the names up to the defect.
func PropertyNames(template string) []string {
	var names []string
	for i := 0; i < len(template); {
		if template[i] != '{' {
			i++
			continue
		}
		if i+1 < len(template) && template[i+1] == '{' {
			i += 2
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			break
		}
		if name := template[i+1 : i+end]; name != "" {
			names = append(names, name)
		}
		i += end + 1
	}
	return names
}
