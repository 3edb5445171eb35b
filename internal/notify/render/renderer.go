// Package render expands the handlebars-style placeholders used by the
// notification template catalog. Missing placeholders always render as an
// empty string; templates with unbalanced conditional blocks are rejected as a
// data bug rather than retried.
package render

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedTemplate signals unbalanced conditional blocks. It is a
// permanent failure: retrying cannot fix a broken template.
var ErrMalformedTemplate = errors.New("render: malformed template")

var (
	conditionalPattern = regexp.MustCompile(`(?s)\{\{#if\s+([A-Za-z0-9_.]+)\s*\}\}(.*?)\{\{/if\}\}`)
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)
)

// Message is the rendered subject/content pair handed to channel senders.
type Message struct {
	Subject string
	Content string
}

// Render expands subject and body against the supplied data map.
// Rendering is pure: the same inputs always produce the same output.
func Render(subject, body string, data map[string]any) (Message, error) {
	renderedSubject, err := renderText(subject, data)
	if err != nil {
		return Message{}, err
	}
	renderedBody, err := renderText(body, data)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: renderedSubject, Content: renderedBody}, nil
}

func renderText(text string, data map[string]any) (string, error) {
	expanded := conditionalPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := conditionalPattern.FindStringSubmatch(match)
		if truthy(data[groups[1]]) {
			return groups[2]
		}
		return ""
	})

	if strings.Contains(expanded, "{{#if") || strings.Contains(expanded, "{{/if") {
		return "", fmt.Errorf("%w: unbalanced conditional block", ErrMalformedTemplate)
	}

	return placeholderPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := data[name]
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}), nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
