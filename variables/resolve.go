// Package variables substitutes {{name}} placeholders in prompt and code text.
//
// Substitution is a single left-to-right scan: values inserted for one
// placeholder are never scanned again, so the result does not depend on the
// iteration order of the bindings. The flip side is that a bound value which
// itself contains {{other}} is emitted literally; nested substitution is not
// supported.
package variables

import (
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Resolve replaces every {{name}} whose inner text exactly matches a key of
// bindings. Unbound placeholders are left intact.
func Resolve(template string, bindings map[string]string) string {
	if len(bindings) == 0 {
		return template
	}
	return replacePlaceholders(template, func(name string) (string, bool) {
		value, ok := bindings[name]
		return value, ok
	})
}

// ResolveIdentifierCase resolves a template written with user-facing variable
// names against bindings keyed by identifier-cased names.
func ResolveIdentifierCase(template string, bindings map[string]string) string {
	return Resolve(ToIdentifierCase(template, nil), bindings)
}

// ToIdentifierCase rewrites {{name}} to {{CamelCase(name)}}. When known is
// non-empty only those names are rewritten.
func ToIdentifierCase(template string, known []string) string {
	var allowed map[string]bool
	if len(known) > 0 {
		allowed = make(map[string]bool, len(known))
		for _, name := range known {
			allowed[name] = true
		}
	}
	return replacePlaceholders(template, func(name string) (string, bool) {
		if allowed != nil && !allowed[name] {
			return "", false
		}
		return openDelim + CamelCase(name) + closeDelim, true
	})
}

// ToIdentifiers rewrites {{name}} to the bare identifier CamelCase(name).
// Sandboxed code reads its inputs as bound identifiers.
func ToIdentifiers(code string) string {
	return replacePlaceholders(code, func(name string) (string, bool) {
		id := CamelCase(name)
		if id == "" {
			return "", false
		}
		return id, true
	})
}

// ExtractVariables returns placeholder names in order of first appearance
func ExtractVariables(template string) []string {
	var names []string
	seen := make(map[string]bool)
	replacePlaceholders(template, func(name string) (string, bool) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return "", false
	})
	return names
}

// replacePlaceholders scans template once, calling fn for every {{...}}.
// When fn reports false the placeholder is copied unchanged.
func replacePlaceholders(template string, fn func(name string) (string, bool)) string {
	if !strings.Contains(template, openDelim) {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))
	remaining := template

	for {
		start := strings.Index(remaining, openDelim)
		if start == -1 {
			b.WriteString(remaining)
			break
		}
		end := strings.Index(remaining[start+len(openDelim):], closeDelim)
		if end == -1 {
			b.WriteString(remaining)
			break
		}
		end += start + len(openDelim)

		b.WriteString(remaining[:start])
		name := remaining[start+len(openDelim) : end]

		if strings.Contains(name, openDelim) {
			// "{{ {{a}}": keep the first opener and rescan from just after it
			b.WriteString(openDelim)
			remaining = remaining[start+len(openDelim):]
			continue
		}

		if value, ok := fn(name); ok {
			b.WriteString(value)
		} else {
			b.WriteString(remaining[start : end+len(closeDelim)])
		}
		remaining = remaining[end+len(closeDelim):]
	}

	return b.String()
}
