// Package template implements a minimal mustache-compatible renderer:
// variable substitution, dotted lookups, sections, and inverted sections
// over a dictionary-valued context. No filesystem access, no partial
// inclusion; templates are always static strings.
package template

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Context is the dictionary a template is rendered against. Values may be
// strings, numbers, bools, nested map[string]any, or []any for sections.
type Context map[string]any

// Render is a pure function of (template, context): identical inputs
// yield identical outputs.
func Render(tmpl string, ctx Context) (string, error) {
	out, _, err := renderSection(tmpl, ctx)
	return out, err
}

// renderSection renders tmpl up to end-of-string, since top-level
// templates have no enclosing tag to stop at.
func renderSection(tmpl string, ctx Context) (string, string, error) {
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			return b.String(), "", nil
		}
		b.WriteString(rest[:start])
		rest = rest[start:]

		tag, body, escaped, err := readTag(rest)
		if err != nil {
			return "", "", err
		}

		switch {
		case strings.HasPrefix(body, "#"):
			name := strings.TrimSpace(body[1:])
			inner, remainder, err := extractSectionBody(rest[len(tag):], name)
			if err != nil {
				return "", "", err
			}
			rendered, err := renderTruthySection(name, inner, ctx, false)
			if err != nil {
				return "", "", err
			}
			b.WriteString(rendered)
			rest = remainder
			continue
		case strings.HasPrefix(body, "^"):
			name := strings.TrimSpace(body[1:])
			inner, remainder, err := extractSectionBody(rest[len(tag):], name)
			if err != nil {
				return "", "", err
			}
			rendered, err := renderTruthySection(name, inner, ctx, true)
			if err != nil {
				return "", "", err
			}
			b.WriteString(rendered)
			rest = remainder
			continue
		case strings.HasPrefix(body, "/"):
			// Stray closing tag at this nesting level; treat as literal end.
			return b.String(), rest, nil
		default:
			val, _ := lookup(ctx, strings.TrimSpace(body))
			str := stringify(val)
			if escaped {
				str = html.EscapeString(str)
			}
			b.WriteString(str)
			rest = rest[len(tag):]
		}
	}
}

// readTag reads one {{...}} or {{{...}}} tag starting at s[0:]=="{{...".
// Returns the full tag text, its inner body, and whether it should be
// HTML-escaped (true for double-brace, false for triple-brace).
func readTag(s string) (tag string, body string, escaped bool, err error) {
	if strings.HasPrefix(s, "{{{") {
		end := strings.Index(s, "}}}")
		if end == -1 {
			return "", "", false, fmt.Errorf("unterminated {{{ tag")
		}
		return s[:end+3], s[3:end], false, nil
	}
	end := strings.Index(s, "}}")
	if end == -1 {
		return "", "", false, fmt.Errorf("unterminated {{ tag")
	}
	return s[:end+2], s[2:end], true, nil
}

// extractSectionBody scans forward from just after an opening {{#name}} or
// {{^name}} tag to find the matching {{/name}}, honoring nested sections of
// the same name.
func extractSectionBody(afterOpen string, name string) (inner string, remainder string, err error) {
	depth := 1
	rest := afterOpen
	var b strings.Builder
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			return "", "", fmt.Errorf("unterminated section %q", name)
		}
		b.WriteString(rest[:start])
		tagRegion := rest[start:]
		tag, body, _, err := readTag(tagRegion)
		if err != nil {
			return "", "", err
		}
		trimmed := strings.TrimSpace(body)
		switch {
		case trimmed == "/"+name:
			depth--
			if depth == 0 {
				return b.String(), tagRegion[len(tag):], nil
			}
			b.WriteString(tag)
		case trimmed == "#"+name || trimmed == "^"+name:
			depth++
			b.WriteString(tag)
		default:
			b.WriteString(tag)
		}
		rest = tagRegion[len(tag):]
	}
}

func renderTruthySection(name, inner string, ctx Context, inverted bool) (string, error) {
	val, ok := lookup(ctx, name)
	truthy := ok && isTruthy(val)
	if inverted {
		if truthy {
			return "", nil
		}
		out, _, err := renderSection(inner, ctx)
		return out, err
	}
	if !truthy {
		return "", nil
	}

	if list, ok := val.([]any); ok {
		var b strings.Builder
		for _, item := range list {
			itemCtx := ctx
			if m, ok := item.(map[string]any); ok {
				itemCtx = mergeContext(ctx, Context(m))
			}
			out, _, err := renderSection(inner, itemCtx)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		}
		return b.String(), nil
	}

	out, _, err := renderSection(inner, ctx)
	return out, err
}

func mergeContext(base Context, overlay Context) Context {
	merged := make(Context, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// lookup resolves a possibly dotted path ("a.b.c") against ctx.
func lookup(ctx Context, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = map[string]any(ctx)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
