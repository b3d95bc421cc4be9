package rules

import (
	"fmt"
	"strings"
)

/*
 * String templates.
 *
 * A Template is a string with optional {name} placeholders that are filled
 * in from condition bindings and input parameters at evaluation time.
 * "{{" and "}}" escape literal braces.
 *
 * Templates are parsed lazily from their source text: the canonicalizer
 * pattern-matches on the raw source (placeholders included), so the source
 * form is the primary representation and part decomposition happens only
 * when a caller needs it.
 */

// Template is a string expression with optional {name} placeholders.
type Template struct {
	source string
}

// NewTemplate creates a template from its source text.
func NewTemplate(source string) Template {
	return Template{source: source}
}

// Source returns the raw template text, placeholders included.
func (t Template) Source() string {
	return t.source
}

// IsStatic reports whether the template contains no placeholders.
// Escaped braces ("{{", "}}") do not count as placeholders.
func (t Template) IsStatic() bool {
	_, ok := t.Static()
	return ok
}

// Static returns the literal string value of a placeholder-free template.
// Escaped braces are unescaped. Returns false if the template references
// any variable.
func (t Template) Static() (string, bool) {
	var b strings.Builder
	static := true
	err := t.walk(func(literal string) {
		b.WriteString(literal)
	}, func(ref string) error {
		static = false
		return nil
	})
	if err != nil || !static {
		return "", false
	}
	return b.String(), true
}

// References returns the placeholder names in source order.
func (t Template) References() []string {
	var refs []string
	t.walk(func(string) {}, func(ref string) error {
		refs = append(refs, ref)
		return nil
	})
	return refs
}

// Expand fills placeholders using resolve and returns the final string.
// Escaped braces are unescaped.
func (t Template) Expand(resolve func(ref string) (string, error)) (string, error) {
	var b strings.Builder
	err := t.walk(func(literal string) {
		b.WriteString(literal)
	}, func(ref string) error {
		v, err := resolve(ref)
		if err != nil {
			return err
		}
		b.WriteString(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// walk scans the source, invoking literal for plain text runs and ref for
// each placeholder. Unterminated placeholders are an error; rule-set
// documents with broken templates are rejected at decode time.
func (t Template) walk(literal func(string), ref func(string) error) error {
	s := t.source
	var plain strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			plain.WriteByte('{')
			i += 2
		case strings.HasPrefix(s[i:], "}}"):
			plain.WriteByte('}')
			i += 2
		case s[i] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return fmt.Errorf("unterminated placeholder in template %q", s)
			}
			if plain.Len() > 0 {
				literal(plain.String())
				plain.Reset()
			}
			if err := ref(s[i+1 : i+end]); err != nil {
				return err
			}
			i += end + 1
		default:
			plain.WriteByte(s[i])
			i++
		}
	}
	if plain.Len() > 0 {
		literal(plain.String())
	}
	return nil
}
