package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Fields maps the named captures of a matching grammar to their raw text.
type Fields map[string]string

// Common capture shapes, named after the grok patterns they mirror.
const (
	patNumber     = `[+-]?(?:\d+(?:\.\d*)?|\.\d+)`
	patInteger    = `[+-]?\d+`
	patField      = `[^|]*`
	patFieldLazy  = `[^|]*?`
	patGreedyData = `.*`
	patUser       = `[A-Za-z0-9._+-]+`
	patElapsed    = `(?:(?:\d+-)?\d{1,2}:)?\d{1,2}:\d{2}`
)

// Grammar is one anchored line pattern. When Marker is set, the pattern is
// only attempted on lines containing it.
type Grammar struct {
	Name   string
	Marker string
	re     *regexp.Regexp
}

func NewGrammar(name, marker, pattern string) (Grammar, error) {
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return Grammar{}, fmt.Errorf("compile grammar %s: %w", name, err)
	}
	return Grammar{Name: name, Marker: marker, re: re}, nil
}

func MustGrammar(name, marker, pattern string) Grammar {
	g, err := NewGrammar(name, marker, pattern)
	if err != nil {
		panic(err)
	}
	return g
}

// Match applies the grammar to an already trimmed line.
func (g Grammar) Match(line string) (Fields, bool) {
	if g.re == nil {
		return nil, false
	}
	if g.Marker != "" && !strings.Contains(line, g.Marker) {
		return nil, false
	}
	m := g.re.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	fields := make(Fields, len(m))
	for i, name := range g.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		fields[name] = m[i]
	}
	return fields, true
}

// Cascade is an immutable, ordered list of grammars. The first grammar that
// matches a line wins and the rest are skipped.
type Cascade struct {
	grammars []Grammar
}

func NewCascade(grammars ...Grammar) *Cascade {
	gs := make([]Grammar, len(grammars))
	copy(gs, grammars)
	return &Cascade{grammars: gs}
}

// Match trims the line and returns the fields of the first matching grammar.
func (c *Cascade) Match(line string) (Fields, bool) {
	fields, _, ok := c.MatchNamed(line)
	return fields, ok
}

// MatchNamed is Match that also reports which grammar accepted the line.
func (c *Cascade) MatchNamed(line string) (Fields, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, "", false
	}
	for _, g := range c.grammars {
		if fields, ok := g.Match(line); ok {
			return fields, g.Name, true
		}
	}
	return nil, "", false
}

func (c *Cascade) Names() []string {
	names := make([]string, len(c.grammars))
	for i, g := range c.grammars {
		names[i] = g.Name
	}
	return names
}

func capture(name, pattern string) string {
	return "(?P<" + name + ">" + pattern + ")"
}
