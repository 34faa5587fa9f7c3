package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artifact-ingest/internal/parser"
)

func TestCascade_FirstMatchWins(t *testing.T) {
	cascade := parser.NewCascade(
		parser.MustGrammar("digits", "", `(?P<value>\d+)`),
		parser.MustGrammar("anything", "", `(?P<value>.+)`),
	)

	fields, name, ok := cascade.MatchNamed("  12345  ")
	require.True(t, ok)
	assert.Equal(t, "digits", name)
	assert.Equal(t, parser.Fields{"value": "12345"}, fields)

	fields, name, ok = cascade.MatchNamed("abc")
	require.True(t, ok)
	assert.Equal(t, "anything", name)
	assert.Equal(t, "abc", fields["value"])
}

func TestCascade_NoMatch(t *testing.T) {
	cascade := parser.NewCascade(parser.MustGrammar("digits", "", `(?P<value>\d+)`))

	for _, line := range []string{"", "   ", "12a", "a12"} {
		fields, ok := cascade.Match(line)
		assert.False(t, ok, line)
		assert.Nil(t, fields, line)
	}
}

func TestGrammar_MarkerGatesPattern(t *testing.T) {
	g := parser.MustGrammar("arrow", " -> ", `(?P<from>[^ ]*)(?: -> (?P<to>.*))?`)

	_, ok := g.Match("plain")
	assert.False(t, ok)

	fields, ok := g.Match("a -> b")
	require.True(t, ok)
	assert.Equal(t, "a", fields["from"])
	assert.Equal(t, "b", fields["to"])
}

func TestNewGrammar_InvalidPattern(t *testing.T) {
	_, err := parser.NewGrammar("broken", "", `(?P<x>`)
	assert.Error(t, err)
}

func TestCascade_IsImmutable(t *testing.T) {
	grammars := []parser.Grammar{parser.MustGrammar("digits", "", `\d+`)}
	cascade := parser.NewCascade(grammars...)
	grammars[0] = parser.MustGrammar("letters", "", `[a-z]+`)

	assert.Equal(t, []string{"digits"}, cascade.Names())
	_, ok := cascade.Match("abc")
	assert.False(t, ok)
}
