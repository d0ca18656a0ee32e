package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, true)

	p.Title("scansync validate")
	p.OK("config loaded")
	p.Warn("retry.delay is %d", 0)
	p.Fail("store unreachable: %s", "timeout")
	p.Field("Ledger", 12)
	p.Bullet("row %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes expected for a buffer")
	assert.Contains(t, out, "scansync validate\n")
	assert.Contains(t, out, "✓ config loaded\n")
	assert.Contains(t, out, "⚠ retry.delay is 0\n")
	assert.Contains(t, out, "✗ store unreachable: timeout\n")
	assert.Contains(t, out, "Ledger:")
	assert.Contains(t, out, " 12\n")
	assert.Contains(t, out, "• row 3\n")
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
