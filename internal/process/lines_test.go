package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineWriter_SplitsAcrossWrites(t *testing.T) {
	var got []string
	w := NewLineWriter(func(l string) { got = append(got, l) })
	_, _ = w.Write([]byte("listen"))
	_, _ = w.Write([]byte("ing on 127.0.0.1:5173\r\nsec"))
	_, _ = w.Write([]byte("ond\n"))
	assert.Equal(t, []string{"listening on 127.0.0.1:5173", "second"}, got)
}

func TestLineWriter_FlushesOversizedLine(t *testing.T) {
	var got []string
	w := NewLineWriter(func(l string) { got = append(got, l) })
	n, err := w.Write([]byte(strings.Repeat("x", maxLineBytes+1)))
	assert.NoError(t, err)
	assert.Equal(t, maxLineBytes+1, n)
	assert.Len(t, got, 1)
}
