package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	New(false, &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	New(true, &buf).Debug("shown", "source", "moonbitlang/core")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "source=moonbitlang/core")
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))

	l := Discard()
	assert.Same(t, l, OrDiscard(l))
}
