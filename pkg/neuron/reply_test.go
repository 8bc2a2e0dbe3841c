package neuron

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReplyForwardDirective(t *testing.T) {
	p := ParseReply("FORWARD_TO: n2, n3\nCONTENT: split the task\ninto two parts")
	assert.False(t, p.IsResult)
	assert.Equal(t, []string{"n2", "n3"}, p.ForwardTo)
	assert.Equal(t, "split the task\ninto two parts", p.Content)
	assert.False(t, p.ParserConflict)
}

func TestParseReplyResultDirective(t *testing.T) {
	p := ParseReply("RESULT: done\n```python\nprint(1)\n```")
	assert.True(t, p.IsResult)
	assert.Contains(t, p.Result, "done")
	assert.Contains(t, p.Result, "print(1)")
}

func TestParseReplyResultWinsOverForward(t *testing.T) {
	p := ParseReply("FORWARD_TO: n2\nRESULT: actually done here")
	assert.True(t, p.IsResult)
	assert.Equal(t, "actually done here", p.Result)
	assert.True(t, p.ParserConflict)
}

func TestParseReplyFallsBackToEcho(t *testing.T) {
	p := ParseReply("just some plain text with no directive")
	assert.True(t, p.IsResult)
	assert.Equal(t, "just some plain text with no directive", p.Result)
}
