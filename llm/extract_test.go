package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/albench/llm"
)

func TestExtractFencedAL(t *testing.T) {
	text := "Here is the object:\n```al\ncodeunit 50100 Greeter\n{\n}\n```\nLet me know!"

	ext := llm.Extract(text)
	assert.Equal(t, "codeunit 50100 Greeter\n{\n}", ext.Code)
	assert.Equal(t, 0.95, ext.Confidence)
}

func TestExtractFencedALUppercaseTag(t *testing.T) {
	ext := llm.Extract("```AL\ntable 50100 Thing\n{\n}\n```")
	assert.Equal(t, 0.95, ext.Confidence)
}

func TestExtractGenericFenceWithALShape(t *testing.T) {
	text := "```\npageextension 50100 MyExt extends \"Customer List\"\n{\n}\n```"

	ext := llm.Extract(text)
	assert.Equal(t, 0.85, ext.Confidence)
	assert.Contains(t, ext.Code, "pageextension 50100")
}

func TestExtractGenericFenceWithoutALShape(t *testing.T) {
	text := "```python\nprint(\"hello\")\n```"

	ext := llm.Extract(text)
	assert.Equal(t, 0.6, ext.Confidence)
	assert.Equal(t, "print(\"hello\")", ext.Code)
}

func TestExtractBareALObject(t *testing.T) {
	text := "codeunit 50100 Greeter\n{\n    procedure Hello()\n    begin\n    end;\n}"

	ext := llm.Extract(text)
	assert.Equal(t, 0.55, ext.Confidence)
	assert.Equal(t, text, ext.Code)
}

func TestExtractProse(t *testing.T) {
	text := "I cannot generate that code for you."

	ext := llm.Extract(text)
	assert.Equal(t, 0.1, ext.Confidence)
	// The prose comes back as code so failure reports can show it.
	assert.Equal(t, text, ext.Code)
}

func TestExtractEmpty(t *testing.T) {
	ext := llm.Extract("   \n\t ")
	assert.Empty(t, ext.Code)
	assert.Zero(t, ext.Confidence)
}

func TestExtractFirstFenceWins(t *testing.T) {
	text := "```al\ncodeunit 1 First {}\n```\n\n```al\ncodeunit 2 Second {}\n```"

	ext := llm.Extract(text)
	assert.Equal(t, "codeunit 1 First {}", ext.Code)
}
