package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpret(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantOK   bool
		wantKind Kind
	}{
		{name: "sentinel", payload: "[DONE]", wantOK: true, wantKind: KindTerminal},
		{name: "object", payload: `{"id":1}`, wantOK: true, wantKind: KindData},
		{name: "array", payload: `[1,2]`, wantOK: true, wantKind: KindData},
		{name: "scalar", payload: `42`, wantOK: true, wantKind: KindData},
		{name: "truncated object", payload: `{bad json`, wantOK: true, wantKind: KindMalformed},
		{name: "plain text", payload: `hello`, wantOK: true, wantKind: KindMalformed},
		{name: "sentinel with padding is not the sentinel", payload: ` [DONE]x`, wantOK: true, wantKind: KindMalformed},
		{name: "empty", payload: "", wantOK: false},
		{name: "whitespace", payload: " \n\t", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Interpret(tt.payload)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.payload, ev.Payload)
		})
	}
}

func TestInterpret_MalformedCarriesParserCause(t *testing.T) {
	ev, ok := Interpret(`{bad json`)

	assert.True(t, ok)
	assert.Equal(t, KindMalformed, ev.Kind)
	assert.Contains(t, ev.Cause, "invalid character")
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "data", KindData.String())
	assert.Equal(t, "terminal", KindTerminal.String())
	assert.Equal(t, "malformed", KindMalformed.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
