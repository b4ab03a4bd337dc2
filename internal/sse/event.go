package sse

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// DoneSentinel is the payload that ends a stream normally.
const DoneSentinel = "[DONE]"

// Kind classifies a frame payload.
type Kind int

const (
	// KindData is a well-formed JSON increment.
	KindData Kind = iota
	// KindTerminal is the end-of-stream sentinel.
	KindTerminal
	// KindMalformed is a payload that is neither JSON nor the sentinel.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindTerminal:
		return "terminal"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

// Event is the interpretation of one frame payload.
type Event struct {
	Kind    Kind
	Payload string
	// Cause is the parser's failure description for KindMalformed.
	Cause string
}

// Interpret classifies a frame payload. The second result is false for
// empty or whitespace-only payloads, which carry no event.
func Interpret(payload string) (Event, bool) {
	if strings.TrimSpace(payload) == "" {
		return Event{}, false
	}

	if payload == DoneSentinel {
		return Event{Kind: KindTerminal, Payload: payload}, true
	}

	if gjson.Valid(payload) {
		return Event{Kind: KindData, Payload: payload}, true
	}

	return Event{Kind: KindMalformed, Payload: payload, Cause: parseFailure(payload)}, true
}

// parseFailure reports why payload is not valid JSON.
func parseFailure(payload string) string {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return err.Error()
	}
	return "invalid JSON"
}
