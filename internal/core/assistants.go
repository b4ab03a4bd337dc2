package core

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Assistant represents an assistant object.
type Assistant struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	CreatedAt    int64             `json:"created_at"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions,omitempty"`
	Tools        []json.RawMessage `json:"tools,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AssistantRequest creates or modifies an assistant.
type AssistantRequest struct {
	Model        string            `json:"model,omitempty"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Tools        []json.RawMessage `json:"tools,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AssistantList is returned by GET /assistants.
type AssistantList struct {
	Object  string      `json:"object"`
	Data    []Assistant `json:"data"`
	FirstID string      `json:"first_id,omitempty"`
	LastID  string      `json:"last_id,omitempty"`
	HasMore bool        `json:"has_more"`
}

// Thread represents a conversation thread.
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ThreadRequest creates or modifies a thread.
type ThreadRequest struct {
	Messages []MessageRequest  `json:"messages,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ThreadMessage is a message stored on a thread.
type ThreadMessage struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	CreatedAt   int64             `json:"created_at"`
	ThreadID    string            `json:"thread_id"`
	Role        string            `json:"role"`
	Content     []MessageContent  `json:"content"`
	AssistantID string            `json:"assistant_id,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageContent is one content part of a thread message.
type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

// MessageText is the text payload of a content part.
type MessageText struct {
	Value       string            `json:"value"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

// MessageRequest creates a message on a thread.
type MessageRequest struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageList is returned by GET /threads/{id}/messages.
type MessageList struct {
	Object  string          `json:"object"`
	Data    []ThreadMessage `json:"data"`
	FirstID string          `json:"first_id,omitempty"`
	LastID  string          `json:"last_id,omitempty"`
	HasMore bool            `json:"has_more"`
}

// Run is an execution of an assistant on a thread.
type Run struct {
	ID             string          `json:"id"`
	Object         string          `json:"object"`
	CreatedAt      int64           `json:"created_at"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         string          `json:"status"`
	Model          string          `json:"model,omitempty"`
	Instructions   string          `json:"instructions,omitempty"`
	RequiredAction json.RawMessage `json:"required_action,omitempty"`
	LastError      json.RawMessage `json:"last_error,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
}

// RunRequest creates a run on an existing thread.
type RunRequest struct {
	AssistantID            string            `json:"assistant_id"`
	Model                  string            `json:"model,omitempty"`
	Instructions           string            `json:"instructions,omitempty"`
	AdditionalInstructions string            `json:"additional_instructions,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

// ThreadAndRunRequest creates a thread and runs it in one request.
type ThreadAndRunRequest struct {
	AssistantID  string         `json:"assistant_id"`
	Thread       *ThreadRequest `json:"thread,omitempty"`
	Model        string         `json:"model,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
}

// ToolOutput is the result of one tool call submitted back to a run.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// SubmitToolOutputsRequest is the body of POST /threads/{id}/runs/{id}/submit_tool_outputs.
type SubmitToolOutputsRequest struct {
	ToolOutputs []ToolOutput `json:"tool_outputs"`
}

// RunList is returned by GET /threads/{id}/runs.
type RunList struct {
	Object  string `json:"object"`
	Data    []Run  `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}

// RunStreamObject is the payload of one streamed run event. Run streams carry
// several object kinds (thread.run, thread.message, thread.message.delta,
// thread.run.step); the common fields are decoded and Raw keeps the rest.
type RunStreamObject struct {
	ID       string          `json:"id"`
	Object   string          `json:"object"`
	Status   string          `json:"status,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
	Delta    json.RawMessage `json:"delta,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the common fields and keeps the raw document.
func (o *RunStreamObject) UnmarshalJSON(data []byte) error {
	type alias RunStreamObject
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*o = RunStreamObject(a)
	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// DeltaText returns the text carried by a thread.message.delta event.
func (o *RunStreamObject) DeltaText() string {
	if len(o.Delta) == 0 {
		return ""
	}
	var out strings.Builder
	gjson.GetBytes(o.Delta, "content").ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			out.WriteString(part.Get("text.value").String())
		}
		return true
	})
	return out.String()
}
