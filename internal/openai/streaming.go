package openai

import (
	"context"
	"net/url"
	"strings"

	"oaistream/internal/core"
	"oaistream/internal/stream"
)

// Stream starts a streaming session against any endpoint of the client,
// decoding every increment into T. params are sent with "stream": true.
// Request construction errors are returned before any session starts; every
// later failure is delivered through opts.OnError.
func Stream[T any](ctx context.Context, c *Client, endpoint string, params any, onData func(T), opts stream.Options, reqOpts ...stream.RequestOption) (*stream.Session, error) {
	req, err := stream.NewRequest(endpoint, params, reqOpts...)
	if err != nil {
		return nil, err
	}
	return stream.Stream(ctx, c.transport, req, onData, c.sessionOptions(opts)), nil
}

// sessionOptions fills the client's hooks and logger into opts where unset.
func (c *Client) sessionOptions(opts stream.Options) stream.Options {
	if opts.Hooks.OnStart == nil && opts.Hooks.OnEnd == nil {
		opts.Hooks = c.sessionHooks
	}
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	return opts
}

// StreamChatCompletion streams a chat completion, one chunk per increment.
func (c *Client) StreamChatCompletion(ctx context.Context, req *core.ChatRequest, onData func(core.ChatCompletionChunk), opts stream.Options) (*stream.Session, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("chat request is required", nil)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, core.NewInvalidRequestError("model is required", nil)
	}
	return Stream(ctx, c, "/chat/completions", req, onData, opts, stream.WithOperation("chat.completions"))
}

// ChatCompletionEvents streams a chat completion over a channel.
// The caller must receive until the channel is closed.
func (c *Client) ChatCompletionEvents(ctx context.Context, req *core.ChatRequest) (<-chan stream.Event[core.ChatCompletionChunk], *stream.Session, error) {
	if req == nil {
		return nil, nil, core.NewInvalidRequestError("chat request is required", nil)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, nil, core.NewInvalidRequestError("model is required", nil)
	}
	sreq, err := stream.NewRequest("/chat/completions", req, stream.WithOperation("chat.completions"))
	if err != nil {
		return nil, nil, err
	}
	ch, s := stream.Events[core.ChatCompletionChunk](ctx, c.transport, sreq, c.sessionOptions(stream.Options{}))
	return ch, s, nil
}

// StreamRun creates a run on an existing thread and streams its events.
func (c *Client) StreamRun(ctx context.Context, threadID string, req *core.RunRequest, onData func(core.RunStreamObject), opts stream.Options) (*stream.Session, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, core.NewInvalidRequestError("thread id is required", nil)
	}
	if req == nil || strings.TrimSpace(req.AssistantID) == "" {
		return nil, core.NewInvalidRequestError("assistant id is required", nil)
	}
	return Stream(ctx, c, "/threads/"+url.PathEscape(threadID)+"/runs", req, onData, opts,
		stream.WithOperation("runs.create"),
		stream.WithHeader(assistantsBetaHeader, assistantsBetaValue),
	)
}

// CreateThreadAndRunStream creates a thread, runs it, and streams the run events.
func (c *Client) CreateThreadAndRunStream(ctx context.Context, req *core.ThreadAndRunRequest, onData func(core.RunStreamObject), opts stream.Options) (*stream.Session, error) {
	if req == nil || strings.TrimSpace(req.AssistantID) == "" {
		return nil, core.NewInvalidRequestError("assistant id is required", nil)
	}
	return Stream(ctx, c, "/threads/runs", req, onData, opts,
		stream.WithOperation("threads.runs.create"),
		stream.WithHeader(assistantsBetaHeader, assistantsBetaValue),
	)
}

// SubmitToolOutputsStream submits tool outputs to a run waiting on them and
// streams the resumed run.
func (c *Client) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, req *core.SubmitToolOutputsRequest, onData func(core.RunStreamObject), opts stream.Options) (*stream.Session, error) {
	threadID, runID = strings.TrimSpace(threadID), strings.TrimSpace(runID)
	if threadID == "" || runID == "" {
		return nil, core.NewInvalidRequestError("thread id and run id are required", nil)
	}
	if req == nil {
		return nil, core.NewInvalidRequestError("tool outputs are required", nil)
	}
	endpoint := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/submit_tool_outputs"
	return Stream(ctx, c, endpoint, req, onData, opts,
		stream.WithOperation("runs.submit_tool_outputs"),
		stream.WithHeader(assistantsBetaHeader, assistantsBetaValue),
	)
}
