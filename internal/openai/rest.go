package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"oaistream/internal/cache"
	"oaistream/internal/core"
	"oaistream/internal/llmclient"
)

// ListModels retrieves the available models, served from the model cache
// while it is fresh.
func (c *Client) ListModels(ctx context.Context) (*core.ModelsResponse, error) {
	baseURL := c.BaseURL()
	key := cache.KeyFor(baseURL)

	if c.modelCache != nil {
		entry, err := c.modelCache.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("failed to read model cache", "error", err)
		case entry.Fresh(c.cacheTTL, c.now()) && entry.BaseURL == baseURL:
			c.logger.Debug("model list served from cache", "models", len(entry.Models))
			return &core.ModelsResponse{Object: "list", Data: entry.Models}, nil
		}
	}

	var resp core.ModelsResponse
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    http.MethodGet,
		Endpoint:  "/models",
		Operation: "models.list",
	}, &resp); err != nil {
		return nil, err
	}

	if c.modelCache != nil {
		entry := &cache.ModelCache{
			Version:   cache.CurrentVersion,
			UpdatedAt: c.now().UTC(),
			BaseURL:   baseURL,
			Models:    resp.Data,
		}
		if err := c.modelCache.Set(ctx, key, entry); err != nil {
			c.logger.Warn("failed to write model cache", "error", err)
		}
	}
	return &resp, nil
}

// RetrieveModel retrieves one model by id.
func (c *Client) RetrieveModel(ctx context.Context, id string) (*core.Model, error) {
	id, err := requireID("model", id)
	if err != nil {
		return nil, err
	}
	var resp core.Model
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    http.MethodGet,
		Endpoint:  "/models/" + url.PathEscape(id),
		Operation: "models.retrieve",
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateModeration classifies input with the moderation endpoint.
func (c *Client) CreateModeration(ctx context.Context, req *core.ModerationRequest) (*core.ModerationResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, core.NewInvalidRequestError("moderation input is required", nil)
	}
	var resp core.ModerationResponse
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    http.MethodPost,
		Endpoint:  "/moderations",
		Operation: "moderations.create",
		Body:      req,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ModerateText is a convenience wrapper for a single text input.
func (c *Client) ModerateText(ctx context.Context, text string) (*core.ModerationResponse, error) {
	input, err := json.Marshal(text)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to encode moderation input", err)
	}
	return c.CreateModeration(ctx, &core.ModerationRequest{Input: input})
}

// CreateAssistant creates an assistant.
func (c *Client) CreateAssistant(ctx context.Context, req *core.AssistantRequest) (*core.Assistant, error) {
	if req == nil || strings.TrimSpace(req.Model) == "" {
		return nil, core.NewInvalidRequestError("model is required", nil)
	}
	return betaDo[core.Assistant](ctx, c, http.MethodPost, "/assistants", "assistants.create", req)
}

// RetrieveAssistant retrieves an assistant by id.
func (c *Client) RetrieveAssistant(ctx context.Context, id string) (*core.Assistant, error) {
	id, err := requireID("assistant", id)
	if err != nil {
		return nil, err
	}
	return betaDo[core.Assistant](ctx, c, http.MethodGet, "/assistants/"+url.PathEscape(id), "assistants.retrieve", nil)
}

// ListAssistants lists assistants.
func (c *Client) ListAssistants(ctx context.Context, params *core.ListParams) (*core.AssistantList, error) {
	return betaDo[core.AssistantList](ctx, c, http.MethodGet, withListParams("/assistants", params), "assistants.list", nil)
}

// UpdateAssistant modifies an assistant.
func (c *Client) UpdateAssistant(ctx context.Context, id string, req *core.AssistantRequest) (*core.Assistant, error) {
	id, err := requireID("assistant", id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &core.AssistantRequest{}
	}
	return betaDo[core.Assistant](ctx, c, http.MethodPost, "/assistants/"+url.PathEscape(id), "assistants.update", req)
}

// DeleteAssistant deletes an assistant.
func (c *Client) DeleteAssistant(ctx context.Context, id string) (*core.DeletionStatus, error) {
	id, err := requireID("assistant", id)
	if err != nil {
		return nil, err
	}
	return betaDo[core.DeletionStatus](ctx, c, http.MethodDelete, "/assistants/"+url.PathEscape(id), "assistants.delete", nil)
}

// CreateThread creates a thread, optionally seeded with messages.
func (c *Client) CreateThread(ctx context.Context, req *core.ThreadRequest) (*core.Thread, error) {
	if req == nil {
		req = &core.ThreadRequest{}
	}
	return betaDo[core.Thread](ctx, c, http.MethodPost, "/threads", "threads.create", req)
}

// RetrieveThread retrieves a thread by id.
func (c *Client) RetrieveThread(ctx context.Context, id string) (*core.Thread, error) {
	id, err := requireID("thread", id)
	if err != nil {
		return nil, err
	}
	return betaDo[core.Thread](ctx, c, http.MethodGet, "/threads/"+url.PathEscape(id), "threads.retrieve", nil)
}

// UpdateThread modifies a thread's metadata.
func (c *Client) UpdateThread(ctx context.Context, id string, req *core.ThreadRequest) (*core.Thread, error) {
	id, err := requireID("thread", id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &core.ThreadRequest{}
	}
	return betaDo[core.Thread](ctx, c, http.MethodPost, "/threads/"+url.PathEscape(id), "threads.update", req)
}

// DeleteThread deletes a thread.
func (c *Client) DeleteThread(ctx context.Context, id string) (*core.DeletionStatus, error) {
	id, err := requireID("thread", id)
	if err != nil {
		return nil, err
	}
	return betaDo[core.DeletionStatus](ctx, c, http.MethodDelete, "/threads/"+url.PathEscape(id), "threads.delete", nil)
}

// CreateMessage adds a message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID string, req *core.MessageRequest) (*core.ThreadMessage, error) {
	threadID, err := requireID("thread", threadID)
	if err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.Role) == "" {
		return nil, core.NewInvalidRequestError("message role is required", nil)
	}
	return betaDo[core.ThreadMessage](ctx, c, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", "messages.create", req)
}

// ListMessages lists the messages of a thread.
func (c *Client) ListMessages(ctx context.Context, threadID string, params *core.ListParams) (*core.MessageList, error) {
	threadID, err := requireID("thread", threadID)
	if err != nil {
		return nil, err
	}
	endpoint := withListParams("/threads/"+url.PathEscape(threadID)+"/messages", params)
	return betaDo[core.MessageList](ctx, c, http.MethodGet, endpoint, "messages.list", nil)
}

// RetrieveMessage retrieves one message of a thread.
func (c *Client) RetrieveMessage(ctx context.Context, threadID, messageID string) (*core.ThreadMessage, error) {
	threadID, err := requireID("thread", threadID)
	if err != nil {
		return nil, err
	}
	messageID, err = requireID("message", messageID)
	if err != nil {
		return nil, err
	}
	endpoint := "/threads/" + url.PathEscape(threadID) + "/messages/" + url.PathEscape(messageID)
	return betaDo[core.ThreadMessage](ctx, c, http.MethodGet, endpoint, "messages.retrieve", nil)
}

// CreateRun starts a run without streaming.
func (c *Client) CreateRun(ctx context.Context, threadID string, req *core.RunRequest) (*core.Run, error) {
	threadID, err := requireID("thread", threadID)
	if err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.AssistantID) == "" {
		return nil, core.NewInvalidRequestError("assistant id is required", nil)
	}
	return betaDo[core.Run](ctx, c, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", "runs.create", req)
}

// RetrieveRun retrieves a run.
func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (*core.Run, error) {
	endpoint, err := runEndpoint(threadID, runID, "")
	if err != nil {
		return nil, err
	}
	return betaDo[core.Run](ctx, c, http.MethodGet, endpoint, "runs.retrieve", nil)
}

// ListRuns lists the runs of a thread.
func (c *Client) ListRuns(ctx context.Context, threadID string, params *core.ListParams) (*core.RunList, error) {
	threadID, err := requireID("thread", threadID)
	if err != nil {
		return nil, err
	}
	endpoint := withListParams("/threads/"+url.PathEscape(threadID)+"/runs", params)
	return betaDo[core.RunList](ctx, c, http.MethodGet, endpoint, "runs.list", nil)
}

// CancelRun cancels an in-progress run.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (*core.Run, error) {
	endpoint, err := runEndpoint(threadID, runID, "/cancel")
	if err != nil {
		return nil, err
	}
	return betaDo[core.Run](ctx, c, http.MethodPost, endpoint, "runs.cancel", nil)
}

// SubmitToolOutputs submits tool outputs to a run waiting on them.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, req *core.SubmitToolOutputsRequest) (*core.Run, error) {
	endpoint, err := runEndpoint(threadID, runID, "/submit_tool_outputs")
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, core.NewInvalidRequestError("tool outputs are required", nil)
	}
	return betaDo[core.Run](ctx, c, http.MethodPost, endpoint, "runs.submit_tool_outputs", req)
}

// betaDo issues an assistants API request and decodes the response into T.
func betaDo[T any](ctx context.Context, c *Client, method, endpoint, operation string, body any) (*T, error) {
	var resp T
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    method,
		Endpoint:  endpoint,
		Operation: operation,
		Body:      body,
		Headers:   betaHeaders(),
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func requireID(kind, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", core.NewInvalidRequestError(kind+" id is required", nil)
	}
	return id, nil
}

func runEndpoint(threadID, runID, suffix string) (string, error) {
	threadID, err := requireID("thread", threadID)
	if err != nil {
		return "", err
	}
	runID, err = requireID("run", runID)
	if err != nil {
		return "", err
	}
	return "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + suffix, nil
}

func withListParams(endpoint string, params *core.ListParams) string {
	if params == nil {
		return endpoint
	}
	values := url.Values{}
	if params.Limit > 0 {
		values.Set("limit", strconv.Itoa(params.Limit))
	}
	if order := strings.TrimSpace(params.Order); order != "" {
		values.Set("order", order)
	}
	if after := strings.TrimSpace(params.After); after != "" {
		values.Set("after", after)
	}
	if before := strings.TrimSpace(params.Before); before != "" {
		values.Set("before", before)
	}
	if encoded := values.Encode(); encoded != "" {
		return endpoint + "?" + encoded
	}
	return endpoint
}
