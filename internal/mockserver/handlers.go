package mockserver

import (
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"oaistream/internal/core"
)

const chunkSize = 5

var mockModels = []core.Model{
	{ID: "gpt-4o-mini", Object: "model", OwnedBy: "mock", Created: 1721172741},
	{ID: "gpt-4o", Object: "model", OwnedBy: "mock", Created: 1715367049},
	{ID: "omni-moderation-latest", Object: "model", OwnedBy: "mock", Created: 1731689265},
}

var moderationKeywords = map[string][]string{
	"harassment": {"idiot", "loser"},
	"hate":       {"hate"},
	"self-harm":  {"hurt myself"},
	"violence":   {"kill", "attack", "weapon"},
}

type storedFile struct {
	object core.FileObject
	data   []byte
}

// Handler holds the HTTP handlers
type Handler struct {
	scenario Scenario
	delay    time.Duration
	now      func() time.Time

	mu    sync.Mutex
	files map[string]*storedFile
	order []string
}

// NewHandler creates handlers that stream with the given default scenario.
func NewHandler(scenario Scenario, delay time.Duration) *Handler {
	return &Handler{
		scenario: scenario,
		delay:    delay,
		now:      time.Now,
		files:    make(map[string]*storedFile),
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, core.ModelsResponse{Object: "list", Data: mockModels})
}

// RetrieveModel handles GET /v1/models/:id
func (h *Handler) RetrieveModel(c echo.Context) error {
	id := c.Param("id")
	for _, m := range mockModels {
		if m.ID == id {
			return c.JSON(http.StatusOK, m)
		}
	}
	return apiError(c, http.StatusNotFound, "invalid_request_error", "model_not_found",
		"The model '"+id+"' does not exist")
}

// ChatCompletion handles POST /v1/chat/completions
func (h *Handler) ChatCompletion(c echo.Context) error {
	req, ok := readJSON(c)
	if !ok {
		return invalidJSON(c)
	}
	model := req.Get("model").String()
	if model == "" {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
			"you must provide a model parameter")
	}

	id := "chatcmpl-" + shortID()
	created := h.now().Unix()
	reply := replyTo(req.Get("messages"))

	if !req.Get("stream").Bool() {
		return c.JSON(http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": created,
			"model":   model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}

	chunk := func(delta map[string]any, finish any) frame {
		return frame{Data: map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   model,
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		}}
	}

	frames := []frame{chunk(map[string]any{"role": "assistant", "content": ""}, nil)}
	for _, part := range splitIntoChunks(reply, chunkSize) {
		frames = append(frames, chunk(map[string]any{"content": part}, nil))
	}
	frames = append(frames, chunk(map[string]any{}, "stop"))

	if req.Get("stream_options.include_usage").Bool() {
		completion := len(frames) - 2
		frames = append(frames, frame{Data: map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   model,
			"choices": []any{},
			"usage": map[string]int{
				"prompt_tokens":     10,
				"completion_tokens": completion,
				"total_tokens":      10 + completion,
			},
		}})
	}

	return script{
		scenario: scenarioFor(c, model, h.scenario),
		frames:   frames,
		delay:    h.delay,
	}.play(c)
}

// Moderation handles POST /v1/moderations
func (h *Handler) Moderation(c echo.Context) error {
	req, ok := readJSON(c)
	if !ok {
		return invalidJSON(c)
	}
	input := req.Get("input")
	if !input.Exists() {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
			"you must provide an input parameter")
	}

	var texts []string
	if input.IsArray() {
		input.ForEach(func(_, v gjson.Result) bool {
			texts = append(texts, v.String())
			return true
		})
	} else {
		texts = []string{input.String()}
	}

	results := make([]core.ModerationResult, 0, len(texts))
	for _, text := range texts {
		results = append(results, moderate(text))
	}

	model := req.Get("model").String()
	if model == "" {
		model = "omni-moderation-latest"
	}
	return c.JSON(http.StatusOK, core.ModerationResponse{
		ID:      "modr-" + shortID(),
		Model:   model,
		Results: results,
	})
}

// CreateRun handles POST /v1/threads/:thread_id/runs
func (h *Handler) CreateRun(c echo.Context) error {
	return h.startRun(c, c.Param("thread_id"))
}

// CreateThreadAndRun handles POST /v1/threads/runs
func (h *Handler) CreateThreadAndRun(c echo.Context) error {
	return h.startRun(c, "thread_"+shortID())
}

func (h *Handler) startRun(c echo.Context, threadID string) error {
	req, ok := readJSON(c)
	if !ok {
		return invalidJSON(c)
	}
	assistantID := req.Get("assistant_id").String()
	if assistantID == "" {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
			"Missing required parameter: 'assistant_id'.")
	}

	run := h.newRun(threadID, assistantID, req.Get("model").String())
	if !req.Get("stream").Bool() {
		return c.JSON(http.StatusOK, run)
	}

	reply := replyTo(req.Get("thread.messages"))
	if reply == "" {
		reply = "Run completed by " + assistantID + "."
	}
	return h.streamRun(c, run, reply, true)
}

// SubmitToolOutputs handles POST /v1/threads/:thread_id/runs/:run_id/submit_tool_outputs
func (h *Handler) SubmitToolOutputs(c echo.Context) error {
	req, ok := readJSON(c)
	if !ok {
		return invalidJSON(c)
	}
	outputs := req.Get("tool_outputs")
	if !outputs.IsArray() {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
			"Missing required parameter: 'tool_outputs'.")
	}

	var parts []string
	outputs.ForEach(func(_, v gjson.Result) bool {
		parts = append(parts, v.Get("output").String())
		return true
	})

	run := h.newRun(c.Param("thread_id"), "", "")
	run["id"] = c.Param("run_id")
	run["status"] = "in_progress"
	if !req.Get("stream").Bool() {
		return c.JSON(http.StatusOK, run)
	}
	return h.streamRun(c, run, "Tool outputs received: "+strings.Join(parts, ", "), false)
}

func (h *Handler) newRun(threadID, assistantID, model string) map[string]any {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return map[string]any{
		"id":           "run_" + shortID(),
		"object":       "thread.run",
		"created_at":   h.now().Unix(),
		"thread_id":    threadID,
		"assistant_id": assistantID,
		"status":       "queued",
		"model":        model,
	}
}

func (h *Handler) streamRun(c echo.Context, run map[string]any, reply string, created bool) error {
	runID, _ := run["id"].(string)
	threadID, _ := run["thread_id"].(string)
	messageID := "msg_" + shortID()

	withStatus := func(status string) map[string]any {
		out := maps.Clone(run)
		out["status"] = status
		return out
	}
	message := func(status string) map[string]any {
		return map[string]any{
			"id":         messageID,
			"object":     "thread.message",
			"created_at": h.now().Unix(),
			"thread_id":  threadID,
			"run_id":     runID,
			"role":       "assistant",
			"status":     status,
			"content":    []any{},
		}
	}

	var frames []frame
	if created {
		frames = append(frames, frame{Event: "thread.run.created", Data: withStatus("queued")})
	}
	frames = append(frames,
		frame{Event: "thread.run.in_progress", Data: withStatus("in_progress")},
		frame{Event: "thread.message.created", Data: message("in_progress")},
	)
	for _, part := range splitIntoChunks(reply, chunkSize) {
		frames = append(frames, frame{Event: "thread.message.delta", Data: map[string]any{
			"id":     messageID,
			"object": "thread.message.delta",
			"delta": map[string]any{
				"content": []map[string]any{{
					"index": 0,
					"type":  "text",
					"text":  map[string]any{"value": part},
				}},
			},
		}})
	}
	frames = append(frames,
		frame{Event: "thread.message.completed", Data: message("completed")},
		frame{Event: "thread.run.completed", Data: withStatus("completed")},
	)
	for i := range frames {
		frames[i].ID = strconv.Itoa(i + 1)
	}

	model, _ := run["model"].(string)
	return script{
		scenario:  scenarioFor(c, model, h.scenario),
		frames:    frames,
		doneEvent: "done",
		delay:     h.delay,
	}.play(c)
}

// UploadFile handles POST /v1/files
func (h *Handler) UploadFile(c echo.Context) error {
	purpose := strings.TrimSpace(c.FormValue("purpose"))
	if purpose == "" {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
			"Missing required parameter: 'purpose'.")
	}
	header, err := c.FormFile("file")
	if err != nil {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
			"Missing required parameter: 'file'.")
	}
	f, err := header.Open()
	if err != nil {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "", "failed to read file")
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return apiError(c, http.StatusBadRequest, "invalid_request_error", "", "failed to read file")
	}

	stored := &storedFile{
		object: core.FileObject{
			ID:        "file-" + shortID(),
			Object:    "file",
			Bytes:     int64(len(data)),
			CreatedAt: h.now().Unix(),
			Filename:  header.Filename,
			Purpose:   purpose,
			Status:    "processed",
		},
		data: data,
	}

	h.mu.Lock()
	h.files[stored.object.ID] = stored
	h.order = append(h.order, stored.object.ID)
	h.mu.Unlock()

	return c.JSON(http.StatusOK, stored.object)
}

// ListFiles handles GET /v1/files
func (h *Handler) ListFiles(c echo.Context) error {
	purpose := c.QueryParam("purpose")
	after := c.QueryParam("after")
	limit := 10000
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apiError(c, http.StatusBadRequest, "invalid_request_error", "", "limit must be a positive integer")
		}
		limit = n
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ids := h.order
	if after != "" {
		if i := slices.Index(ids, after); i >= 0 {
			ids = ids[i+1:]
		}
	}

	resp := core.FileListResponse{Object: "list", Data: []core.FileObject{}}
	for _, id := range ids {
		f := h.files[id]
		if purpose != "" && f.object.Purpose != purpose {
			continue
		}
		if len(resp.Data) == limit {
			resp.HasMore = true
			break
		}
		resp.Data = append(resp.Data, f.object)
	}
	return c.JSON(http.StatusOK, resp)
}

// RetrieveFile handles GET /v1/files/:id
func (h *Handler) RetrieveFile(c echo.Context) error {
	f, ok := h.lookup(c.Param("id"))
	if !ok {
		return fileNotFound(c)
	}
	return c.JSON(http.StatusOK, f.object)
}

// DeleteFile handles DELETE /v1/files/:id
func (h *Handler) DeleteFile(c echo.Context) error {
	id := c.Param("id")

	h.mu.Lock()
	_, ok := h.files[id]
	if ok {
		delete(h.files, id)
		h.order = slices.DeleteFunc(h.order, func(v string) bool { return v == id })
	}
	h.mu.Unlock()

	if !ok {
		return fileNotFound(c)
	}
	return c.JSON(http.StatusOK, core.DeletionStatus{ID: id, Object: "file", Deleted: true})
}

// FileContent handles GET /v1/files/:id/content
func (h *Handler) FileContent(c echo.Context) error {
	f, ok := h.lookup(c.Param("id"))
	if !ok {
		return fileNotFound(c)
	}
	return c.Blob(http.StatusOK, http.DetectContentType(f.data), f.data)
}

func (h *Handler) lookup(id string) (*storedFile, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[id]
	return f, ok
}

func fileNotFound(c echo.Context) error {
	return apiError(c, http.StatusNotFound, "invalid_request_error", "",
		"No such File object: "+c.Param("id"))
}

// requireBeta rejects assistants requests sent without the OpenAI-Beta header.
func requireBeta(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !strings.HasPrefix(c.Request().Header.Get("OpenAI-Beta"), "assistants=") {
			return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
				"You must provide the 'OpenAI-Beta' header to access the Assistants API.")
		}
		return next(c)
	}
}

func readJSON(c echo.Context) (gjson.Result, bool) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil || !gjson.ValidBytes(body) {
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

func invalidJSON(c echo.Context) error {
	return apiError(c, http.StatusBadRequest, "invalid_request_error", "",
		"We could not parse the JSON body of your request.")
}

func replyTo(messages gjson.Result) string {
	var last string
	messages.ForEach(func(_, m gjson.Result) bool {
		if m.Get("role").String() == "user" {
			last = m.Get("content").String()
		}
		return true
	})
	if last == "" {
		return ""
	}
	return "This is a mock response to: " + last
}

func moderate(text string) core.ModerationResult {
	lower := strings.ToLower(text)
	result := core.ModerationResult{
		Categories:     make(map[string]bool, len(moderationKeywords)),
		CategoryScores: make(map[string]float64, len(moderationKeywords)),
	}
	for category, words := range moderationKeywords {
		hit := slices.ContainsFunc(words, func(w string) bool { return strings.Contains(lower, w) })
		result.Categories[category] = hit
		if hit {
			result.CategoryScores[category] = 0.97
			result.Flagged = true
		} else {
			result.CategoryScores[category] = 0.01
		}
	}
	return result
}

func splitIntoChunks(s string, size int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
