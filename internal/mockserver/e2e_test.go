package mockserver_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oaistream/internal/core"
	"oaistream/internal/llmclient"
	"oaistream/internal/mockserver"
	"oaistream/internal/openai"
	"oaistream/internal/stream"
)

// callLog records callbacks in delivery order.
type callLog struct {
	mu    sync.Mutex
	calls []string
	text  strings.Builder
	err   error
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) options() stream.Options {
	return stream.Options{
		OnOpen: func() { l.add("open") },
		OnError: func(err error) {
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			l.add("error")
		},
		OnDone: func() { l.add("done") },
	}
}

func (l *callLog) onChunk(c core.ChatCompletionChunk) {
	l.mu.Lock()
	l.text.WriteString(c.Text())
	l.mu.Unlock()
	l.add("data")
}

func newClient(t *testing.T, cfg *mockserver.Config) *openai.Client {
	t.Helper()
	server := httptest.NewServer(mockserver.New(cfg))
	t.Cleanup(server.Close)

	req := llmclient.DefaultConfig("openai", server.URL+"/v1")
	req.MaxRetries = 0
	return openai.New("sk-mock", openai.Options{BaseURL: server.URL + "/v1", Request: &req})
}

func wait(t *testing.T, s *stream.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func chatRequest(model string) *core.ChatRequest {
	return &core.ChatRequest{
		Model:    model,
		Messages: []core.Message{{Role: "user", Content: "ping"}},
	}
}

func TestChatStream_Normal(t *testing.T) {
	c := newClient(t, &mockserver.Config{APIKey: "sk-mock"})
	log := &callLog{}

	s, err := c.StreamChatCompletion(context.Background(), chatRequest("gpt-4o-mini"), log.onChunk, log.options())
	require.NoError(t, err)
	wait(t, s)

	require.NoError(t, log.err)
	assert.Equal(t, "open", log.calls[0])
	assert.Equal(t, "done", log.calls[len(log.calls)-1])
	assert.Equal(t, "This is a mock response to: ping", log.text.String())
}

func TestChatStream_Malformed(t *testing.T) {
	c := newClient(t, nil)
	log := &callLog{}

	s, err := c.StreamChatCompletion(context.Background(), chatRequest("mock-malformed"), log.onChunk, log.options())
	require.NoError(t, err)
	wait(t, s)

	assert.Equal(t, []string{"open", "data", "error"}, log.calls)
	require.Error(t, log.err)
	assert.True(t, core.IsType(log.err, core.ErrorTypeDecode))
}

func TestChatStream_CloseWithoutDone(t *testing.T) {
	c := newClient(t, &mockserver.Config{Scenario: mockserver.ScenarioNoDone})
	log := &callLog{}

	s, err := c.StreamChatCompletion(context.Background(), chatRequest("gpt-4o-mini"), log.onChunk, log.options())
	require.NoError(t, err)
	wait(t, s)

	assert.Equal(t, "open", log.calls[0])
	assert.Equal(t, "error", log.calls[len(log.calls)-1])
	assert.NotContains(t, log.calls, "done")
	assert.True(t, core.IsType(log.err, core.ErrorTypeTransport))
}

func TestChatStream_ErrorBeforeOpen(t *testing.T) {
	c := newClient(t, &mockserver.Config{Scenario: mockserver.ScenarioRateLimit})
	log := &callLog{}

	s, err := c.StreamChatCompletion(context.Background(), chatRequest("gpt-4o-mini"), log.onChunk, log.options())
	require.NoError(t, err)
	wait(t, s)

	assert.Equal(t, []string{"error"}, log.calls)
	assert.True(t, core.IsType(log.err, core.ErrorTypeRateLimit))
}

func TestChatStream_WrongKey(t *testing.T) {
	c := newClient(t, &mockserver.Config{APIKey: "sk-other"})
	log := &callLog{}

	s, err := c.StreamChatCompletion(context.Background(), chatRequest("gpt-4o-mini"), log.onChunk, log.options())
	require.NoError(t, err)
	wait(t, s)

	assert.Equal(t, []string{"error"}, log.calls)
	assert.True(t, core.IsType(log.err, core.ErrorTypeAuthentication))
}

func TestChatStream_CancelMidStream(t *testing.T) {
	c := newClient(t, &mockserver.Config{ChunkDelay: 50 * time.Millisecond})
	log := &callLog{}

	first := make(chan struct{})
	var once sync.Once
	s, err := c.StreamChatCompletion(context.Background(), chatRequest("gpt-4o-mini"), func(ch core.ChatCompletionChunk) {
		log.onChunk(ch)
		once.Do(func() { close(first) })
	}, log.options())
	require.NoError(t, err)

	<-first
	s.Cancel()
	wait(t, s)

	assert.Equal(t, "error", log.calls[len(log.calls)-1])
	assert.NotContains(t, log.calls, "done")
	assert.True(t, core.IsType(log.err, core.ErrorTypeCanceled))
}

func TestRunStream(t *testing.T) {
	c := newClient(t, nil)

	var mu sync.Mutex
	var objects []string
	var text strings.Builder
	s, err := c.CreateThreadAndRunStream(context.Background(), &core.ThreadAndRunRequest{
		AssistantID: "asst_1",
		Thread:      &core.ThreadRequest{Messages: []core.MessageRequest{{Role: "user", Content: "hello"}}},
	}, func(o core.RunStreamObject) {
		mu.Lock()
		defer mu.Unlock()
		objects = append(objects, o.Object)
		text.WriteString(o.DeltaText())
	}, stream.Options{})
	require.NoError(t, err)
	wait(t, s)
	require.NoError(t, s.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "thread.run", objects[0])
	assert.Equal(t, "thread.run", objects[len(objects)-1])
	assert.Contains(t, objects, "thread.message.delta")
	assert.Equal(t, "This is a mock response to: hello", text.String())
}

func TestFilesRoundTrip(t *testing.T) {
	c := newClient(t, nil)
	ctx := context.Background()

	uploaded, err := c.UploadFile(ctx, &core.FileCreateRequest{
		Purpose:  "batch",
		Filename: "requests.jsonl",
		Content:  []byte("{\"custom_id\":\"1\"}\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "requests.jsonl", uploaded.Filename)
	assert.Equal(t, int64(18), uploaded.Bytes)

	list, err := c.ListFiles(ctx, "batch", 0, "")
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, uploaded.ID, list.Data[0].ID)

	content, err := c.FileContent(ctx, uploaded.ID)
	require.NoError(t, err)
	assert.Equal(t, "{\"custom_id\":\"1\"}\n", string(content.Data))

	deleted, err := c.DeleteFile(ctx, uploaded.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	_, err = c.RetrieveFile(ctx, uploaded.ID)
	assert.True(t, core.IsType(err, core.ErrorTypeNotFound))
}

func TestModelsAndModeration(t *testing.T) {
	c := newClient(t, nil)
	ctx := context.Background()

	models, err := c.ListModels(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, models.Data)

	model, err := c.RetrieveModel(ctx, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", model.ID)

	_, err = c.RetrieveModel(ctx, "does-not-exist")
	assert.True(t, core.IsType(err, core.ErrorTypeNotFound))

	resp, err := c.ModerateText(ctx, "they plan to attack")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Flagged)
}
