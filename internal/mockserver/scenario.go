package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Scenario selects how a streaming endpoint behaves.
type Scenario string

const (
	// ScenarioNormal streams every frame followed by the [DONE] sentinel.
	ScenarioNormal Scenario = "normal"
	// ScenarioMalformed streams one frame, then a payload that is not JSON.
	ScenarioMalformed Scenario = "malformed"
	// ScenarioNoDone streams every frame and closes without the sentinel.
	ScenarioNoDone Scenario = "no-done"
	// ScenarioError fails with a 500 before the stream opens.
	ScenarioError Scenario = "error"
	// ScenarioRateLimit fails with a 429 before the stream opens.
	ScenarioRateLimit Scenario = "rate-limit"
)

// ScenarioHeader overrides the scenario of a single request.
const ScenarioHeader = "X-Mock-Scenario"

const modelScenarioPrefix = "mock-"

var scenarios = []Scenario{ScenarioNormal, ScenarioMalformed, ScenarioNoDone, ScenarioError, ScenarioRateLimit}

// ParseScenario validates a scenario name. Empty selects ScenarioNormal.
func ParseScenario(name string) (Scenario, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ScenarioNormal, nil
	}
	for _, s := range scenarios {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown mock scenario %q", name)
}

// scenarioFor picks the scenario of a request: the ScenarioHeader first, then
// a "mock-<scenario>" model name, then the server default.
func scenarioFor(c echo.Context, model string, fallback Scenario) Scenario {
	if name := c.Request().Header.Get(ScenarioHeader); name != "" {
		if s, err := ParseScenario(name); err == nil {
			return s
		}
	}
	if name, ok := strings.CutPrefix(model, modelScenarioPrefix); ok {
		if s, err := ParseScenario(name); err == nil {
			return s
		}
	}
	if fallback == "" {
		return ScenarioNormal
	}
	return fallback
}

// frame is one scripted SSE event.
type frame struct {
	Event string
	ID    string
	Data  any
}

// script plays frames according to scenario. doneEvent names the event that
// carries the sentinel; run streams use "done", chat streams none.
type script struct {
	scenario  Scenario
	frames    []frame
	doneEvent string
	delay     time.Duration
}

func (s script) play(c echo.Context) error {
	switch s.scenario {
	case ScenarioError:
		return apiError(c, http.StatusInternalServerError, "server_error", "",
			"The server had an error while processing your request.")
	case ScenarioRateLimit:
		return apiError(c, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded",
			"Rate limit reached for requests.")
	}

	w := startSSE(c, s.delay)
	if err := w.comment("mock stream"); err != nil {
		return nil
	}

	frames := s.frames
	if s.scenario == ScenarioMalformed && len(frames) > 1 {
		frames = frames[:1]
	}
	for _, f := range frames {
		if err := w.json(f); err != nil {
			return nil
		}
	}

	switch s.scenario {
	case ScenarioMalformed:
		_ = w.raw("", "", `{"id": "broken", "choices": [`)
		_ = w.raw(s.doneEvent, "", "[DONE]")
	case ScenarioNoDone:
	default:
		_ = w.raw(s.doneEvent, "", "[DONE]")
	}
	// Headers are sent; client disconnects surface as write errors and are not reported.
	return nil
}

type sseWriter struct {
	c     echo.Context
	delay time.Duration
}

func startSSE(c echo.Context, delay time.Duration) *sseWriter {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
	return &sseWriter{c: c, delay: delay}
}

func (w *sseWriter) json(f frame) error {
	data, err := json.Marshal(f.Data)
	if err != nil {
		return err
	}
	return w.raw(f.Event, f.ID, string(data))
}

func (w *sseWriter) comment(text string) error {
	return w.write(": " + text + "\n\n")
}

func (w *sseWriter) raw(event, id, data string) error {
	if w.delay > 0 {
		timer := time.NewTimer(w.delay)
		select {
		case <-w.c.Request().Context().Done():
			timer.Stop()
			return w.c.Request().Context().Err()
		case <-timer.C:
		}
	}

	var b strings.Builder
	if event != "" {
		b.WriteString("event: " + event + "\n")
	}
	if id != "" {
		b.WriteString("id: " + id + "\n")
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return w.write(b.String())
}

func (w *sseWriter) write(s string) error {
	if err := w.c.Request().Context().Err(); err != nil {
		return err
	}
	if _, err := w.c.Response().Write([]byte(s)); err != nil {
		return err
	}
	w.c.Response().Flush()
	return nil
}
