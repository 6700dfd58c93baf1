// Package testutil provides testing utilities for dish-finder.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// RunPath is the endpoint served by MockAutomation.
const RunPath = "/automation/run-sse"

// RunRequest is a captured automation request body.
type RunRequest struct {
	URL            string         `json:"url"`
	Goal           string         `json:"goal"`
	BrowserProfile string         `json:"browser_profile"`
	ProxyConfig    map[string]any `json:"proxy_config"`
}

// IsFallback reports whether the request carries a per-restaurant goal.
func (r RunRequest) IsFallback() bool {
	return strings.Contains(r.Goal, `"restaurant_name"`)
}

// Script defines one mock response.
type Script struct {
	StatusCode int
	Lines      []string

	// LineDelay is slept before each line.
	LineDelay time.Duration

	// Hang keeps the stream open after Lines until the client goes away.
	Hang bool
}

// MockAutomation is a configurable automation backend for testing.
type MockAutomation struct {
	server *httptest.Server
	mu     sync.RWMutex
	router func(RunRequest) Script

	// Tracking
	requests          []RunRequest
	LastRequestHeader http.Header
}

// NewMockAutomation creates a mock backend that completes every run with an
// empty restaurant list until configured otherwise.
func NewMockAutomation() *MockAutomation {
	mock := &MockAutomation{}
	mock.router = func(RunRequest) Script {
		return Script{Lines: []string{CompleteLine(`{"restaurants": []}`)}}
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockAutomation) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != RunPath {
		http.NotFound(w, r)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "bad request"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.LastRequestHeader = r.Header.Clone()
	router := m.router
	m.mu.Unlock()

	script := router(req)
	status := script.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error": "status %d"}`, status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)

	for _, line := range script.Lines {
		if script.LineDelay > 0 {
			select {
			case <-time.After(script.LineDelay):
			case <-r.Context().Done():
				return
			}
		}
		fmt.Fprintf(w, "%s\n\n", line)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if script.Hang {
		<-r.Context().Done()
	}
}

// URL returns the mock server URL.
func (m *MockAutomation) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAutomation) Close() {
	m.server.CloseClientConnections()
	m.server.Close()
}

// Reset clears captured requests.
func (m *MockAutomation) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.LastRequestHeader = nil
}

// SetScript serves s for every run.
func (m *MockAutomation) SetScript(s Script) {
	m.SetRouter(func(RunRequest) Script { return s })
}

// SetRouter chooses a script per request.
func (m *MockAutomation) SetRouter(router func(RunRequest) Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.router = router
}

// Requests returns a copy of the captured requests in arrival order.
func (m *MockAutomation) Requests() []RunRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RunRequest(nil), m.requests...)
}

// GetRequestCount returns the number of runs received.
func (m *MockAutomation) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// GetHeader returns a header of the last request.
func (m *MockAutomation) GetHeader(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Get(name)
}

// ProgressLine renders a PROGRESS event line.
func ProgressLine(purpose string) string {
	return eventLine(map[string]any{"type": "PROGRESS", "purpose": purpose})
}

// CompleteLine renders a COMPLETE event line carrying resultJSON verbatim.
func CompleteLine(resultJSON string) string {
	return fmt.Sprintf(`data: {"type": "COMPLETE", "status": "COMPLETED", "resultJson": %s}`, resultJSON)
}

// ErrorLine renders an ERROR event line.
func ErrorLine(message string) string {
	return eventLine(map[string]any{"type": "ERROR", "message": message})
}

func eventLine(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return "data: " + string(b)
}

// DishesResult renders a fallback result for name with the given dishes.
func DishesResult(name string, dishes ...string) string {
	if dishes == nil {
		dishes = []string{}
	}
	b, err := json.Marshal(map[string]any{"restaurant_name": name, "popular_dishes": dishes})
	if err != nil {
		panic(err)
	}
	return string(b)
}
