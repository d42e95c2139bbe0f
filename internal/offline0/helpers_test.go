package offline0

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOrigin = "http://origin.test"

type fetchCall struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// fakeNetwork answers fetches from a handler function and records every call.
type fakeNetwork struct {
	mu      sync.Mutex
	calls   []fetchCall
	handler func(call fetchCall) (Entry, error)
}

var errOffline = errors.New("dial tcp: connection refused")

func newFakeNetwork(handler func(call fetchCall) (Entry, error)) *fakeNetwork {
	return &fakeNetwork{handler: handler}
}

func (f *fakeNetwork) Fetch(ctx context.Context, req *http.Request) (Entry, error) {
	call := fetchCall{Method: req.Method, Path: req.URL.RequestURI(), Header: req.Header.Clone()}
	if req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			call.Body, _ = io.ReadAll(rc)
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return Entry{}, networkError("fetch "+call.Path, errOffline)
	}
	return handler(call)
}

func (f *fakeNetwork) setHandler(handler func(call fetchCall) (Entry, error)) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

func (f *fakeNetwork) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func (f *fakeNetwork) CallsTo(path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Path == path {
			n++
		}
	}
	return n
}

func offlineHandler(call fetchCall) (Entry, error) {
	return Entry{}, networkError("fetch "+call.Path, errOffline)
}

// textEntry is a 200 response as the network would produce it.
func textEntry(body string) Entry {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return snapshot(http.StatusOK, h, []byte(body))
}

func htmlEntry(body string) Entry {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	return snapshot(http.StatusOK, h, []byte(body))
}

// testConfig is a compiled config pointing at testOrigin with storage in a
// temp dir and the connectivity probe disabled.
func testConfig(t *testing.T, overrides ...func(*Config)) Config {
	t.Helper()
	all := append([]func(*Config){func(cfg *Config) {
		cfg.Server.Origin = testOrigin
		cfg.Storage.Path = t.TempDir()
		cfg.Sync.Probe.Path = ""
	}}, overrides...)
	cfg, err := ParseConfig(nil, all...)
	require.NoError(t, err)
	return cfg
}

// createTestService builds a service on a fake network. The caller runs
// Start when the test needs install and activate.
func createTestService(t *testing.T, net Network, overrides ...func(*Config)) *Service {
	t.Helper()
	svc, err := NewService(testConfig(t, overrides...), Options{Network: net, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func getRequest(path string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, path, nil)
	r.RequestURI = path
	return r
}

func documentRequest(path string) *http.Request {
	r := getRequest(path)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	return r
}
