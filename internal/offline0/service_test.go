package offline0

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testOriginServer struct {
	*httptest.Server

	mu       sync.Mutex
	bookings []string
}

func newTestOrigin(t *testing.T) *testOriginServer {
	t.Helper()
	o := &testOriginServer{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/bookings" && r.Method == http.MethodPost:
			b, _ := io.ReadAll(r.Body)
			o.mu.Lock()
			o.bookings = append(o.bookings, string(b))
			o.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/api/health":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/offline.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "offline")
		case strings.HasSuffix(r.URL.Path, ".js"):
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = io.WriteString(w, "console.log(1)")
		case strings.HasSuffix(r.URL.Path, ".png"), r.URL.Path == "/manifest.json":
			_, _ = io.WriteString(w, "asset "+r.URL.Path)
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<p>"+r.URL.Path+"</p>")
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *testOriginServer) Bookings() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.bookings...)
}

// startTestAgent runs a started service in front of origin.
func startTestAgent(t *testing.T, origin *testOriginServer) (*Service, *httptest.Server) {
	t.Helper()
	cfg := testConfig(t, func(cfg *Config) { cfg.Server.Origin = origin.URL })
	svc, err := NewService(cfg, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	agent := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		agent.Close()
		svc.Close()
	})
	return svc, agent
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServiceInstallsAndReportsStatus(t *testing.T) {
	origin := newTestOrigin(t)
	_, agent := startTestAgent(t, origin)

	var status StatusReport
	code := doJSON(t, http.MethodGet, agent.URL+ControlPrefix+"status", "", &status)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, StateActivated, status.State)
	assert.Equal(t, "v1", status.Version)
	// "/", offline page, manifest and two icons; "/courses/" is skipped.
	assert.Equal(t, 5, status.Caches.Namespaces["static-v1"])
	require.NotNil(t, status.Host)
	assert.True(t, status.Host.SkipWaiting)
	assert.True(t, status.Host.Claimed)
	assert.Equal(t, map[string]int{QueueSync: 0, QueueBookings: 0, QueueProfile: 0}, status.Queues)
}

func TestServiceProxiesWithMarker(t *testing.T) {
	origin := newTestOrigin(t)
	_, agent := startTestAgent(t, origin)

	get := func() *http.Response {
		resp, err := http.Get(agent.URL + "/assets/app.js")
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log(1)", string(body))
	assert.Equal(t, "cache-first/miss", resp.Header.Get("X-Offline0"))
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "X-Offline0")

	resp = get()
	assert.Equal(t, "cache-first/hit", resp.Header.Get("X-Offline0"))

	var status StatusReport
	doJSON(t, http.MethodGet, agent.URL+ControlPrefix+"status", "", &status)
	assert.Equal(t, uint64(1), status.Stats.Outcomes["cache-first/hit"])
}

func TestServiceServesOfflinePageWhenOriginIsDown(t *testing.T) {
	origin := newTestOrigin(t)
	_, agent := startTestAgent(t, origin)
	origin.Close()

	req, err := http.NewRequest(http.MethodGet, agent.URL+"/courses/pilates", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "offline", string(body))
	assert.Equal(t, "stale-while-revalidate/offline-page", resp.Header.Get("X-Offline0"))
}

func TestServiceQueueAndSyncOverControlChannel(t *testing.T) {
	origin := newTestOrigin(t)
	_, agent := startTestAgent(t, origin)

	code := doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"queues/"+QueueBookings, `{"courseId":11}`, nil)
	assert.Equal(t, http.StatusAccepted, code)

	code = doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"queues/pending-newsletter", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code = doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"queues/"+QueueBookings, `{"courseId":`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var report ReplayReport
	code = doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"sync/"+TagBookingSync, "", &report)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, report.Succeeded)
	assert.True(t, report.Cleared)
	assert.Equal(t, []string{`{"courseId":11}`}, origin.Bookings())
}

func TestServiceMessages(t *testing.T) {
	origin := newTestOrigin(t)
	_, agent := startTestAgent(t, origin)

	var out map[string]any
	code := doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"message", `{"type":"SKIP_WAITING"}`, &out)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["ok"])

	code = doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"message", `{"type":"RELOAD"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var cleared struct {
		Deleted []string `json:"deleted"`
	}
	code = doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"caches/clear", "", &cleared)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, cleared.Deleted, "static-v1")
}

func TestServicePushAndClick(t *testing.T) {
	origin := newTestOrigin(t)
	_, agent := startTestAgent(t, origin)

	var pushed struct {
		Shown        bool         `json:"shown"`
		Notification Notification `json:"notification"`
	}
	code := doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"push",
		`{"title":"Reminder","data":{"type":"booking","bookingId":"abc123"}}`, &pushed)
	require.Equal(t, http.StatusOK, code)
	require.True(t, pushed.Shown)

	var res ClickResult
	doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"notifications/"+pushed.Notification.ID+"/click", "", &res)
	assert.Equal(t, "/bookings/abc123", res.Target)
	assert.NotEmpty(t, res.Opened)

	var views []View
	doJSON(t, http.MethodGet, agent.URL+ControlPrefix+"views", "", &views)
	require.Len(t, views, 1)
	assert.Equal(t, res.Opened, views[0].ID)

	var view View
	code = doJSON(t, http.MethodPost, agent.URL+ControlPrefix+"views", `{"url":"/courses"}`, &view)
	assert.Equal(t, http.StatusCreated, code)
	assert.True(t, view.Controlled)
}

func TestEnsureExposedHeader(t *testing.T) {
	h := http.Header{}
	ensureExposedHeader(h, "X-Offline0")
	assert.Equal(t, "X-Offline0", h.Get("Access-Control-Expose-Headers"))

	h.Set("Access-Control-Expose-Headers", "ETag")
	ensureExposedHeader(h, "X-Offline0")
	assert.Equal(t, "ETag, X-Offline0", h.Get("Access-Control-Expose-Headers"))

	ensureExposedHeader(h, "x-offline0")
	assert.Equal(t, "ETag, X-Offline0", h.Get("Access-Control-Expose-Headers"))
}

func TestServiceRejectsOversizedBodies(t *testing.T) {
	net := newFakeNetwork(func(call fetchCall) (Entry, error) { return textEntry("ok"), nil })
	svc := createTestService(t, net)
	h := svc.Handler()
	big := strings.Repeat("x", maxRequestBody+1)

	for _, target := range []string{"/api/uploads", ControlPrefix + "queues/" + QueueBookings} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(big)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, target)
	}
	assert.Empty(t, net.Calls(), "an oversized body never reaches the origin")
	n, err := svc.Worker().replay.Len(context.Background(), QueueBookings)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec := httptest.NewRecorder()
	exact := strings.Repeat("x", maxRequestBody)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(exact)))
	assert.Equal(t, http.StatusOK, rec.Code)
	calls := net.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Body, maxRequestBody)
}

func TestControlReplyLogsEncodeFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	svc, err := NewService(testConfig(t), Options{Network: newFakeNetwork(offlineHandler), Logger: zap.New(core)})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	rec := httptest.NewRecorder()
	svc.writeJSON(rec, http.StatusOK, map[string]any{"c": make(chan int)})

	entries := logs.FilterMessage("write control reply").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, http.StatusOK, entries[0].ContextMap()["status"])
}
