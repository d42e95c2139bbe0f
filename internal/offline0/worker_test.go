package offline0

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHost struct {
	calls []string
}

func (h *recordingHost) SkipWaiting() { h.calls = append(h.calls, "skipWaiting") }
func (h *recordingHost) Claim() { h.calls = append(h.calls, "claim") }

func TestInstallSkipsUnreachableResources(t *testing.T) {
	net := newFakeNetwork(func(call fetchCall) (Entry, error) {
		switch call.Path {
		case "/manifest.json":
			return offlineHandler(call)
		case "/icons/icon-512x512.png":
			return statusEntry(http.StatusNotFound), nil
		}
		return textEntry(call.Path), nil
	})
	svc := createTestService(t, net)
	w := svc.Worker()
	ctx := context.Background()

	require.NoError(t, w.OnInstall(ctx))
	assert.Equal(t, StateInstalled, w.State())
	assert.Zero(t, net.CallsTo("/courses/"), "directory entries are not fetched")

	for path, want := range map[string]bool{
		"/":                       true,
		"/offline.html":           true,
		"/icons/icon-192x192.png": true,
		"/manifest.json":          false,
		"/icons/icon-512x512.png": false,
	} {
		_, ok := w.caches.Match("static-v1", requestKey(http.MethodGet, path))
		assert.Equal(t, want, ok, path)
	}
}

func TestLifecycleSignalsHost(t *testing.T) {
	host := &recordingHost{}
	cfg := testConfig(t)
	svc, err := NewService(cfg, Options{Network: newFakeNetwork(offlineHandler), Host: host})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, []string{"skipWaiting", "claim"}, host.calls)
	assert.Equal(t, StateActivated, svc.Worker().State())

	_, err = svc.Worker().OnMessage(context.Background(), Message{Type: MsgSkipWaiting})
	require.NoError(t, err)
	assert.Equal(t, []string{"skipWaiting", "claim", "skipWaiting"}, host.calls)

	assert.Nil(t, svc.Worker().Status(context.Background()).Host, "custom hosts report no process status")
}

func TestOnMessageCacheStatus(t *testing.T) {
	svc := createTestService(t, newFakeNetwork(offlineHandler))
	out, err := svc.Worker().OnMessage(context.Background(), Message{Type: MsgCacheStatus})
	require.NoError(t, err)
	report, ok := out.(StatusReport)
	require.True(t, ok)
	assert.Equal(t, StateNew, report.State)

	_, err = svc.Worker().OnMessage(context.Background(), Message{Type: "UNKNOWN"})
	assert.True(t, IsKind(err, KindParse))
}

func TestResponseMarker(t *testing.T) {
	r := Response{Route: Route{Strategy: NetworkFirst}, Outcome: "fallback"}
	assert.Equal(t, "network-first/fallback", r.Marker())
}

func TestStatusCountsSkippedRevalidations(t *testing.T) {
	release := make(chan struct{})
	var hung atomic.Bool
	net := newFakeNetwork(func(call fetchCall) (Entry, error) {
		if hung.Load() {
			<-release
		}
		return textEntry("png"), nil
	})
	svc := createTestService(t, net, func(cfg *Config) { cfg.Network.Background = 1 })
	w := svc.Worker()
	ctx := context.Background()

	_, _ = w.OnRequest(ctx, getRequest("/img/a.png"), nil)
	hung.Store(true)
	for range 2 {
		resp, _ := w.OnRequest(ctx, getRequest("/img/a.png"), nil)
		assert.Equal(t, "cache-first/hit", resp.Marker(), "a full budget never delays the answer")
	}
	close(release)
	w.bg.Wait()

	report := w.Status(ctx)
	assert.Equal(t, uint64(1), report.SkippedBackground)
	assert.Zero(t, report.Faults)
}
