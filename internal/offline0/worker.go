package offline0

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// precacheParallelism bounds concurrent shell fetches during install.
const precacheParallelism = 6

// Response is what the worker answers an intercepted request with.
type Response struct {
	Entry
	Route   Route
	Outcome string
}

// Marker is the X-Offline0 value, e.g. "cache-first/hit".
func (r Response) Marker() string {
	return string(r.Route.Strategy) + "/" + r.Outcome
}

// Message is a control-channel message from the hosting application.
type Message struct {
	Type string `json:"type"`
}

const (
	MsgSkipWaiting = "SKIP_WAITING"
	MsgClearCaches = "CLEAR_CACHES"
	MsgCacheStatus = "CACHE_STATUS"
)

// Worker is the coordinating type: one entry point per host event, each of
// them a terminal boundary that logs instead of failing.
type Worker struct {
	cfg    Config
	policy *Policy
	caches *Caches
	strat  *strategies
	replay *Replayer
	notify *Notifier
	host   Host
	net    Network
	bg     *Boundary
	stats  *statsCollector
	log    *zap.Logger

	mu    sync.Mutex
	state State
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.log.Debug("lifecycle", zap.String("state", string(s)))
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnInstall creates the static namespace and precaches the shell. A
// resource that cannot be fetched is logged and skipped; install goes on.
func (w *Worker) OnInstall(ctx context.Context) error {
	w.setState(StateInstalling)
	ns := w.policy.static
	if err := w.caches.Ensure(ns); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(precacheParallelism)
	for _, p := range w.policy.precache {
		if p != "/" && strings.HasSuffix(p, "/") {
			w.log.Debug("precache skips directory entry", zap.String("path", p))
			continue
		}
		g.Go(func() error {
			w.bg.Guard("precache "+p, func() { w.precache(ctx, ns, p) })
			return nil
		})
	}
	_ = g.Wait()

	w.setState(StateInstalled)
	w.host.SkipWaiting()
	return nil
}

func (w *Worker) precache(ctx context.Context, ns, p string) {
	req, err := outboundRequest(ctx, http.MethodGet, w.policy.Origin()+p, http.Header{}, nil)
	if err != nil {
		w.log.Warn("precache request", zap.String("path", p), zap.Error(err))
		return
	}
	ent, err := w.net.Fetch(ctx, req)
	if err != nil {
		w.log.Warn("precache fetch failed", zap.String("path", p), zap.Error(err))
		return
	}
	if !ent.OK() {
		w.log.Warn("precache got non-2xx", zap.String("path", p), zap.Int("status", ent.Status))
		return
	}
	if err := w.caches.Put(ns, requestKey(http.MethodGet, p), ent); err != nil {
		w.log.Warn("precache store failed", zap.String("path", p), zap.Error(err))
	}
}

// OnActivate deletes every namespace outside the current allow-list and
// takes control of open views.
func (w *Worker) OnActivate(ctx context.Context) error {
	w.setState(StateActivating)
	deleted, err := w.caches.Purge(w.policy.Namespaces())
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		w.log.Info("activated, stale caches removed", zap.Strings("deleted", deleted))
	}
	w.host.Claim()
	w.setState(StateActivated)
	return nil
}

// OnRequest answers an intercepted request. It returns false for requests
// that must not be intercepted; the caller passes those through untouched.
func (w *Worker) OnRequest(ctx context.Context, r *http.Request, body []byte) (Response, bool) {
	route, ok := w.policy.Dispatch(r)
	if !ok {
		return Response{}, false
	}
	resp := Response{Route: route}

	req, err := originRequest(ctx, w.policy.Origin(), r, body)
	if err != nil {
		w.log.Warn("build origin request", zap.String("uri", r.RequestURI), zap.Error(err))
		resp.Entry, resp.Outcome = offlineText("Service Unavailable"), "unavailable"
		return resp, true
	}
	if w.bg.Guard("request", func() { resp.Entry, resp.Outcome = w.strat.Run(ctx, route, req) }) {
		resp.Entry, resp.Outcome = offlineText("Service Unavailable"), "fault"
	}
	return resp, true
}

// OnSync drains the queue behind a connectivity-restoration signal.
func (w *Worker) OnSync(ctx context.Context, tag string) ReplayReport {
	var report ReplayReport
	w.bg.Guard("sync "+tag, func() { report = w.replay.Handle(ctx, tag) })
	return report
}

// OnPush displays the notification of a push payload.
func (w *Worker) OnPush(ctx context.Context, payload []byte) (Notification, bool) {
	var (
		note Notification
		ok   bool
	)
	w.bg.Guard("push", func() { note, ok = w.notify.Push(ctx, payload) })
	return note, ok
}

func (w *Worker) OnNotificationClick(ctx context.Context, id, action string) ClickResult {
	var res ClickResult
	w.bg.Guard("notificationclick", func() { res = w.notify.Click(ctx, id, action) })
	return res
}

func (w *Worker) OnNotificationClose(ctx context.Context, id string) {
	w.bg.Guard("notificationclose", func() { w.notify.Close(ctx, id) })
}

// OnMessage handles a control-channel message; the returned value is the reply.
func (w *Worker) OnMessage(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case MsgSkipWaiting:
		w.host.SkipWaiting()
		return map[string]bool{"ok": true}, nil
	case MsgClearCaches:
		deleted, err := w.caches.ClearAll()
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "deleted": deleted}, nil
	case MsgCacheStatus:
		return w.Status(ctx), nil
	default:
		return nil, parseError("message", fmt.Sprintf("unknown message type %q", msg.Type), nil)
	}
}

// Enqueue records a mutation for later replay.
func (w *Worker) Enqueue(ctx context.Context, queue string, payload json.RawMessage) error {
	return w.replay.Enqueue(ctx, queue, payload)
}

// StatusReport is the diagnostic summary returned for CACHE_STATUS.
type StatusReport struct {
	State             State          `json:"state"`
	Version           string         `json:"version"`
	Host              *HostStatus    `json:"host,omitempty"`
	Caches            CacheStatus    `json:"caches"`
	Queues            map[string]int `json:"queues"`
	Stats             StatsSnapshot  `json:"stats"`
	Notifications     int            `json:"notifications"`
	Faults            uint64         `json:"faults"`
	SkippedBackground uint64         `json:"skippedBackground"`
	Memory            string         `json:"memory,omitempty"`
}

func (w *Worker) Status(ctx context.Context) StatusReport {
	report := StatusReport{
		State:             w.State(),
		Version:           w.cfg.Caches.Version,
		Queues:            map[string]int{},
		Stats:             w.stats.Snapshot(),
		Notifications:     len(w.notify.surface.Active()),
		Faults:            w.bg.Faults(),
		SkippedBackground: w.bg.Skipped(),
		Memory:            memorySummary(),
	}
	if ph, ok := w.host.(*processHost); ok {
		hs := ph.Status()
		report.Host = &hs
	}
	cs, err := w.caches.Status()
	if err != nil {
		w.log.Warn("cache status", zap.Error(err))
	}
	report.Caches = cs
	for _, q := range []string{QueueSync, QueueBookings, QueueProfile} {
		n, err := w.replay.Len(ctx, q)
		if err != nil {
			w.log.Warn("queue status", zap.String("queue", q), zap.Error(err))
			n = -1
		}
		report.Queues[q] = n
	}
	return report
}
