package offline0

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Connectivity-restoration signals.
const (
	TagBackgroundSync = "background-sync"
	TagBookingSync    = "booking-sync"
	TagProfileSync    = "profile-sync"
)

// ErrUnknownQueue is the cause of an enqueue to a queue no tag drains.
var ErrUnknownQueue = errors.New("unknown queue")

// Tags lists every connectivity-restoration signal.
var Tags = []string{TagBackgroundSync, TagBookingSync, TagProfileSync}

type replayTarget struct {
	queue    string
	method   string
	endpoint string
	single   bool // value is one payload, not a sequence
}

// Replayer drains the mutation queues of the durable store against the origin.
//
// Enqueue serialises enqueuers with a mutex; Handle does not take it, so an
// enqueue that lands between a drain's read and its clear is lost with the
// rest of the record.
type Replayer struct {
	store   QueueStore
	net     Network
	origin  string
	targets map[string]replayTarget
	log     *zap.Logger

	enqueueMu sync.Mutex
}

func newReplayer(cfg Config, origin string, store QueueStore, net Network, log *zap.Logger) *Replayer {
	return &Replayer{
		store:  store,
		net:    net,
		origin: origin,
		targets: map[string]replayTarget{
			TagBackgroundSync: {queue: QueueSync, method: http.MethodPost, endpoint: cfg.Sync.Endpoints.Generic},
			TagBookingSync:    {queue: QueueBookings, method: http.MethodPost, endpoint: cfg.Sync.Endpoints.Bookings},
			TagProfileSync:    {queue: QueueProfile, method: http.MethodPut, endpoint: cfg.Sync.Endpoints.Profile, single: true},
		},
		log: log,
	}
}

func (p *Replayer) targetForQueue(queue string) (replayTarget, bool) {
	for _, t := range p.targets {
		if t.queue == queue {
			return t, true
		}
	}
	return replayTarget{}, false
}

// Enqueue records a mutation that could not be delivered. Sequence queues
// get payload appended; the profile queue keeps only the latest payload.
func (p *Replayer) Enqueue(ctx context.Context, queue string, payload json.RawMessage) error {
	t, ok := p.targetForQueue(queue)
	if !ok {
		return newError(KindStore, "queue.enqueue", fmt.Sprintf("unknown queue %q", queue), ErrUnknownQueue)
	}
	if !json.Valid(payload) {
		return parseError("queue.enqueue", "payload is not valid JSON", nil)
	}
	if t.single {
		return p.store.Put(ctx, queue, payload)
	}

	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()

	var items []json.RawMessage
	rec, ok, err := p.store.Get(ctx, queue)
	if err != nil {
		return err
	}
	if ok && len(rec.Value) > 0 {
		if err := json.Unmarshal(rec.Value, &items); err != nil {
			return parseError("queue.enqueue", "queued value of "+queue+" is not a list", err)
		}
	}
	items = append(items, payload)
	b, err := json.Marshal(items)
	if err != nil {
		return parseError("queue.enqueue", "encode "+queue, err)
	}
	return p.store.Put(ctx, queue, b)
}

// Len returns how many mutations wait in queue.
func (p *Replayer) Len(ctx context.Context, queue string) (int, error) {
	rec, ok, err := p.store.Get(ctx, queue)
	if err != nil || !ok {
		return 0, err
	}
	if t, _ := p.targetForQueue(queue); t.single {
		return 1, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rec.Value, &items); err != nil {
		return 0, parseError("queue.len", "queued value of "+queue+" is not a list", err)
	}
	return len(items), nil
}

// Handle drains the queue behind tag. Items are replayed in insertion
// order; a failed item is logged and skipped. Once the pass is over the
// record is deleted whatever the per-item outcome, so failed items are
// dropped, not retried. Errors never reach the caller.
func (p *Replayer) Handle(ctx context.Context, tag string) ReplayReport {
	report := ReplayReport{Tag: tag}
	t, ok := p.targets[tag]
	if !ok {
		p.log.Warn("unknown sync tag", zap.String("tag", tag))
		return report
	}
	report.Queue = t.queue
	log := p.log.With(zap.String("tag", tag), zap.String("queue", t.queue))

	rec, ok, err := p.store.Get(ctx, t.queue)
	if err != nil {
		log.Error("read queue", zap.Error(err))
		return report
	}
	if !ok {
		return report
	}

	var items []json.RawMessage
	if t.single {
		if len(rec.Value) > 0 && string(rec.Value) != "null" {
			items = []json.RawMessage{rec.Value}
		}
	} else if err := json.Unmarshal(rec.Value, &items); err != nil {
		log.Error("malformed queued value", zap.Error(parseError("queue.replay", "queued value is not a list", err)))
		return report
	}

	for i, payload := range items {
		report.Attempted++
		if err := p.send(ctx, t, payload); err != nil {
			report.Failed++
			log.Warn("replay failed", zap.Int("item", i), zap.Error(err))
			continue
		}
		report.Succeeded++
	}

	if err := p.store.Delete(ctx, t.queue); err != nil {
		log.Error("clear queue", zap.Error(err))
		return report
	}
	report.Cleared = true
	if report.Attempted > 0 {
		log.Info("queue replayed",
			zap.Int("attempted", report.Attempted),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("dropped", report.Failed))
	}
	return report
}

// HandleAll drains every queue concurrently. There is no ordering between queues.
func (p *Replayer) HandleAll(ctx context.Context) []ReplayReport {
	reports := make([]ReplayReport, len(Tags))
	var g errgroup.Group
	for i, tag := range Tags {
		g.Go(func() error {
			reports[i] = p.Handle(ctx, tag)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (p *Replayer) send(ctx context.Context, t replayTarget, payload json.RawMessage) error {
	req, err := jsonRequest(ctx, t.method, p.origin+t.endpoint, payload)
	if err != nil {
		return err
	}
	ent, err := p.net.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !ent.OK() {
		return newError(KindNetwork, "queue.replay", fmt.Sprintf("%s %s answered %d", t.method, t.endpoint, ent.Status), nil)
	}
	return nil
}
