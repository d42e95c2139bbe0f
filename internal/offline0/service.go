package offline0

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"
)

// maxRequestBody caps what the agent buffers of an intercepted request body.
const maxRequestBody = 8 << 20

var errBodyTooLarge = errors.New("request body too large")

// Options overrides the collaborators of a Service. Nil fields get the
// built-in implementations.
type Options struct {
	Network Network
	Queue   QueueStore
	Surface Surface
	Views   ViewHost
	Host    Host
	Logger  *zap.Logger
}

type Service struct {
	cfg    Config
	log    *zap.Logger
	db     *leveldb.DB
	queue  QueueStore
	worker *Worker
	views  ViewHost
	conn   *connectivityMonitor

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(cfg Config, opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	policy, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return nil, storeError("storage.open", err)
	}
	db, err := leveldb.OpenFile(cfg.Storage.Path, nil)
	if err != nil {
		return nil, storeError("storage.open", err)
	}
	disk, err := newDiskCache(db, int64(cfg.Storage.Disk.Max))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	queue := opts.Queue
	if queue == nil {
		switch cfg.Storage.Queue.Driver {
		case "sqlite":
			sq, err := openSQLiteQueueStore(cfg.Storage.Queue.Path)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			queue = sq
		default:
			queue = newLevelQueueStore(db)
		}
	}

	net := opts.Network
	if net == nil {
		net = newHTTPNetwork(cfg.Network.clientTimeoutDur)
	}
	surface := opts.Surface
	if surface == nil {
		surface = newMemorySurface(log)
	}
	views := opts.Views
	if views == nil {
		views = newViewRegistry()
	}
	host := opts.Host
	if host == nil {
		host = newProcessHost(log)
	}

	bg := newBoundary(log, cfg.Network.Background)
	caches := newCaches(policy, newRAMCache(int64(cfg.Storage.RAM.Max), newRateLimitedLogger(log, time.Minute)), disk, log)
	w := &Worker{
		cfg:    cfg,
		policy: policy,
		caches: caches,
		strat:  &strategies{policy: policy, caches: caches, net: net, bg: bg, log: log},
		replay: newReplayer(cfg, policy.Origin(), queue, net, log),
		notify: newNotifier(cfg, policy.Origin(), surface, views, net, bg, log),
		host:   host,
		net:    net,
		bg:     bg,
		stats:  newStatsCollector(),
		log:    log,
		state:  StateNew,
	}

	s := &Service{
		cfg:    cfg,
		log:    log,
		db:     db,
		queue:  queue,
		worker: w,
		views:  views,
		stopCh: make(chan struct{}),
	}
	if cfg.Sync.Probe.Path != "" && cfg.Sync.Probe.everyDur > 0 {
		s.conn = &connectivityMonitor{
			net:    net,
			target: policy.Origin() + cfg.Sync.Probe.Path,
			every:  cfg.Sync.Probe.everyDur,
			onRestore: func(ctx context.Context) {
				for _, r := range w.replay.HandleAll(ctx) {
					log.Debug("sync on reconnect", zap.String("tag", r.Tag), zap.Int("attempted", r.Attempted))
				}
			},
			log: log,
		}
	}
	return s, nil
}

func (s *Service) Worker() *Worker {
	return s.worker
}

// Start runs install and activate, then the background loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.worker.OnInstall(ctx); err != nil {
		return err
	}
	if err := s.worker.OnActivate(ctx); err != nil {
		return err
	}

	if s.conn != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.conn.loop(s.stopCh)
		}()
	}
	if every := s.cfg.Logging.logStatsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return nil
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
	s.worker.bg.Close()
	_ = s.queue.Close()
	_ = s.db.Close()
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerControl(mux)
	mux.HandleFunc("/", s.handle)
	return s.worker.bg.Middleware(mux)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		setMarkerHeaders(w.Header(), "too-large")
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, ok := s.worker.OnRequest(r.Context(), r, body)
	if !ok {
		s.passThrough(w, r, body)
		return
	}
	s.worker.stats.Observe(resp.Marker(), len(resp.Body))
	writeEntry(w, resp.Entry, resp.Marker())
}

// readBody buffers at most maxRequestBody bytes. A longer body is rejected
// rather than cut short.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// passThrough forwards a request the worker declined to intercept.
func (s *Service) passThrough(w http.ResponseWriter, r *http.Request, body []byte) {
	req, err := passThroughRequest(r.Context(), r, body)
	if err != nil {
		setMarkerHeaders(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	ent, err := s.worker.net.Fetch(r.Context(), req)
	if err != nil {
		setMarkerHeaders(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeEntry(w, ent, "pass-through")
}

func writeEntry(w http.ResponseWriter, ent Entry, marker string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "x-offline0") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setMarkerHeaders(w.Header(), marker)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func setMarkerHeaders(h http.Header, marker string) {
	if marker != "" {
		h.Set("X-Offline0", marker)
	}
	ensureExposedHeader(h, "X-Offline0")
}

// ensureExposedHeader makes a custom header readable from browser JS.
func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := strings.Join(h.Values(expose), ",")
	if cur == "" {
		h.Set(expose, name)
		return
	}
	for _, part := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(cur)+", "+name)
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			st := s.worker.Status(context.Background())
			s.log.Info("stats",
				zap.Any("namespaces", st.Caches.Namespaces),
				zap.String("ram", st.Caches.RAMBytes),
				zap.String("disk", st.Caches.DiskBytes),
				zap.Uint64("responses", st.Stats.Responses),
				zap.String("resp_min", st.Stats.MinBytes),
				zap.String("resp_avg", st.Stats.AvgBytes),
				zap.String("resp_max", st.Stats.MaxBytes),
				zap.Any("queues", st.Queues),
				zap.Uint64("faults", st.Faults),
				zap.Uint64("skipped_background", st.SkippedBackground),
			)
		}
	}
}
