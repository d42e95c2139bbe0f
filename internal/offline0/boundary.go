package offline0

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// detachedTimeout bounds a single detached task.
const detachedTimeout = 30 * time.Second

// Boundary is the process error boundary. It catches panics from handlers
// and errors from detached tasks, logs them and counts them. It never
// retries and never changes what the caller does next.
type Boundary struct {
	log *zap.Logger

	faults  atomic.Uint64
	skipped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
}

func newBoundary(log *zap.Logger, maxDetached int) *Boundary {
	ctx, cancel := context.WithCancel(context.Background())
	return &Boundary{log: log, ctx: ctx, cancel: cancel, sem: make(chan struct{}, maxDetached)}
}

// Guard runs fn, turning a panic into a log line. It reports whether fn panicked.
func (b *Boundary) Guard(event string, fn func()) (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			panicked = true
			b.fault(event, fmt.Errorf("panic: %v", v), zap.ByteString("stack", debug.Stack()))
		}
	}()
	fn()
	return false
}

// Go starts fn as a detached task whose result nobody awaits. A returned
// error or panic is logged and then discarded. When too many detached tasks
// are already running fn is not started, the skip is counted and Go
// returns false.
func (b *Boundary) Go(event string, fn func(ctx context.Context) error) bool {
	select {
	case b.sem <- struct{}{}:
	default:
		b.skipped.Add(1)
		b.log.Debug("detached task skipped, background budget exhausted", zap.String("event", event))
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.sem }()
		ctx, cancel := context.WithTimeout(b.ctx, detachedTimeout)
		defer cancel()

		var err error
		b.Guard(event, func() { err = fn(ctx) })
		if err != nil {
			b.fault(event, err)
		}
	}()
	return true
}

// Close cancels running detached tasks and waits for them.
func (b *Boundary) Close() {
	b.cancel()
	b.wg.Wait()
}

// Wait blocks until every detached task started so far has finished.
func (b *Boundary) Wait() {
	b.wg.Wait()
}

func (b *Boundary) Faults() uint64 {
	return b.faults.Load()
}

// Skipped counts detached tasks dropped because the budget was full.
func (b *Boundary) Skipped() uint64 {
	return b.skipped.Load()
}

func (b *Boundary) fault(event string, err error, fields ...zap.Field) {
	b.faults.Add(1)
	b.log.Error("unhandled failure", append([]zap.Field{zap.String("event", event), zap.Error(err)}, fields...)...)
}

// Middleware recovers handler panics. The client gets a 500 if nothing was
// written yet.
func (b *Boundary) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		if b.Guard("request "+r.URL.Path, func() { next.ServeHTTP(tw, r) }) && !tw.wrote {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	})
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
