package offline0

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// connectivityMonitor probes the origin on a ticker and fires onRestore on
// every offline -> online transition. The agent starts out assuming it is
// offline, so the first successful probe drains whatever a previous run left
// queued.
type connectivityMonitor struct {
	net       Network
	target    string
	every     time.Duration
	onRestore func(ctx context.Context)
	log       *zap.Logger

	mu     sync.Mutex
	online bool
}

func (m *connectivityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// check runs one probe and reports whether it was a restoration.
func (m *connectivityMonitor) check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	online := false
	req, err := outboundRequest(pctx, http.MethodGet, m.target, http.Header{}, nil)
	if err == nil {
		_, err = m.net.Fetch(pctx, req)
		online = err == nil
	}

	m.mu.Lock()
	restored := online && !m.online
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.log.Info("connectivity changed", zap.Bool("online", online))
	}
	if restored {
		m.onRestore(ctx)
	}
	return restored
}

func (m *connectivityMonitor) loop(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	m.check(ctx)
	t := time.NewTicker(m.every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.check(ctx)
		}
	}
}
