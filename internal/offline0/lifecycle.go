package offline0

import (
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle state of the worker.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// Host is the runtime hosting the worker. SkipWaiting asks it to activate
// the new version without waiting for old instances to finish; Claim asks
// it to route already-open views through this version without a reload.
type Host interface {
	SkipWaiting()
	Claim()
}

// HostStatus is the host part of the status report.
type HostStatus struct {
	SkipWaiting bool `json:"skipWaiting"`
	Claimed     bool `json:"claimed"`
}

// processHost is the Host of a standalone agent process: there is a single
// instance per process, so both signals only get recorded.
type processHost struct {
	log *zap.Logger

	mu     sync.Mutex
	status HostStatus
}

func newProcessHost(log *zap.Logger) *processHost {
	return &processHost{log: log}
}

func (h *processHost) SkipWaiting() {
	h.mu.Lock()
	h.status.SkipWaiting = true
	h.mu.Unlock()
	h.log.Info("skip waiting requested")
}

func (h *processHost) Claim() {
	h.mu.Lock()
	h.status.Claimed = true
	h.mu.Unlock()
	h.log.Info("claimed open views")
}

func (h *processHost) Status() HostStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}
