package offline0

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// strategies implements the four caching algorithms over a request, a named
// cache and the network. Every method resolves to an Entry; none fails.
// The second return value is the outcome reported in X-Offline0.
type strategies struct {
	policy *Policy
	caches *Caches
	net    Network
	bg     *Boundary
	log    *zap.Logger

	revalidating singleflight.Group
}

func (s *strategies) Run(ctx context.Context, route Route, req *http.Request) (Entry, string) {
	switch route.Strategy {
	case CacheFirst:
		return s.cacheFirst(ctx, route.Namespace, req)
	case NetworkFirst:
		return s.networkFirst(ctx, route.Namespace, req)
	case NetworkOnly:
		return s.networkOnly(ctx, req)
	default:
		return s.staleWhileRevalidate(ctx, route.Namespace, req)
	}
}

func (s *strategies) cacheFirst(ctx context.Context, ns string, req *http.Request) (Entry, string) {
	key := keyOf(req)
	if ent, ok := s.caches.Match(ns, key); ok {
		if s.policy.Immutable(req.URL.Path) {
			return ent, "hit-immutable"
		}
		s.revalidate(ns, key, req)
		return ent, "hit"
	}

	ent, err := s.net.Fetch(ctx, req)
	if err != nil {
		s.log.Debug("cache-first fetch failed", zap.String("key", key), zap.Error(err))
		return offlineText("Offline"), "offline"
	}
	s.store(ns, key, req, ent)
	return ent, "miss"
}

func (s *strategies) networkFirst(ctx context.Context, ns string, req *http.Request) (Entry, string) {
	key := keyOf(req)

	type fetched struct {
		ent Entry
		err error
	}
	done := make(chan fetched, 1)
	go func() {
		ent, err := s.net.Fetch(ctx, req)
		done <- fetched{ent, err}
	}()

	timer := time.NewTimer(s.policy.firstWithin)
	defer timer.Stop()

	var cause error
	select {
	case res := <-done:
		if res.err == nil {
			if req.Method == http.MethodGet {
				s.store(ns, key, req, res.ent)
			}
			return res.ent, "network"
		}
		cause = res.err
	case <-timer.C:
		// A response arriving after this point is dropped with the channel.
		cause = errTimeout
	}

	if ent, ok := s.caches.Match(ns, key); ok {
		s.log.Debug("network-first served from cache", zap.String("key", key), zap.Error(cause))
		return ent, "fallback"
	}
	if s.policy.Critical(req.URL.Path) {
		return offlineJSON("Offline", "You are offline and this data is not available in the cache."), "offline"
	}
	return offlineText("Service Unavailable"), "unavailable"
}

func (s *strategies) staleWhileRevalidate(ctx context.Context, ns string, req *http.Request) (Entry, string) {
	key := keyOf(req)
	if ent, ok := s.caches.Match(ns, key); ok {
		s.revalidate(ns, key, req)
		return ent, "stale"
	}

	ent, err := s.net.Fetch(ctx, req)
	if err == nil {
		s.store(ns, key, req, ent)
		return ent, "miss"
	}
	if isDocumentRequest(req) {
		if page, ok := s.caches.Match(s.policy.static, requestKey(http.MethodGet, s.policy.offlinePage)); ok {
			return page, "offline-page"
		}
	}
	return offlineText("Service Unavailable"), "unavailable"
}

func (s *strategies) networkOnly(ctx context.Context, req *http.Request) (Entry, string) {
	ent, err := s.net.Fetch(ctx, req)
	if err != nil {
		return offlineJSON("Network Error", "Unable to reach the server. Check your connection and try again."), "offline"
	}
	return ent, "network"
}

// store keeps successful full responses to GET requests. A ranged request
// or a 206 is never stored under the plain key.
func (s *strategies) store(ns, key string, req *http.Request, ent Entry) {
	if !ent.OK() || ent.Status == http.StatusPartialContent || isRangeRequest(req) {
		return
	}
	if err := s.caches.Put(ns, key, ent); err != nil && !IsKind(err, KindCacheMiss) {
		s.log.Warn("cache put failed", zap.String("namespace", ns), zap.String("key", key), zap.Error(err))
	}
}

// revalidate refetches key in the background and overwrites the entry on a
// 2xx. Failures are discarded; concurrent refetches of one key share a fetch.
// The refetch always asks for the full resource.
func (s *strategies) revalidate(ns, key string, req *http.Request) {
	req = fullRequest(req)
	s.bg.Go("revalidate", func(ctx context.Context) error {
		_, _, _ = s.revalidating.Do(compositeKey(ns, key), func() (any, error) {
			ent, err := s.net.Fetch(ctx, req)
			if err != nil || !ent.OK() {
				return nil, nil
			}
			if cur, ok := s.caches.Match(ns, key); ok && cur.Hash32 == ent.Hash32 && cur.Status == ent.Status {
				return nil, nil
			}
			s.store(ns, key, req, ent)
			return nil, nil
		})
		return nil
	})
}

func isRangeRequest(r *http.Request) bool {
	return r.Header.Get("Range") != ""
}

// fullRequest is r without its range headers.
func fullRequest(r *http.Request) *http.Request {
	if !isRangeRequest(r) && r.Header.Get("If-Range") == "" {
		return r
	}
	out := r.Clone(r.Context())
	out.Header.Del("Range")
	out.Header.Del("If-Range")
	return out
}
