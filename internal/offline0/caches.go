package offline0

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Caches owns the versioned response namespaces: a RAM LRU in front of
// leveldb. Per-key put and match are atomic; nothing spans keys.
type Caches struct {
	policy *Policy
	ram    *ramCache
	disk   *diskCache
	log    *zap.Logger
}

func newCaches(policy *Policy, ram *ramCache, disk *diskCache, log *zap.Logger) *Caches {
	return &Caches{policy: policy, ram: ram, disk: disk, log: log}
}

// Ensure creates the namespace if it does not exist yet.
func (c *Caches) Ensure(ns string) error {
	return c.disk.Ensure(ns)
}

// Put stores ent under key. Only GET identities are cacheable.
func (c *Caches) Put(ns, key string, ent Entry) error {
	if !strings.HasPrefix(key, http.MethodGet+" ") {
		return newError(KindCacheMiss, "cache.put", "only GET requests can be cached", nil)
	}
	if err := c.disk.Put(ns, key, ent); err != nil {
		return err
	}
	c.ram.Put(compositeKey(ns, key), ent)
	return nil
}

func (c *Caches) Match(ns, key string) (Entry, bool) {
	if !strings.HasPrefix(key, http.MethodGet+" ") {
		return Entry{}, false
	}
	ck := compositeKey(ns, key)
	if ent, ok := c.ram.Get(ck); ok {
		return ent, true
	}
	ent, ok := c.disk.Get(ns, key)
	if ok {
		c.ram.Put(ck, ent)
	}
	return ent, ok
}

// Names lists the namespaces that currently exist.
func (c *Caches) Names() ([]string, error) {
	return c.disk.Namespaces()
}

// Purge deletes every namespace not in allow and returns the ones deleted.
// A namespace that fails to delete is logged and left for the next activation.
func (c *Caches) Purge(allow []string) ([]string, error) {
	names, err := c.Names()
	if err != nil {
		return nil, err
	}
	keep := make(map[string]struct{}, len(allow))
	for _, ns := range allow {
		keep[ns] = struct{}{}
	}
	var deleted []string
	for _, ns := range names {
		if _, ok := keep[ns]; ok {
			continue
		}
		if err := c.drop(ns); err != nil {
			c.log.Error("delete stale cache namespace", zap.String("namespace", ns), zap.Error(err))
			continue
		}
		c.log.Info("deleted stale cache namespace", zap.String("namespace", ns))
		deleted = append(deleted, ns)
	}
	return deleted, nil
}

// ClearAll deletes every namespace, current ones included.
func (c *Caches) ClearAll() ([]string, error) {
	return c.Purge(nil)
}

func (c *Caches) drop(ns string) error {
	if err := c.disk.Drop(ns); err != nil {
		return err
	}
	c.ram.DeletePrefix(ns + nsSep)
	return nil
}

// CacheStatus is the per-namespace part of the status report.
type CacheStatus struct {
	Namespaces map[string]int `json:"namespaces"`
	RAMBytes   string         `json:"ramBytes"`
	DiskBytes  string         `json:"diskBytes"`
}

func (c *Caches) Status() (CacheStatus, error) {
	names, err := c.Names()
	if err != nil {
		return CacheStatus{}, err
	}
	counts := c.disk.Count()
	out := CacheStatus{
		Namespaces: make(map[string]int, len(names)),
		RAMBytes:   formatBytes(uint64(c.ram.TotalSize())),
		DiskBytes:  formatBytes(uint64(c.disk.TotalSize())),
	}
	for _, ns := range names {
		out.Namespaces[ns] = counts[ns]
	}
	return out, nil
}
