package offline0

import (
	"bytes"
	"encoding/gob"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout inside the shared leveldb database:
//
//	n:<ns>            namespace marker
//	e:<ns>\x00<key>   gob Entry
//	m:<ns>\x00<key>   gob diskMeta
//	q:<queue>         queue record (see queuestore.go)
const nsSep = "\x00"

func nsMarkerKey(ns string) []byte { return []byte("n:" + ns) }
func entryKey(ns, key string) []byte { return []byte("e:" + ns + nsSep + key) }
func metaKey(ns, key string) []byte { return []byte("m:" + ns + nsSep + key) }
func compositeKey(ns, key string) string { return ns + nsSep + key }

type diskMeta struct {
	Size       int64
	LastAccess int64
}

// diskCache keeps cache namespaces in leveldb with an in-memory size index
// so the disk bound can be enforced without scanning.
type diskCache struct {
	maxBytes int64
	db       *leveldb.DB

	mu        sync.Mutex
	index     map[string]diskMeta // compositeKey -> meta
	totalSize int64
}

func newDiskCache(db *leveldb.DB, maxBytes int64) (*diskCache, error) {
	d := &diskCache{maxBytes: maxBytes, db: db, index: map[string]diskMeta{}}
	if err := d.loadIndex(); err != nil {
		return nil, storeError("cache.load", err)
	}
	return d, nil
}

func (d *diskCache) loadIndex() error {
	it := d.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()

	var total int64
	idx := map[string]diskMeta{}
	for it.Next() {
		var meta diskMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		idx[string(bytes.TrimPrefix(it.Key(), []byte("m:")))] = meta
		total += meta.Size
	}
	if err := it.Error(); err != nil {
		return err
	}
	d.mu.Lock()
	d.index = idx
	d.totalSize = total
	d.mu.Unlock()
	return nil
}

func (d *diskCache) Ensure(ns string) error {
	ok, err := d.db.Has(nsMarkerKey(ns), nil)
	if err != nil {
		return storeError("cache.ensure", err)
	}
	if ok {
		return nil
	}
	if err := d.db.Put(nsMarkerKey(ns), []byte(time.Now().UTC().Format(time.RFC3339)), nil); err != nil {
		return storeError("cache.ensure", err)
	}
	return nil
}

// Namespaces lists every namespace that has a marker, sorted.
func (d *diskCache) Namespaces() ([]string, error) {
	it := d.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte("n:"))))
	}
	if err := it.Error(); err != nil {
		return nil, storeError("cache.keys", err)
	}
	sort.Strings(out)
	return out, nil
}

func (d *diskCache) Get(ns, key string) (Entry, bool) {
	b, err := d.db.Get(entryKey(ns, key), nil)
	if err != nil {
		return Entry{}, false
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false
	}
	ck := compositeKey(ns, key)
	d.mu.Lock()
	if meta, ok := d.index[ck]; ok {
		meta.LastAccess = time.Now().Unix()
		d.index[ck] = meta
	}
	d.mu.Unlock()
	return ent, true
}

func (d *diskCache) Put(ns, key string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return storeError("cache.put", err)
	}
	meta := diskMeta{Size: int64(len(b)), LastAccess: time.Now().Unix()}
	mb, err := encodeGob(meta)
	if err != nil {
		return storeError("cache.put", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(nsMarkerKey(ns), []byte(time.Now().UTC().Format(time.RFC3339)))
	batch.Put(entryKey(ns, key), b)
	batch.Put(metaKey(ns, key), mb)
	if err := d.db.Write(batch, nil); err != nil {
		return storeError("cache.put", err)
	}

	ck := compositeKey(ns, key)
	d.mu.Lock()
	d.totalSize += meta.Size - d.index[ck].Size
	d.index[ck] = meta
	over := d.maxBytes > 0 && d.totalSize > d.maxBytes
	d.mu.Unlock()

	if over {
		d.evictSome()
	}
	return nil
}

func (d *diskCache) Delete(ns, key string) {
	batch := new(leveldb.Batch)
	batch.Delete(entryKey(ns, key))
	batch.Delete(metaKey(ns, key))
	_ = d.db.Write(batch, nil)
	d.forget(compositeKey(ns, key))
}

func (d *diskCache) forget(ck string) {
	d.mu.Lock()
	if meta, ok := d.index[ck]; ok {
		d.totalSize -= meta.Size
		delete(d.index, ck)
	}
	d.mu.Unlock()
}

// Drop removes a namespace with all of its entries in one batch.
func (d *diskCache) Drop(ns string) error {
	batch := new(leveldb.Batch)
	var dropped []string
	for _, pfx := range []string{"e:", "m:"} {
		it := d.db.NewIterator(util.BytesPrefix([]byte(pfx+ns+nsSep)), nil)
		for it.Next() {
			k := append([]byte(nil), it.Key()...)
			batch.Delete(k)
			if pfx == "m:" {
				dropped = append(dropped, string(bytes.TrimPrefix(k, []byte("m:"))))
			}
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return storeError("cache.delete", err)
		}
	}
	batch.Delete(nsMarkerKey(ns))
	if err := d.db.Write(batch, nil); err != nil {
		return storeError("cache.delete", err)
	}
	for _, ck := range dropped {
		d.forget(ck)
	}
	return nil
}

// Count returns the number of entries per namespace.
func (d *diskCache) Count() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]int{}
	for ck := range d.index {
		ns, _, _ := strings.Cut(ck, nsSep)
		out[ns]++
	}
	return out
}

func (d *diskCache) TotalSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalSize
}

// evictSome drops the least recently accessed tenth of the entries.
func (d *diskCache) evictSome() {
	type item struct {
		ck string
		m  diskMeta
	}
	d.mu.Lock()
	items := make([]item, 0, len(d.index))
	for ck, m := range d.index {
		items = append(items, item{ck, m})
	}
	d.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].m.LastAccess < items[j].m.LastAccess
	})

	n := len(items) / 10
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && i < len(items); i++ {
		ns, key, _ := strings.Cut(items[i].ck, nsSep)
		d.Delete(ns, key)
	}
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
