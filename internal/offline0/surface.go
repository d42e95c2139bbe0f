package offline0

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Surface is the host notification surface.
type Surface interface {
	Show(ctx context.Context, n Notification) error
	Get(id string) (Notification, bool)
	Close(id string)
	Active() []Notification
}

// ViewHost enumerates and drives the open application views.
type ViewHost interface {
	Views(ctx context.Context, includeUncontrolled bool) ([]View, error)
	Focus(ctx context.Context, id string) error
	Open(ctx context.Context, url string) (View, error)
}

// memorySurface keeps displayed notifications until they are clicked or
// closed. A tag replaces the previous notification with the same tag, as
// notification surfaces do.
type memorySurface struct {
	log *zap.Logger

	mu     sync.Mutex
	active map[string]Notification
}

func newMemorySurface(log *zap.Logger) *memorySurface {
	return &memorySurface{log: log, active: map[string]Notification{}}
}

func (s *memorySurface) Show(_ context.Context, n Notification) error {
	s.mu.Lock()
	for id, cur := range s.active {
		if cur.Tag == n.Tag {
			delete(s.active, id)
		}
	}
	s.active[n.ID] = n
	s.mu.Unlock()
	s.log.Info("notification shown", zap.String("id", n.ID), zap.String("tag", n.Tag), zap.String("title", n.Title))
	return nil
}

func (s *memorySurface) Get(id string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.active[id]
	return n, ok
}

func (s *memorySurface) Close(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *memorySurface) Active() []Notification {
	s.mu.Lock()
	out := make([]Notification, 0, len(s.active))
	for _, n := range s.active {
		out = append(out, n)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// viewRegistry is the built-in ViewHost: the hosting application registers
// its windows through the control channel.
type viewRegistry struct {
	mu    sync.Mutex
	views []View
}

func newViewRegistry() *viewRegistry {
	return &viewRegistry{}
}

// Register adds a view and returns it with its ID.
func (v *viewRegistry) Register(url string, controlled bool) View {
	v.mu.Lock()
	defer v.mu.Unlock()
	view := View{ID: uuid.NewString(), URL: url, Controlled: controlled}
	v.views = append(v.views, view)
	return view
}

func (v *viewRegistry) Views(_ context.Context, includeUncontrolled bool) ([]View, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]View, 0, len(v.views))
	for _, view := range v.views {
		if view.Controlled || includeUncontrolled {
			out = append(out, view)
		}
	}
	return out, nil
}

func (v *viewRegistry) Focus(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	found := false
	for i := range v.views {
		v.views[i].Focused = v.views[i].ID == id
		found = found || v.views[i].Focused
	}
	if !found {
		return fmt.Errorf("view %s is gone", id)
	}
	return nil
}

func (v *viewRegistry) Open(_ context.Context, url string) (View, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.views {
		v.views[i].Focused = false
	}
	view := View{ID: uuid.NewString(), URL: url, Focused: true, Controlled: true}
	v.views = append(v.views, view)
	return view, nil
}
