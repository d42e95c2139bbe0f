package offline0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pushPayload is the wire format of a push message. Pointer fields tell
// "absent" from an explicit zero value.
type pushPayload struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Image              string         `json:"image"`
	Tag                string         `json:"tag"`
	Data               map[string]any `json:"data"`
	Actions            []Action       `json:"actions"`
	RequireInteraction *bool          `json:"requireInteraction"`
	Silent             *bool          `json:"silent"`
	Vibrate            []int          `json:"vibrate"`
}

var defaultActions = []Action{
	{Action: "view", Title: "View"},
	{Action: "dismiss", Title: "Dismiss"},
}

var defaultVibrate = []int{200, 100, 200}

// Notifier turns push payloads into notifications and routes interaction
// with them back into the application views.
type Notifier struct {
	cfg     Config
	origin  string
	surface Surface
	views   ViewHost
	net     Network
	bg      *Boundary
	log     *zap.Logger
	now     func() time.Time
}

func newNotifier(cfg Config, origin string, surface Surface, views ViewHost, net Network, bg *Boundary, log *zap.Logger) *Notifier {
	return &Notifier{cfg: cfg, origin: origin, surface: surface, views: views, net: net, bg: bg, log: log, now: time.Now}
}

// Push displays the notification described by raw. An empty payload is a
// no-op, a malformed one is logged and dropped.
func (n *Notifier) Push(ctx context.Context, raw []byte) (Notification, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Notification{}, false
	}
	var p pushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		n.log.Warn("dropping push payload", zap.Error(parseError("push", "payload is not JSON", err)))
		return Notification{}, false
	}

	note := n.build(p)
	if err := n.surface.Show(ctx, note); err != nil {
		n.log.Error("show notification", zap.String("id", note.ID), zap.Error(err))
		return Notification{}, false
	}
	return note, true
}

func (n *Notifier) build(p pushPayload) Notification {
	note := Notification{
		Title:     firstNonEmpty(p.Title, n.cfg.Push.Title),
		Body:      firstNonEmpty(p.Body, n.cfg.Push.Body),
		Icon:      firstNonEmpty(p.Icon, n.cfg.Push.Icon),
		Badge:     firstNonEmpty(p.Badge, n.cfg.Push.Badge),
		Image:     p.Image,
		Tag:       firstNonEmpty(p.Tag, "default"),
		Data:      p.Data,
		Actions:   defaultActions,
		Vibrate:   defaultVibrate,
		Timestamp: n.now().UnixMilli(),
	}
	if note.Data == nil {
		note.Data = map[string]any{}
	}
	if p.Actions != nil {
		note.Actions = p.Actions
	}
	if p.Vibrate != nil {
		note.Vibrate = p.Vibrate
	}
	if p.RequireInteraction != nil {
		note.RequireInteraction = *p.RequireInteraction
	}
	if p.Silent != nil {
		note.Silent = *p.Silent
	}
	note.ID = dataString(note.Data, "notificationId")
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	return note
}

// Click handles a user interaction with notification id. The notification
// is closed first; "dismiss" ends there. Otherwise an open view already
// showing the target is focused, or a new view is opened on it.
func (n *Notifier) Click(ctx context.Context, id, action string) ClickResult {
	note, ok := n.surface.Get(id)
	if !ok {
		n.log.Warn("click on unknown notification", zap.String("id", id))
		return ClickResult{}
	}
	n.surface.Close(id)
	if action == "dismiss" {
		return ClickResult{Dismissed: true}
	}

	res := ClickResult{Target: targetURL(note.Data)}
	views, err := n.views.Views(ctx, true)
	if err != nil {
		n.log.Warn("enumerate views", zap.Error(err))
	}
	for _, v := range views {
		if strings.Contains(v.URL, res.Target) {
			if err := n.views.Focus(ctx, v.ID); err != nil {
				n.log.Warn("focus view", zap.String("view", v.ID), zap.Error(err))
				continue
			}
			res.Focused = v.ID
			return res
		}
	}
	v, err := n.views.Open(ctx, res.Target)
	if err != nil {
		n.log.Error("open view", zap.String("url", res.Target), zap.Error(err))
		return res
	}
	res.Opened = v.ID
	return res
}

// Close handles a notification dismissed without a click. When the payload
// asked for it a close beacon goes to the analytics endpoint; its failures
// are discarded.
func (n *Notifier) Close(ctx context.Context, id string) {
	note, ok := n.surface.Get(id)
	if !ok {
		return
	}
	n.surface.Close(id)
	if track, _ := note.Data["trackClose"].(bool); !track {
		return
	}

	body, err := json.Marshal(map[string]any{
		"notificationId": note.ID,
		"tag":            note.Tag,
		"closedAt":       n.now().UnixMilli(),
	})
	if err != nil {
		return
	}
	target := n.origin + n.cfg.Push.AnalyticsEndpoint
	n.bg.Go("notification-close beacon", func(ctx context.Context) error {
		req, err := jsonRequest(ctx, http.MethodPost, target, body)
		if err != nil {
			return nil
		}
		if _, err := n.net.Fetch(ctx, req); err != nil {
			n.log.Debug("close beacon failed", zap.Error(err))
		}
		return nil
	})
}

// targetURL derives where a click should navigate.
func targetURL(data map[string]any) string {
	if u := dataString(data, "url"); u != "" {
		return u
	}
	routes := map[string][2]string{
		"booking": {"/bookings", "bookingId"},
		"message": {"/messages", "messageId"},
		"payment": {"/payments", "paymentId"},
	}
	r, ok := routes[dataString(data, "type")]
	if !ok {
		return "/"
	}
	if id := dataString(data, r[1]); id != "" {
		return r[0] + "/" + id
	}
	return r[0]
}

func dataString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
