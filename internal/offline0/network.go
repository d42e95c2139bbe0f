package offline0

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/crc32"
	"io"
	"net/http"
	"strings"
	"time"
)

// Network performs one HTTP exchange. It fails only on transport errors;
// any status code is a response.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (Entry, error)
}

type httpNetwork struct {
	client *http.Client
}

func newHTTPNetwork(timeout time.Duration) *httpNetwork {
	return &httpNetwork{client: &http.Client{Timeout: timeout}}
}

func (n *httpNetwork) Fetch(ctx context.Context, req *http.Request) (Entry, error) {
	out := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return Entry{}, networkError("fetch "+req.URL.Path, err)
		}
		out.Body = body
	}
	resp, err := n.client.Do(out)
	if err != nil {
		return Entry{}, networkError("fetch "+req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, networkError("read "+req.URL.Path, err)
	}
	return snapshot(resp.StatusCode, resp.Header, body), nil
}

func snapshot(status int, h http.Header, body []byte) Entry {
	ent := Entry{
		Status:   status,
		Header:   cloneHeader(h),
		Body:     body,
		StoredAt: time.Now().UnixNano(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
	ent.Header.Del("Content-Length")
	return ent
}

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// originRequest rewrites an inbound same-origin request onto the origin.
func originRequest(ctx context.Context, origin string, r *http.Request, body []byte) (*http.Request, error) {
	return outboundRequest(ctx, r.Method, origin+r.URL.RequestURI(), r.Header, body)
}

// passThroughRequest forwards a cross-origin request to where it was going.
func passThroughRequest(ctx context.Context, r *http.Request, body []byte) (*http.Request, error) {
	return outboundRequest(ctx, r.Method, r.URL.String(), r.Header, body)
}

func outboundRequest(ctx context.Context, method, target string, h http.Header, body []byte) (*http.Request, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, h)
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}

// jsonRequest builds a replay or beacon request carrying payload as-is.
func jsonRequest(ctx context.Context, method, target string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// offlineText is the plain synthesized 503.
func offlineText(msg string) Entry {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return Entry{Status: http.StatusServiceUnavailable, Header: h, Body: []byte(msg)}
}

// offlineJSON is the structured body the UI uses to tell "offline" from a server error.
func offlineJSON(kind, msg string) Entry {
	body, _ := json.Marshal(struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Offline bool   `json:"offline"`
	}{kind, msg, true})
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return Entry{Status: http.StatusServiceUnavailable, Header: h, Body: body}
}
