package offline0

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// ControlPrefix is where the control channel of the hosting application lives.
const ControlPrefix = "/__offline0/"

func (s *Service) registerControl(mux *http.ServeMux) {
	mux.HandleFunc("POST "+ControlPrefix+"skip-waiting", s.message(MsgSkipWaiting))
	mux.HandleFunc("POST "+ControlPrefix+"caches/clear", s.message(MsgClearCaches))
	mux.HandleFunc("GET "+ControlPrefix+"status", s.message(MsgCacheStatus))
	mux.HandleFunc("POST "+ControlPrefix+"message", s.handleMessage)
	mux.HandleFunc("POST "+ControlPrefix+"sync/{tag}", s.handleSync)
	mux.HandleFunc("POST "+ControlPrefix+"queues/{queue}", s.handleEnqueue)
	mux.HandleFunc("POST "+ControlPrefix+"push", s.handlePush)
	mux.HandleFunc("POST "+ControlPrefix+"notifications/{id}/click", s.handleClick)
	mux.HandleFunc("POST "+ControlPrefix+"notifications/{id}/close", s.handleClose)
	mux.HandleFunc("GET "+ControlPrefix+"views", s.handleViews)
	mux.HandleFunc("POST "+ControlPrefix+"views", s.handleRegisterView)
}

func (s *Service) message(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, r, Message{Type: typ})
	}
}

func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&msg); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, parseError("message", "body is not a message", err))
		return
	}
	s.reply(w, r, msg)
}

func (s *Service) reply(w http.ResponseWriter, r *http.Request, msg Message) {
	out, err := s.worker.OnMessage(r.Context(), msg)
	if err != nil {
		status := http.StatusInternalServerError
		if IsKind(err, KindParse) {
			status = http.StatusBadRequest
		}
		s.writeJSONError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.worker.OnSync(r.Context(), r.PathValue("tag")))
}

func (s *Service) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	queue := r.PathValue("queue")
	if err := s.worker.Enqueue(r.Context(), queue, body); err != nil {
		status := http.StatusInternalServerError
		if IsKind(err, KindParse) {
			status = http.StatusBadRequest
		}
		if errors.Is(err, ErrUnknownQueue) {
			status = http.StatusNotFound
		}
		s.writeJSONError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "queue": queue})
}

func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	note, ok := s.worker.OnPush(r.Context(), body)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"shown": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"shown": true, "notification": note})
}

func (s *Service) handleClick(w http.ResponseWriter, r *http.Request) {
	res := s.worker.OnNotificationClick(r.Context(), r.PathValue("id"), r.URL.Query().Get("action"))
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleClose(w http.ResponseWriter, r *http.Request) {
	s.worker.OnNotificationClose(r.Context(), r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleViews(w http.ResponseWriter, r *http.Request) {
	views, err := s.views.Views(r.Context(), true)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Service) handleRegisterView(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.views.(*viewRegistry)
	if !ok {
		s.writeJSONError(w, http.StatusNotImplemented, errors.New("views are managed by the host"))
		return
	}
	var in struct {
		URL        string `json:"url"`
		Controlled *bool  `json:"controlled"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil || in.URL == "" {
		s.writeJSONError(w, http.StatusBadRequest, parseError("views.register", "body needs a url", err))
		return
	}
	controlled := in.Controlled == nil || *in.Controlled
	s.writeJSON(w, http.StatusCreated, reg.Register(in.URL, controlled))
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write control reply", zap.Int("status", status), zap.Error(err))
	}
}

func (s *Service) writeJSONError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
