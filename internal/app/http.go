package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"chatcore/internal/longpoll"
	"chatcore/internal/metrics"
	"chatcore/internal/protocol"
	"chatcore/internal/realtime"
)

// registerHTTP wires the external HTTP surface spec §1 scopes out of
// the core: /ws (upgrade, delegated to realtime.Server), /ws/poll and
// /ws/send (the long-polling bridge's HTTP side, spec §6), and
// /metrics (the Prometheus exposition endpoint, spec §4.2). Only the
// route table lives here; every behavioral rule it enforces (missing
// session_id => 400, missing type => 400, bridge unattached => 503)
// is named explicitly in spec §6-§7.
func registerHTTP(mux *http.ServeMux, log *slog.Logger, reg *metrics.Registry, ws *realtime.Server, bridge *longpoll.Bridge) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/ws", ws.ServeHTTP)

	mux.HandleFunc("/ws/poll", func(w http.ResponseWriter, r *http.Request) {
		handlePoll(w, r, log, bridge)
	})
	mux.HandleFunc("/ws/send", func(w http.ResponseWriter, r *http.Request) {
		handleSend(w, r, log, bridge)
	})

	if reg != nil {
		mux.Handle("/metrics", reg.Handler())
	}
}

func handlePoll(w http.ResponseWriter, r *http.Request, log *slog.Logger, bridge *longpoll.Bridge) {
	if bridge == nil {
		http.Error(w, "long-polling bridge not attached", http.StatusServiceUnavailable)
		return
	}

	sid := r.URL.Query().Get("session_id")
	if sid == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	max := 50
	if raw := r.URL.Query().Get("max"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			max = n
		}
	}

	envs := bridge.Poll(sid, max, true)
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = json.RawMessage(protocol.Serialize(e))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error("ws.poll.encode_failed", "err", err, "session_id", sid)
	}
}

// sendRequest is the POST /ws/send body shape from spec §6.
type sendRequest struct {
	SessionID string          `json:"session_id"`
	Room      string          `json:"room"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func handleSend(w http.ResponseWriter, r *http.Request, log *slog.Logger, bridge *longpoll.Bridge) {
	if bridge == nil {
		http.Error(w, "long-polling bridge not attached", http.StatusServiceUnavailable)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	payload := protocol.NewMap()
	if len(req.Payload) > 0 {
		if err := payload.UnmarshalJSON(req.Payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
	}

	env := protocol.Envelope{Room: req.Room, Type: req.Type, Payload: payload}

	sid := req.SessionID
	if sid == "" {
		sid = longpoll.DefaultResolver(env)
	}

	bridge.SendFromHTTP(sid, env)

	log.Info("ws.send.queued", "session_id", sid, "room", req.Room, "type", req.Type)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "queued",
		"session_id": sid,
	})
}
