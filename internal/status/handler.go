package status

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"wireframe/internal/runlog"
	"wireframe/internal/runner"
)

const (
	watchWriteWait = 10 * time.Second
	watchPongWait  = 60 * time.Second
	watchPingEvery = (watchPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// eventSubscribed is sent once when a watcher is attached.
const eventSubscribed runner.EventType = "subscribed"

type Handler struct {
	hub  *Hub
	runs runlog.Store
	mux  *http.ServeMux
}

// NewHandler serves live runs from hub and finished ones from runs. Either
// may be nil.
func NewHandler(hub *Hub, runs runlog.Store) *Handler {
	h := &Handler{hub: hub, runs: runs, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /healthz", h.health)
	h.mux.HandleFunc("GET /runs/{id}", h.getRun)
	h.mux.HandleFunc("GET /runs/{id}/watch", h.watch)
	h.mux.HandleFunc("GET /missions/{id}/runs", h.listRuns)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runResponse struct {
	Finished bool             `json:"finished"`
	Run      runner.RunResult `json:"run"`
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "run id is required", http.StatusBadRequest)
		return
	}
	if run, finished, ok := h.hub.Snapshot(id); ok {
		writeJSON(w, http.StatusOK, runResponse{Finished: finished, Run: run})
		return
	}
	if h.runs == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, runlog.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("status: get run %s: %v", id, err)
		http.Error(w, "run lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Finished: true, Run: run})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	mission := strings.TrimSpace(r.PathValue("id"))
	if h.runs == nil {
		writeJSON(w, http.StatusOK, []runner.RunResult{})
		return
	}
	runs, err := h.runs.ListByMission(r.Context(), mission)
	if err != nil {
		log.Printf("status: list runs mission=%s: %v", mission, err)
		http.Error(w, "run lookup failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []runner.RunResult{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "run id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Runs the hub no longer holds are answered from the run log with a
	// single run_finished event.
	events, live := h.hub.Subscribe(ctx, id)
	var final *runner.RunResult
	if !live {
		if h.runs == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		run, err := h.runs.Get(ctx, id)
		if errors.Is(err, runlog.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Printf("status: watch lookup run %s: %v", id, err)
			http.Error(w, "run lookup failed", http.StatusInternalServerError)
			return
		}
		final = &run
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := writeEvent(conn, runner.Event{Type: eventSubscribed, RunID: id, At: time.Now()}); err != nil {
		return
	}
	if final != nil {
		ev := runner.Event{Type: runner.EventRunFinished, RunID: id, MissionID: final.MissionID, Run: final, At: final.FinishedAt}
		if err := writeEvent(conn, ev); err != nil {
			return
		}
		closeFinished(conn)
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(watchPongWait)); err != nil {
		log.Printf("status: watch set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})

	// The watcher never sends anything meaningful; reading keeps pong
	// handling alive and notices when the peer goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				closeFinished(conn)
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Printf("status: watch run %s: %v", id, err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeFinished(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

func writeEvent(conn *websocket.Conn, ev runner.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("status: encode response: %v", err)
	}
}
