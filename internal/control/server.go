package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilowattlabs/chargesched/internal/model"
	"github.com/kilowattlabs/chargesched/internal/store"
)

// ActiveStopper is the subset of the Executor the Control Surface needs
// for the delete-active-schedule path (spec §4.8).
type ActiveStopper interface {
	StopIfActive(ctx context.Context, id int64) (bool, error)
}

// Server is the operator HTTP Control Surface of spec §4.8/§6. Grounded
// on the teacher's WebServer (scheduler/server.go): same
// mux/http.Server/websocket.Upgrader/sync.Map-of-clients shape, adapted
// to publish Shared Status snapshots instead of miner/PV telemetry.
type Server struct {
	store    *store.Store
	status   *Status
	executor ActiveStopper
	wake     interface{ Set() }
	loc      *time.Location

	httpServer *http.Server
	startTime  time.Time
	upgrader   websocket.Upgrader
	clients    sync.Map
	broadcast  chan []byte
	done       chan struct{}
}

// NewServer builds a Control Surface listening on addr.
func NewServer(addr string, st *store.Store, status *Status, executor ActiveStopper, wakeSignal interface{ Set() }, loc *time.Location) *Server {
	mux := http.NewServeMux()
	s := &Server{
		store:     st,
		status:    status,
		executor:  executor,
		wake:      wakeSignal,
		loc:       loc,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}

	mux.HandleFunc("/putSchedule", s.putScheduleHandler)
	mux.HandleFunc("/delSchedule/", s.delScheduleHandler)
	mux.HandleFunc("/getPendingSchedules", s.getPendingHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/update_status", s.updateStatusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/history", s.historyHandler)
	mux.HandleFunc("/ws", s.wsHandler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the server's background goroutines and begins listening.
// Blocks only for errors returned before the listener is up; the server
// itself runs until Stop is called.
func (s *Server) Start() error {
	go s.handleBroadcasts()
	go s.broadcastStatusLoop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control: listen: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// putScheduleHandler implements `POST /putSchedule` (spec §6/§4.8: add
// manual schedule).
func (s *Server) putScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
		TargetSOC int       `json:"target_soc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if !body.StartTime.Before(body.EndTime) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_time must be before end_time"})
		return
	}

	inserted, err := s.store.AddManualOverride(r.Context(), body.StartTime, body.EndTime, body.TargetSOC)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.wake.Set()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "inserted": inserted})
}

// delScheduleHandler implements `DELETE /delSchedule/{id}` (spec §6/§4.8).
func (s *Server) delScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := r.URL.Path[len("/delSchedule/"):]
	var id int64
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if _, err := s.executor.StopIfActive(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.store.Remove(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.wake.Set()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// getPendingHandler implements `GET /getPendingSchedules`, rendering
// timestamps in local time (spec §6).
func (s *Server) getPendingHandler(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.FetchPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, renderLocal(pending, s.loc))
}

type localSchedule struct {
	ID             int64   `json:"id"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	Mode           string  `json:"mode"`
	ManualOverride bool    `json:"manual_override"`
	TargetSOC      *int    `json:"target_soc,omitempty"`
	PricePPKWh     *float64 `json:"price_p_per_kwh,omitempty"`
}

func renderLocal(rows []model.Schedule, loc *time.Location) []localSchedule {
	out := make([]localSchedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, localSchedule{
			ID:             r.ID,
			StartTime:      r.StartTime.In(loc).Format(time.RFC3339),
			EndTime:        r.EndTime.In(loc).Format(time.RFC3339),
			Mode:           string(r.Mode),
			ManualOverride: r.ManualOverride,
			TargetSOC:      r.TargetSOC,
			PricePPKWh:     r.PricePPKWh,
		})
	}
	return out
}

// statusHandler implements `GET /status`.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_schedule_id": snap.ActiveScheduleID,
		"current_price":      snap.CurrentPrice,
		"soc":                snap.SOC,
		"solar_power":        snap.SolarPower,
		"island":             snap.Island,
		"message":            snap.Message,
		"next_schedule_time": snap.NextScheduleTime,
		"last_scheduler_run": snap.LastSchedulerRun,
		"uptime":             time.Since(s.startTime).Seconds(),
	})
}

// updateStatusHandler implements `POST /update_status`: merge JSON into
// Shared Status (spec §6).
func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var u Snapshot
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.status.Update(u)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// healthHandler implements `GET /health`. Surfaces the last_scheduler_run
// heartbeat so an external process monitor can page on staleness
// (SPEC_FULL §11).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"time":               time.Now().UTC().Format(time.RFC3339),
		"last_scheduler_run": s.status.Snapshot().LastSchedulerRun,
	})
}

// historyHandler implements the recovered `GET /history` endpoint
// (SPEC_FULL §11, from original_source/data/viewdb.py).
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.store.RecentDecisions(r.Context(), 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}
