package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/TomSft15/BlurFace/internal/jobs"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/gorilla/websocket"
)

type jobsResponse struct {
	Success bool        `json:"success"`
	Jobs    []types.Job `json:"jobs"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Jobs.List(r.Context())
	if err != nil {
		s.log.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "cannot list jobs")
		return
	}
	if list == nil {
		list = []types.Job{}
	}
	writeJSON(w, http.StatusOK, jobsResponse{Success: true, Jobs: list})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

const wsWriteWait = 10 * time.Second

// handleJobSocket pushes the current status and every later update of a job,
// then closes the socket after the terminal one.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, updates, cancel, err := s.cfg.Jobs.Subscribe(id)
	if errors.Is(err, jobs.ErrNotFound) {
		// Jobs of earlier runs only exist in the store; they are already finished.
		job, gerr := s.cfg.Jobs.Get(r.Context(), id)
		if gerr != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		snap, cancel = job, func() {}
		closed := make(chan types.ProcessingStatus)
		close(closed)
		updates = closed
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "job", id, "error", err)
		return
	}
	defer conn.Close()

	// Reading detects the client going away and detaches the subscription.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	send := func(st types.ProcessingStatus) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(st)
	}
	if err := send(snap.Status); err != nil {
		return
	}
	for st := range updates {
		if err := send(st); err != nil {
			return
		}
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}
