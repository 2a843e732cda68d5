package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/jonathan/exportd/internal/runstore"
	"github.com/jonathan/exportd/internal/types"
)

// handleExport starts an export run for the platform in the path. With
// ?wait=true the response is the terminal run instead of the freshly created
// one, bounded by the request context.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	platformID := r.PathValue("platform")

	run, err := s.orch.StartExport(r.Context(), platformID)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "active run") {
			status = http.StatusConflict
		}
		s.errorResponse(w, status, err.Error())
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		final, err := s.orch.Await(r.Context(), run.ID, s.orch.AwaitTimeout())
		if err != nil {
			s.errorResponse(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		s.jsonResponse(w, http.StatusOK, final)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, run)
}

// handleListRuns lists run history, optionally filtered by platform and
// status query parameters.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filters := runstore.Filters{
		PlatformID: r.URL.Query().Get("platform"),
		Status:     r.URL.Query().Get("status"),
	}
	runs, err := s.orch.Store().List(r.Context(), filters)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

// handleGetRun returns one run by id.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleStopRun stops an active run.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleResumeRun resumes a run suspended for sign-in.
func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Resume(r.Context(), id); err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		s.errorResponse(w, status, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"id": id, "status": "resuming"})
}

// handleDeleteRun deletes a run and its artifacts.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Delete(r.Context(), id); err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		} else if strings.Contains(err.Error(), "active") {
			status = http.StatusConflict
		}
		s.errorResponse(w, status, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// handleListPlatforms lists the available platform descriptors.
func (s *Server) handleListPlatforms(w http.ResponseWriter, _ *http.Request) {
	all := s.orch.Platforms()
	out := make([]types.PlatformDescriptor, 0, len(all))
	for _, desc := range all {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	s.jsonResponse(w, http.StatusOK, out)
}

// handleEvents streams engine events to the client as SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, cancel := s.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(string(ev.Type), ev); err != nil {
				return
			}
		}
	}
}
