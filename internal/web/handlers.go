package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"coinsentry/internal/storage"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	type group struct {
		Open      []storage.Position `json:"open"`
		Closing   []storage.Position `json:"closing"`
		Abandoned []storage.Position `json:"abandoned"`
		Recent    []storage.Position `json:"recent"`
	}

	var out group
	var err error
	if out.Open, err = s.repo.FindPositionsByStatus(storage.StatusOpen); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out.Closing, err = s.repo.FindPositionsByStatus(storage.StatusClosing); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out.Abandoned, err = s.repo.FindPositionsByStatus(storage.StatusAbandoned); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out.Recent, err = s.repo.RecentPositions(20); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	if market == "" {
		s.writeError(w, http.StatusBadRequest, "market parameter required")
		return
	}
	skipFilter, _ := strconv.ParseBool(r.URL.Query().Get("skip_filter"))

	accepted, reason := s.engine.ManualTrigger(r.Context(), market, skipFilter)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"market":   market,
		"accepted": accepted,
		"reason":   reason,
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	if market == "" {
		s.writeError(w, http.StatusBadRequest, "market parameter required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.ManualClose(r.Context(), market))
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	state := s.engine.ResetBreaker()
	s.logger.Warn("circuit breaker reset via API", "remote", r.RemoteAddr)
	s.writeJSON(w, http.StatusOK, state)
}
