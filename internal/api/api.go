package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

// Controller is the slice of the control loop the API needs.
type Controller interface {
	Status() model.Status
	Pause(minutes float64)
	SetAlgorithm(algorithm model.ControlAlgorithm) error
	Algorithm() model.ControlAlgorithm
}

type Server struct {
	controller Controller
}

type PauseRequest struct {
	Minutes *float64 `json:"minutes"`
}

type PauseResponse struct {
	Paused     bool       `json:"paused"`
	PauseUntil *time.Time `json:"pause_until,omitempty"`
}

type AlgorithmRequest struct {
	Algorithm string `json:"algorithm"`
}

type AlgorithmResponse struct {
	Algorithm string   `json:"algorithm"`
	Label     string   `json:"label"`
	Available []string `json:"available"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(controller Controller) *Server {
	return &Server{controller: controller}
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, s.Handler())
}

// Handler returns the API routes, split out so tests can drive them
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/algorithm", s.handleAlgorithm)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req PauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
	}

	// An omitted duration means the default; only an explicit value is
	// validated.
	minutes := 30.0
	if req.Minutes != nil {
		if *req.Minutes <= 0 {
			s.writeError(w, http.StatusBadRequest, "minutes must be positive")
			return
		}
		minutes = *req.Minutes
	}

	s.controller.Pause(minutes)
	log.Info().Float64("minutes", minutes).Msg("Controller paused via API")

	status := s.controller.Status()
	s.writeJSON(w, http.StatusOK, PauseResponse{
		Paused:     status.Paused,
		PauseUntil: status.PauseUntil,
	})
}

func (s *Server) handleAlgorithm(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getAlgorithm(w)
	case http.MethodPut:
		s.setAlgorithm(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) getAlgorithm(w http.ResponseWriter) {
	algorithm := s.controller.Algorithm()
	s.writeJSON(w, http.StatusOK, AlgorithmResponse{
		Algorithm: string(algorithm),
		Label:     algorithm.Label(),
		Available: algorithmLabels(),
	})
}

func (s *Server) setAlgorithm(w http.ResponseWriter, r *http.Request) {
	var req AlgorithmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	algorithm, ok := model.AlgorithmFromLabel(req.Algorithm)
	if !ok {
		// Accept the raw enum value as well as the display label.
		if parsed := model.ParseAlgorithm(req.Algorithm); string(parsed) == req.Algorithm {
			algorithm = parsed
		} else {
			s.writeError(w, http.StatusBadRequest, "Invalid algorithm. Valid algorithms: "+joinLabels())
			return
		}
	}

	if err := s.controller.SetAlgorithm(algorithm); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	log.Info().Str("algorithm", string(algorithm)).Msg("Algorithm changed via API")
	s.getAlgorithm(w)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func algorithmLabels() []string {
	labels := make([]string, 0, len(model.Algorithms))
	for _, a := range model.Algorithms {
		labels = append(labels, a.Label())
	}
	return labels
}

func joinLabels() string {
	return strings.Join(algorithmLabels(), ", ")
}
