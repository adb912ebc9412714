package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/heatpump-controller/internal/model"
)

type stubController struct {
	status    model.Status
	algorithm model.ControlAlgorithm
	setErr    error

	pausedMinutes []float64
	algorithmSets []model.ControlAlgorithm
}

func (s *stubController) Status() model.Status { return s.status }

func (s *stubController) Pause(minutes float64) {
	s.pausedMinutes = append(s.pausedMinutes, minutes)
	until := time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)
	s.status.Paused = true
	s.status.PauseUntil = &until
}

func (s *stubController) SetAlgorithm(algorithm model.ControlAlgorithm) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.algorithmSets = append(s.algorithmSets, algorithm)
	s.algorithm = algorithm
	return nil
}

func (s *stubController) Algorithm() model.ControlAlgorithm { return s.algorithm }

func newTestServer() (*Server, *stubController) {
	stub := &stubController{
		algorithm: model.AlgorithmManual,
		status: model.Status{
			Algorithm:     "manual",
			HVACMode:      model.ModeOff,
			CurrentTemp:   19.857,
			TargetTemp:    21.571,
			AvgNeededTemp: 1.714,
		},
	}
	return NewServer(stub), stub
}

func TestGetStatus(t *testing.T) {
	server, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status model.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "manual", status.Algorithm)
	assert.InDelta(t, 19.857, status.CurrentTemp, 1e-9)
}

func TestPauseDefaultsTo30Minutes(t *testing.T) {
	server, stub := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/pause", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []float64{30}, stub.pausedMinutes)

	var resp PauseResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Paused)
	require.NotNil(t, resp.PauseUntil)
}

func TestPauseEmptyBodyDefaultsTo30Minutes(t *testing.T) {
	server, stub := newTestServer()

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/pause", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []float64{30}, stub.pausedMinutes)
}

func TestPauseExplicitMinutes(t *testing.T) {
	server, stub := newTestServer()

	body := bytes.NewBufferString(`{"minutes": 45}`)
	req := httptest.NewRequest(http.MethodPost, "/api/pause", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []float64{45}, stub.pausedMinutes)
}

func TestPauseRejectsNonPositiveMinutes(t *testing.T) {
	server, stub := newTestServer()

	body := bytes.NewBufferString(`{"minutes": -5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/pause", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, stub.pausedMinutes)
}

func TestSetAlgorithmByLabel(t *testing.T) {
	server, stub := newTestServer()

	body := bytes.NewBufferString(`{"algorithm": "LWT Control"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/algorithm", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.ControlAlgorithm{model.AlgorithmLWTControl}, stub.algorithmSets)

	var resp AlgorithmResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "lwt_control", resp.Algorithm)
	assert.Equal(t, "LWT Control", resp.Label)
}

func TestSetAlgorithmByValue(t *testing.T) {
	server, stub := newTestServer()

	body := bytes.NewBufferString(`{"algorithm": "weighted_average"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/algorithm", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.ControlAlgorithm{model.AlgorithmWeightedAverage}, stub.algorithmSets)
}

func TestSetAlgorithmConflictWhenRejected(t *testing.T) {
	server, stub := newTestServer()
	stub.setErr = errors.New("lwt control is not configured")

	body := bytes.NewBufferString(`{"algorithm": "LWT Control"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/algorithm", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, stub.algorithmSets)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "lwt control is not configured", resp.Error)
}

func TestSetAlgorithmRejectsUnknown(t *testing.T) {
	server, stub := newTestServer()

	body := bytes.NewBufferString(`{"algorithm": "fuzzy logic"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/algorithm", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, stub.algorithmSets)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "Invalid algorithm")
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer()

	req := httptest.NewRequest(http.MethodDelete, "/api/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
