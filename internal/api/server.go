package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sensornet/internal/config"
	"sensornet/internal/engine"
	"sensornet/internal/metrics"
	"sensornet/internal/model"
	"sensornet/internal/storage"
)

type Server struct {
	cfg     *config.Manager
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string                 `json:"status"`
	Time       string                 `json:"time"`
	Version    string                 `json:"version"`
	ConfigPath string                 `json:"config_path"`
	Ingest     ingestStatus           `json:"ingest"`
	Detection  config.DetectionConfig `json:"detection"`
	Storage    string                 `json:"storage"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
	TCPStream bool `json:"tcp_stream"`
	FileTail  bool `json:"file_tail"`
}

func Start(ctx context.Context, cfg *config.Manager, eng *engine.Engine, m *metrics.Metrics, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{cfg: cfg, engine: eng, metrics: m, logger: logger, version: version}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/sensors", server.handleSensors)
	mux.HandleFunc("/sensors/", server.handleSensorSubtree)
	mux.HandleFunc("/readings", server.handleRecordReading)
	mux.HandleFunc("/locations", server.handleLocations)
	mux.HandleFunc("/locations/stats", server.handleLocationStats)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/alerts/ack", server.handleAcknowledge)
	mux.HandleFunc("/config/detection", server.handleDetectionConfig)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if m != nil {
		m.RegisterUnacknowledgedGauge(func() float64 {
			count, err := eng.UnacknowledgedCount(context.Background())
			if err != nil {
				return 0
			}
			return float64(count)
		})
		mux.Handle("/metrics", m.Handler())
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       model.Now(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
		},
		Detection: cfg.Detection,
		Storage:   cfg.Storage.Driver,
	}
	writeJSON(w, http.StatusOK, resp)
}

type sensorPayload struct {
	ID                string           `json:"id"`
	Type              model.SensorType `json:"type"`
	Location          string           `json:"location"`
	Unit              string           `json:"unit"`
	CalibrationOffset float64          `json:"calibration_offset"`
	MinExpected       *float64         `json:"min_expected"`
	MaxExpected       *float64         `json:"max_expected"`
	Active            *bool            `json:"active"`
	Firmware          string           `json:"firmware"`
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sensors, err := s.engine.ListSensors(r.Context(), storage.SensorQuery{
			Location: r.URL.Query().Get("location"),
			Type:     r.URL.Query().Get("type"),
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sensors": sensors,
			"count":   len(sensors),
		})
	case http.MethodPost:
		var payload sensorPayload
		if !s.decode(w, r, &payload) {
			return
		}
		sensor := model.Sensor{
			ID:                payload.ID,
			Type:              payload.Type,
			Location:          payload.Location,
			Unit:              payload.Unit,
			CalibrationOffset: payload.CalibrationOffset,
			MinExpected:       -999.0,
			MaxExpected:       999.0,
			Active:            true,
			Firmware:          payload.Firmware,
		}
		if payload.MinExpected != nil {
			sensor.MinExpected = *payload.MinExpected
		}
		if payload.MaxExpected != nil {
			sensor.MaxExpected = *payload.MaxExpected
		}
		if payload.Active != nil {
			sensor.Active = *payload.Active
		}
		registered, err := s.engine.RegisterSensor(r.Context(), sensor)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, registered)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSensorSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sensors/")
	parts := strings.SplitN(rest, "/", 2)
	sensorID := parts[0]
	if sensorID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	switch action {
	case "":
		s.handleGetSensor(w, r, sensorID)
	case "latest":
		s.handleLatest(w, r, sensorID)
	case "series":
		s.handleSeries(w, r, sensorID)
	case "anomaly":
		s.handleAnomaly(w, r, sensorID)
	case "threshold":
		s.handleThreshold(w, r, sensorID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request, sensorID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sensor, err := s.engine.GetSensor(r.Context(), sensorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request, sensorID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reading, err := s.engine.Latest(r.Context(), sensorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if reading == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request, sensorID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	readings, err := s.engine.TimeSeries(r.Context(), sensorID, hoursWindow(r, 1.0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensor_id": sensorID,
		"readings":  readings,
		"count":     len(readings),
	})
}

func (s *Server) handleAnomaly(w http.ResponseWriter, r *http.Request, sensorID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	window := 0
	if v := r.URL.Query().Get("window"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			window = n
		}
	}
	threshold := 0.0
	if v := r.URL.Query().Get("threshold"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			threshold = f
		}
	}
	result, err := s.engine.DetectAnomaly(r.Context(), sensorID, window, threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type thresholdPayload struct {
	MinVal *float64 `json:"min_val"`
	MaxVal *float64 `json:"max_val"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request, sensorID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload thresholdPayload
	if !s.decode(w, r, &payload) {
		return
	}
	if err := s.engine.SetThresholdRule(r.Context(), sensorID, payload.MinVal, payload.MaxVal); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type readingPayload struct {
	SensorID  string   `json:"sensor_id"`
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp"`
}

func (s *Server) handleRecordReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload readingPayload
	if !s.decode(w, r, &payload) {
		return
	}
	if payload.SensorID == "" || payload.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "sensor_id and value required"})
		return
	}
	reading, err := s.engine.RecordReading(r.Context(), payload.SensorID, *payload.Value, payload.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locations, err := s.engine.AggregateByLocation(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"locations": locations,
		"count":     len(locations),
	})
}

func (s *Server) handleLocationStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	location := r.URL.Query().Get("location")
	sensorType := r.URL.Query().Get("type")
	if location == "" || sensorType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "location and type required"})
		return
	}
	stats, err := s.engine.LocationStats(r.Context(), location, model.SensorType(sensorType), hoursWindow(r, 1.0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := storage.AlertQuery{
		SensorID:           r.URL.Query().Get("sensor_id"),
		UnacknowledgedOnly: r.URL.Query().Get("unacknowledged") == "true",
	}
	alerts, err := s.engine.Alerts(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ID int64 `json:"id"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	if err := s.engine.AcknowledgeAlert(r.Context(), payload.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDetectionConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"detection": s.cfg.Get().Detection,
		})
	case http.MethodPost:
		var det config.DetectionConfig
		if !s.decode(w, r, &det) {
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Detection = det
		if err := config.Validate(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.engine.UpdateConfig(&next)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrSensorNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	if s.logger != nil {
		s.logger.Error("api request failed", "err", err)
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func hoursWindow(r *http.Request, fallback float64) time.Duration {
	hours := fallback
	if v := r.URL.Query().Get("hours"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			hours = f
		}
	}
	return time.Duration(hours * float64(time.Hour))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
