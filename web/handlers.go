package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"lumacam/camera"
	"lumacam/config"
	"lumacam/lut"
	"lumacam/preview"
	"lumacam/record"
)

// PresetLister enumerates the available LUT preset names.
type PresetLister interface {
	Names() []string
}

// Handlers manages the HTTP control surface. Session status mutations go
// through here: decode, persist, reconfigure, in that order, so a crash
// between persist and reconfigure still restores the requested state on
// the next start.
type Handlers struct {
	config     *config.Config
	logger     *zap.Logger
	store      *config.StatusStore
	controller *camera.Controller
	luts       *lut.Store
	presets    PresetLister
	sink       *preview.Sink
	session    *record.Session
	feed       *PreviewFeed

	mu     sync.Mutex
	status config.SessionStatus
}

// NewHandlers creates the handlers around the pipeline components. initial
// is the session status restored at startup.
func NewHandlers(cfg *config.Config, store *config.StatusStore, controller *camera.Controller, luts *lut.Store, presets PresetLister, sink *preview.Sink, session *record.Session, feed *PreviewFeed, initial config.SessionStatus, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:     cfg,
		logger:     logger,
		store:      store,
		controller: controller,
		luts:       luts,
		presets:    presets,
		sink:       sink,
		session:    session,
		feed:       feed,
		status:     initial,
	}
}

// CurrentStatus returns the live session status.
func (h *Handlers) CurrentStatus() config.SessionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// HandleStatus returns the live session status on GET and applies a full
// replacement on POST.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.mu.Lock()
		status := h.status
		h.mu.Unlock()
		h.writeJSONResponse(w, map[string]interface{}{
			"status":      status,
			"backDevices": h.controller.AvailableLenses(),
		})

	case http.MethodPost:
		var status config.SessionStatus
		if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
			h.writeErrorResponse(w, "Invalid status payload: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := h.store.Save(status); err != nil {
			h.logger.Error("Failed to persist session status", zap.Error(err))
		}

		h.mu.Lock()
		h.status = status
		h.mu.Unlock()

		h.luts.Load(status.SelectedPresetName)
		h.controller.Configure(status)

		h.writeJSONResponse(w, status)

	default:
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleConfig returns the static configuration.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, h.config)
}

// HandlePresets lists available LUT presets and the active selection.
func (h *Handlers) HandlePresets(w http.ResponseWriter, r *http.Request) {
	active := h.luts.Active()
	h.writeJSONResponse(w, map[string]interface{}{
		"presets": h.presets.Names(),
		"active":  active.Name,
		"neutral": active.Neutral(),
	})
}

// HandleSelectPreset binds a named preset, or the neutral grade for an
// empty name.
func (h *Handlers) HandleSelectPreset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid preset payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	cube := h.luts.Load(req.Name)

	h.mu.Lock()
	h.status.SelectedPresetName = req.Name
	status := h.status
	h.mu.Unlock()

	if err := h.store.Save(status); err != nil {
		h.logger.Error("Failed to persist session status", zap.Error(err))
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"name":    cube.Name,
		"size":    cube.Size,
		"neutral": cube.Neutral(),
	})
}

// HandleStartRecording begins a recording. The optional body carries a
// location hint latched into the output metadata.
func (h *Handlers) HandleStartRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Altitude  *float64 `json:"altitude"`
	}
	if r.Body != nil {
		// A missing or empty body just means no location hint.
		json.NewDecoder(r.Body).Decode(&req)
	}

	var location *camera.LocationFix
	if req.Latitude != nil && req.Longitude != nil {
		location = &camera.LocationFix{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
		}
		if req.Altitude != nil {
			location.Altitude = *req.Altitude
		}
	}

	if err := h.controller.StartRecording(location); err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"recording": true,
		"state":     h.session.State().String(),
	})
}

// HandleStopRecording finalizes the active recording and returns the
// output path.
func (h *Handlers) HandleStopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path, err := h.controller.StopRecording()
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"recording": false,
		"path":      path,
	})
}

// HandleZoom applies a zoom factor to the running capture session.
func (h *Handlers) HandleZoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Factor float64 `json:"factor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid zoom payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Factor <= 0 {
		h.writeErrorResponse(w, "Zoom factor must be positive", http.StatusBadRequest)
		return
	}

	h.controller.SetZoom(req.Factor)
	h.writeJSONResponse(w, map[string]interface{}{"factor": req.Factor})
}

// HandleStats returns pipeline counters for diagnostics.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	forwarded, dropped := h.sink.Stats()

	h.writeJSONResponse(w, map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"recording": map[string]interface{}{
			"state":            h.session.State().String(),
			"duration_seconds": h.session.Duration().Seconds(),
			"dropped_video":    h.session.DroppedVideo(),
		},
		"preview": map[string]interface{}{
			"forwarded": forwarded,
			"dropped":   dropped,
			"viewers":   h.feed.Viewers(),
		},
		"thermal":     h.controller.Thermal().String(),
		"orientation": int(h.controller.Orientation()),
	})
}

// HandleHealth returns health check information.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]interface{}{
			"web_server": "running",
			"recording":  h.session.State().String(),
		},
	})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  message,
		"status": statusCode,
	})
}
