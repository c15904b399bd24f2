package controlapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/playout-conductor/internal/apperrors"
	"github.com/strefethen/playout-conductor/internal/conductor"
	"github.com/strefethen/playout-conductor/internal/device"
	"github.com/strefethen/playout-conductor/internal/mapping"
	"github.com/strefethen/playout-conductor/internal/timeline"
)

// DeviceFactory constructs a registerable device.Adapter for a given
// device type tag ("videoplayout", ...). Callers register one factory per
// adapter package the process links in; controlapi itself knows nothing
// about any specific protocol.
type DeviceFactory func(deviceID string) (device.Adapter, error)

// Router builds the control-plane chi.Router: status, timeline
// replacement, mapping swap, and device add/remove, all but /v1/status
// guarded by BearerAuth.
//
// Grounded on internal/server.NewHandler's router assembly (StripSlashes,
// request logging, recoverer, auth, then route registration per concern).
func Router(c *conductor.Conductor, staticToken, jwtSecret string, factories map[string]DeviceFactory) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(requestLoggerMiddleware)
	r.Use(RecovererMiddleware)
	r.Use(BearerAuth(staticToken, jwtSecret))

	r.Get("/v1/status", Handler(statusHandler(c)).ServeHTTP)
	r.Post("/v1/timeline", Handler(setTimelineHandler(c)).ServeHTTP)
	r.Put("/v1/mapping", Handler(setMappingHandler(c)).ServeHTTP)
	r.Post("/v1/devices", Handler(addDeviceHandler(c, factories)).ServeHTTP)
	r.Delete("/v1/devices/{deviceID}", Handler(removeDeviceHandler(c)).ServeHTTP)

	return r
}

type statusResponse struct {
	Code     string   `json:"code"`
	Messages []string `json:"messages,omitempty"`
	Devices  []string `json:"devices"`
}

func statusHandler(c *conductor.Conductor) Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		st := c.Status()
		return WriteJSON(w, http.StatusOK, statusResponse{
			Code:     st.Code.String(),
			Messages: st.Messages,
			Devices:  c.DeviceIDs(),
		})
	}
}

func setTimelineHandler(c *conductor.Conductor) Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var tl timeline.Timeline
		if err := json.NewDecoder(r.Body).Decode(&tl); err != nil {
			return apperrors.NewBadRequestError("invalid timeline body: " + err.Error())
		}
		c.SetTimeline(r.Context(), tl)
		return WriteJSON(w, http.StatusAccepted, map[string]any{"objects": len(tl)})
	}
}

func setMappingHandler(c *conductor.Conductor) Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var t mapping.Table
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			return apperrors.NewBadRequestError("invalid mapping body: " + err.Error())
		}
		c.SetMapping(r.Context(), t)
		return WriteJSON(w, http.StatusAccepted, map[string]any{"layers": len(t)})
	}
}

type addDeviceRequest struct {
	DeviceID string         `json:"deviceId"`
	Type     string         `json:"type"`
	Options  device.Options `json:"options"`
}

func addDeviceHandler(c *conductor.Conductor, factories map[string]DeviceFactory) Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req addDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewBadRequestError("invalid device body: " + err.Error())
		}
		if req.DeviceID == "" {
			return apperrors.NewBadRequestError("deviceId is required")
		}
		factory, ok := factories[req.Type]
		if !ok {
			return apperrors.NewBadRequestError("unknown device type: " + req.Type)
		}
		adapter, err := factory(req.DeviceID)
		if err != nil {
			return apperrors.EnsureAppError(err)
		}
		if err := c.AddDevice(r.Context(), adapter, req.Options); err != nil {
			return apperrors.EnsureAppError(err)
		}
		return WriteJSON(w, http.StatusCreated, map[string]any{"deviceId": req.DeviceID})
	}
}

func removeDeviceHandler(c *conductor.Conductor) Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		deviceID := chi.URLParam(r, "deviceID")
		if err := c.RemoveDevice(r.Context(), deviceID); err != nil {
			return apperrors.EnsureAppError(err)
		}
		return WriteJSON(w, http.StatusOK, map[string]any{"deviceId": deviceID})
	}
}
