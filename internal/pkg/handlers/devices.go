// Package handlers exposes the live device model over a small local REST
// surface for other home-automation processes to consume.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/etiennebl/hilolink/internal/pkg/devices"
	"github.com/etiennebl/hilolink/internal/pkg/hilo"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

type DevicesHandler struct {
	client *hilo.Client
}

func NewDevicesHandler(client *hilo.Client) *DevicesHandler {
	return &DevicesHandler{client: client}
}

// Register attaches the handler's routes to the router.
func (h *DevicesHandler) Register(r *mux.Router) {
	r.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", h.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/attributes", h.setAttribute).Methods(http.MethodPut)
	r.HandleFunc("/challenges", h.listChallenges).Methods(http.MethodGet)
}

type readingView struct {
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type deviceView struct {
	ID         int64         `json:"id"`
	Identifier string        `json:"identifier"`
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Kind       string        `json:"kind"`
	Model      string        `json:"model,omitempty"`
	SWVersion  string        `json:"sw_version,omitempty"`
	Available  bool          `json:"available"`
	Unpaired   bool          `json:"unpaired"`
	LastUpdate time.Time     `json:"last_update"`
	Readings   []readingView `json:"readings"`
}

func viewOf(dev *devices.Device) deviceView {
	v := deviceView{
		ID:         dev.ID(),
		Identifier: dev.Identifier(),
		Name:       dev.Name(),
		Type:       dev.Type(),
		Kind:       string(dev.Kind()),
		Model:      dev.Model(),
		SWVersion:  dev.SWVersion(),
		Available:  dev.Available(),
		Unpaired:   dev.Unpaired(),
		LastUpdate: dev.LastUpdate(),
	}
	for _, r := range dev.Readings() {
		v.Readings = append(v.Readings, readingView{
			Attribute: r.Attribute.Name(),
			Value:     r.Value,
			Unit:      r.Unit(),
			Timestamp: r.Timestamp,
		})
	}
	return v
}

func (h *DevicesHandler) listDevices(rw http.ResponseWriter, r *http.Request) {
	all := h.client.Registry().All()
	views := make([]deviceView, 0, len(all))
	for _, dev := range all {
		views = append(views, viewOf(dev))
	}
	writeJSON(rw, r, http.StatusOK, views)
}

func (h *DevicesHandler) getDevice(rw http.ResponseWriter, r *http.Request) {
	dev := h.findDevice(r)
	if dev == nil {
		http.Error(rw, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(rw, r, http.StatusOK, viewOf(dev))
}

type setAttributeRequest struct {
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
}

func (h *DevicesHandler) setAttribute(rw http.ResponseWriter, r *http.Request) {
	dev := h.findDevice(r)
	if dev == nil {
		http.Error(rw, "device not found", http.StatusNotFound)
		return
	}

	var req setAttributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Attribute == "" {
		http.Error(rw, "bad request body", http.StatusBadRequest)
		return
	}

	if !dev.HasAttribute(req.Attribute) {
		http.Error(rw, "attribute not supported by device", http.StatusBadRequest)
		return
	}

	if err := h.client.SetAttribute(r.Context(), dev, req.Attribute, req.Value); err != nil {
		logging.Logger(r.Context()).WithError(err).Error("setting device attribute")
		http.Error(rw, "upstream error", http.StatusBadGateway)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

type challengeView struct {
	ID             int64     `json:"id"`
	Period         string    `json:"period"`
	Phase          string    `json:"phase"`
	Mode           string    `json:"mode"`
	Participating  bool      `json:"participating"`
	AllowedKWh     float64   `json:"allowed_kwh"`
	UsedKWh        float64   `json:"used_kwh"`
	UsedPercentage float64   `json:"used_percentage"`
	LastUpdate     time.Time `json:"last_update"`
}

func (h *DevicesHandler) listChallenges(rw http.ResponseWriter, r *http.Request) {
	challenges := h.client.Challenges()
	views := make([]challengeView, 0, len(challenges))
	for _, ev := range challenges {
		views = append(views, challengeView{
			ID:             ev.ID,
			Period:         ev.Period,
			Phase:          string(ev.State()),
			Mode:           ev.Mode,
			Participating:  ev.Participating,
			AllowedKWh:     ev.AllowedKWh,
			UsedKWh:        ev.UsedKWh(),
			UsedPercentage: ev.UsedPercentage(),
			LastUpdate:     ev.LastUpdate(),
		})
	}
	writeJSON(rw, r, http.StatusOK, views)
}

func (h *DevicesHandler) findDevice(r *http.Request) *devices.Device {
	raw := mux.Vars(r)["id"]

	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if dev := h.client.Registry().Find(id); dev != nil {
			return dev
		}
	}
	return h.client.Registry().FindByIdentifier(raw)
}

func writeJSON(rw http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(payload); err != nil {
		logging.Logger(r.Context()).WithError(err).Error("encoding response")
	}
}
