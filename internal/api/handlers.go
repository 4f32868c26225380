package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/audience"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/provider"
	"github.com/sells-group/audience-cli/internal/store"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	deps Deps
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Store.GetSettings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	var s model.ConstructionSettings
	if err := decodeBody(r, &s, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.AudienceID = chi.URLParam(r, "id")
	if err := s.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Store.SaveSettings(r.Context(), &s); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) build(w http.ResponseWriter, r *http.Request) {
	var req audience.Request
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.AudienceID = chi.URLParam(r, "id")

	b, err := h.deps.Builder.Build(r.Context(), req)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) getBuild(w http.ResponseWriter, r *http.Request) {
	mode, err := model.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "mode must be validation or extension")
		return
	}
	b, err := h.deps.Store.GetBuild(r.Context(), chi.URLParam(r, "id"), mode)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type scoreRequest struct {
	ScaleAccuracy *float64 `json:"scale_accuracy"`
}

type unitsResponse struct {
	AudienceID    string                       `json:"audience_id"`
	ScaleAccuracy float64                      `json:"scale_accuracy"`
	Tiers         map[model.ConfidenceTier]int `json:"tiers"`
	Units         []model.GeoUnit              `json:"units"`
}

func (h *handlers) scoreUnits(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scale := h.deps.DefaultScaleAccuracy
	if req.ScaleAccuracy != nil {
		scale = *req.ScaleAccuracy
	}
	id := chi.URLParam(r, "id")

	units, err := h.deps.Builder.ScoreUnits(r.Context(), id, scale)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unitsResponse{
		AudienceID:    id,
		ScaleAccuracy: scale,
		Tiers:         model.TierCounts(units),
		Units:         units,
	})
}

func (h *handlers) listUnits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	units, err := h.deps.Store.ListGeoUnits(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if units == nil {
		units = []model.GeoUnit{}
	}
	writeJSON(w, http.StatusOK, unitsResponse{
		AudienceID: id,
		Tiers:      model.TierCounts(units),
		Units:      units,
	})
}

type previewRequest struct {
	Settings      *model.ConstructionSettings `json:"settings"`
	ScaleAccuracy *float64                    `json:"scale_accuracy"`
	Count         int                         `json:"count"`
}

func (h *handlers) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Settings == nil {
		writeError(w, http.StatusBadRequest, "settings are required")
		return
	}
	if req.Settings.AudienceID == "" {
		req.Settings.AudienceID = "preview"
	}
	scale := h.deps.DefaultScaleAccuracy
	if req.ScaleAccuracy != nil {
		scale = *req.ScaleAccuracy
	}

	units, err := h.deps.Builder.Preview(req.Settings, scale, req.Count)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, unitsResponse{
		AudienceID:    req.Settings.AudienceID,
		ScaleAccuracy: scale,
		Tiers:         model.TierCounts(units),
		Units:         units,
	})
}

func (h *handlers) providers(w http.ResponseWriter, r *http.Request) {
	var infos []provider.Info
	if h.deps.Providers != nil {
		infos = h.deps.Providers.Describe(r.Context())
	}
	if infos == nil {
		infos = []provider.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// decodeBody decodes a JSON body. With optional set, an empty body leaves
// v untouched.
func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		writeError(w, http.StatusNotFound, "audience not configured")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		zap.L().Error("request failed",
			zap.String("component", "api"),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
