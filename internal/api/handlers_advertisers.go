package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/storage"
)

type AdvertiserHandler struct {
	store storage.Storage
}

func NewAdvertiserHandler(store storage.Storage) *AdvertiserHandler {
	return &AdvertiserHandler{store: store}
}

type createAdvertiserRequest struct {
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata"`
}

func (h *AdvertiserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAdvertiserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
		return
	}

	a := &models.Advertiser{
		ID:        models.NewID("adv"),
		Name:      req.Name,
		URL:       req.URL,
		Secret:    models.NewSecret(),
		Metadata:  req.Metadata,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}

	if err := h.store.CreateAdvertiser(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create advertiser")
		return
	}

	// the secret is returned once, at creation
	writeJSON(w, http.StatusCreated, a)
}

func (h *AdvertiserHandler) List(w http.ResponseWriter, r *http.Request) {
	advs, err := h.store.ListAdvertisers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list advertisers")
		return
	}
	if advs == nil {
		advs = []models.Advertiser{}
	}
	for i := range advs {
		advs[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, advs)
}

func (h *AdvertiserHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.store.GetAdvertiser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get advertiser")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "advertiser not found")
		return
	}

	active := !a.Active
	if err := h.store.ToggleAdvertiser(r.Context(), id, active); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle advertiser")
		return
	}

	a.Active = active
	a.Secret = ""
	writeJSON(w, http.StatusOK, a)
}
