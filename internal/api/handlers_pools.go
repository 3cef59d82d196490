package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkarpis/leadpipe/internal/csvparser"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/storage"
)

type PoolHandler struct {
	store storage.Storage
}

func NewPoolHandler(store storage.Storage) *PoolHandler {
	return &PoolHandler{store: store}
}

type createPoolRequest struct {
	Name string `json:"name"`
}

func (h *PoolHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	p := &models.LeadPool{
		ID:        models.NewID("pool"),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreatePool(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create pool")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	pools, err := h.store.ListPools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pools")
		return
	}
	if pools == nil {
		pools = []models.LeadPool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// Entries lists a pool's entries, optionally narrowed by the same source
// filter the eligibility pass uses (countries, sources, date range).
func (h *PoolHandler) Entries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pool, err := h.store.GetPool(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get pool")
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}

	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.store.ListPoolEntries(r.Context(), id, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []models.LeadPoolEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type addEntryRequest struct {
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	Country      string            `json:"country"`
	IP           string            `json:"ip"`
	Offer        string            `json:"offer"`
	CustomFields map[string]string `json:"custom_fields"`
	Source       string            `json:"source"`
	SourceDate   *time.Time        `json:"source_date"`
}

type addEntriesRequest struct {
	Entries []addEntryRequest `json:"entries"`
}

type addEntriesResponse struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	IDs     []string `json:"ids"`
}

func (h *PoolHandler) AddEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pool, err := h.store.GetPool(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get pool")
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}

	var req addEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "at least one entry is required")
		return
	}

	resp := addEntriesResponse{IDs: []string{}}
	now := time.Now().UTC()
	for _, in := range req.Entries {
		if in.Email == "" {
			resp.Skipped++
			continue
		}
		e := &models.LeadPoolEntry{
			ID:           models.NewID("lead"),
			PoolID:       id,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Email:        in.Email,
			Phone:        in.Phone,
			Country:      in.Country,
			IP:           in.IP,
			Offer:        in.Offer,
			CustomFields: in.CustomFields,
			Source:       in.Source,
			SourceDate:   now,
			CreatedAt:    now,
		}
		if e.Source == "" {
			e.Source = models.SourceImport
		}
		if in.SourceDate != nil {
			e.SourceDate = in.SourceDate.UTC()
		}
		if err := h.store.CreatePoolEntry(r.Context(), e); err != nil {
			resp.Skipped++
			continue
		}
		resp.Added++
		resp.IDs = append(resp.IDs, e.ID)
	}

	writeJSON(w, http.StatusCreated, resp)
}

type importResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportCSV ingests a CSV body into the pool. The body is raw CSV
// (Content-Type text/csv); columns beyond the well-known set become
// custom fields on each entry.
func (h *PoolHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pool, err := h.store.GetPool(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get pool")
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}

	rows, err := csvparser.ParseLeadRows(r.Body, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := importResponse{}
	now := time.Now().UTC()
	for _, row := range rows {
		e := &models.LeadPoolEntry{
			ID:           models.NewID("lead"),
			PoolID:       id,
			FirstName:    row.FirstName,
			LastName:     row.LastName,
			Email:        row.Email,
			Phone:        row.Phone,
			Country:      row.Country,
			IP:           row.IP,
			Offer:        row.Offer,
			CustomFields: row.Fields,
			Source:       row.Source,
			SourceDate:   now,
			CreatedAt:    now,
		}
		if e.Source == "" {
			e.Source = models.SourceImport
		}
		if row.SourceDate != nil {
			e.SourceDate = row.SourceDate.UTC()
		}
		if err := h.store.CreatePoolEntry(r.Context(), e); err != nil {
			resp.Skipped++
			continue
		}
		resp.Imported++
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Hide soft-removes an entry from future eligibility passes. Entries are
// never deleted; hiding is reversible through the same route.
func (h *PoolHandler) Hide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.store.GetPoolEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get entry")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}

	hidden := !entry.Hidden
	if err := h.store.HidePoolEntry(r.Context(), id, hidden); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update entry")
		return
	}

	entry.Hidden = hidden
	writeJSON(w, http.StatusOK, entry)
}

func filterFromQuery(r *http.Request) (models.SourceFilter, error) {
	var f models.SourceFilter
	q := r.URL.Query()

	if v := q.Get("countries"); v != "" {
		f.Countries = strings.Split(v, ",")
	}
	if v := q.Get("sources"); v != "" {
		f.Sources = strings.Split(v, ",")
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errFilterDate
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errFilterDate
		}
		f.To = &t
	}
	return f, nil
}

var errFilterDate = errors.New("from/to must be RFC3339 timestamps")
