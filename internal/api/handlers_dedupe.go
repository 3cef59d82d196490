package api

import (
	"net/http"
	"time"

	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/storage"
)

type DedupeHandler struct {
	store storage.Storage
	dupes *dedupe.Checker
}

func NewDedupeHandler(store storage.Storage, dupes *dedupe.Checker) *DedupeHandler {
	return &DedupeHandler{store: store, dupes: dupes}
}

type advertiserCheck struct {
	AdvertiserID string           `json:"advertiser_id"`
	Duplicate    bool             `json:"duplicate"`
	Cooldown     *dedupe.Cooldown `json:"cooldown,omitempty"`
}

type checkResponse struct {
	Email       string            `json:"email"`
	Advertisers []advertiserCheck `json:"advertisers"`
}

// Check reports, per advertiser, whether an email has already been
// delivered and how far into its cooldown a ledger record is. Advisory
// only; the scheduler does its own checks at send time.
func (h *DedupeHandler) Check(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email query parameter is required")
		return
	}

	advs, err := h.store.ListAdvertisers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list advertisers")
		return
	}
	if advID := r.URL.Query().Get("advertiser_id"); advID != "" {
		filtered := advs[:0]
		for _, a := range advs {
			if a.ID == advID {
				filtered = append(filtered, a)
			}
		}
		advs = filtered
		if len(advs) == 0 {
			writeError(w, http.StatusNotFound, "advertiser not found")
			return
		}
	}

	resp := checkResponse{Email: email, Advertisers: []advertiserCheck{}}
	now := time.Now().UTC()
	for _, a := range advs {
		check := advertiserCheck{AdvertiserID: a.ID}

		dup, err := h.dupes.IsDuplicate(r.Context(), email, a.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "duplicate check failed")
			return
		}
		check.Duplicate = dup

		// cooldown only applies to ledger records; the legacy logs carry
		// no usable delivery timestamps
		if dup {
			rec, err := h.store.GetLedgerRecord(r.Context(), email, a.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "ledger lookup failed")
				return
			}
			if rec != nil {
				cd := dedupe.Classify(rec.SentAt, now)
				check.Cooldown = &cd
			}
		}

		resp.Advertisers = append(resp.Advertisers, check)
	}

	writeJSON(w, http.StatusOK, resp)
}
