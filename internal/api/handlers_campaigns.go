package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkarpis/leadpipe/internal/advisory"
	"github.com/mkarpis/leadpipe/internal/eligibility"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/quota"
	"github.com/mkarpis/leadpipe/internal/validate"
)

type CampaignHandler struct {
	deps Deps
}

func NewCampaignHandler(deps Deps) *CampaignHandler {
	return &CampaignHandler{deps: deps}
}

type createCampaignRequest struct {
	Name            string         `json:"name"`
	PoolID          string         `json:"pool_id"`
	AdvertiserIDs   []string       `json:"advertiser_ids"`
	GeoCaps         map[string]int `json:"geo_caps"`
	MinDelaySeconds int            `json:"min_delay_seconds"`
	MaxDelaySeconds int            `json:"max_delay_seconds"`
	Noise           string         `json:"noise"`
	WindowStart     string         `json:"window_start"`
	WindowEnd       string         `json:"window_end"`
	Weekdays        []int          `json:"weekdays"`
}

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.PoolID == "" {
		writeError(w, http.StatusBadRequest, "pool_id is required")
		return
	}
	if len(req.AdvertiserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one advertiser is required")
		return
	}
	// no geo_caps is legal; such a campaign starts fine and sends nothing
	for country, cap := range req.GeoCaps {
		if cap < 0 {
			writeError(w, http.StatusBadRequest, "geo cap for "+country+" must not be negative")
			return
		}
	}

	pool, err := h.deps.Store.GetPool(r.Context(), req.PoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get pool")
		return
	}
	if pool == nil {
		writeError(w, http.StatusBadRequest, "pool not found")
		return
	}
	for _, advID := range req.AdvertiserIDs {
		a, err := h.deps.Store.GetAdvertiser(r.Context(), advID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get advertiser")
			return
		}
		if a == nil {
			writeError(w, http.StatusBadRequest, "advertiser not found: "+advID)
			return
		}
	}

	minDelay := req.MinDelaySeconds
	maxDelay := req.MaxDelaySeconds
	if minDelay == 0 && maxDelay == 0 {
		minDelay = int(h.deps.Injection.DefaultMinDelay.Seconds())
		maxDelay = int(h.deps.Injection.DefaultMaxDelay.Seconds())
	}
	if minDelay < 0 || maxDelay < minDelay {
		writeError(w, http.StatusBadRequest, "delay bounds must satisfy 0 <= min <= max")
		return
	}

	noise := models.NoiseLevel(req.Noise)
	if req.Noise == "" {
		noise = models.NoiseLevel(h.deps.Injection.DefaultNoise)
	}
	switch noise {
	case models.NoiseLow, models.NoiseMedium, models.NoiseHigh:
	default:
		writeError(w, http.StatusBadRequest, "noise must be low, medium or high")
		return
	}

	if (req.WindowStart == "") != (req.WindowEnd == "") {
		writeError(w, http.StatusBadRequest, "window_start and window_end must be set together")
		return
	}
	if req.WindowStart != "" {
		if !validClock(req.WindowStart) || !validClock(req.WindowEnd) {
			writeError(w, http.StatusBadRequest, "window times must be HH:MM")
			return
		}
	}

	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, d := range req.Weekdays {
		if d < 0 || d > 6 {
			writeError(w, http.StatusBadRequest, "weekdays must be 0 (Sunday) through 6 (Saturday)")
			return
		}
		weekdays = append(weekdays, time.Weekday(d))
	}

	now := time.Now().UTC()
	c := &models.Campaign{
		ID:              models.NewID("cmp"),
		Name:            req.Name,
		PoolID:          req.PoolID,
		AdvertiserIDs:   req.AdvertiserIDs,
		Status:          models.CampaignDraft,
		GeoCaps:         req.GeoCaps,
		MinDelaySeconds: minDelay,
		MaxDelaySeconds: maxDelay,
		Noise:           noise,
		WindowStart:     req.WindowStart,
		WindowEnd:       req.WindowEnd,
		Weekdays:        weekdays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.deps.Store.CreateCampaign(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		campaigns []models.Campaign
		err       error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		campaigns, err = h.deps.Store.ListCampaignsByStatus(r.Context(), models.CampaignStatus(status))
	} else {
		campaigns, err = h.deps.Store.ListCampaigns(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCampaign(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type eligibilityRequest struct {
	Filter models.SourceFilter `json:"filter"`
	Limit  int                 `json:"limit"`
}

// Eligibility previews which pool entries would be enrolled right now,
// without enrolling anything.
func (h *CampaignHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCampaign(w, r)
	if !ok {
		return
	}

	var req eligibilityRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := h.deps.Filter.Run(r.Context(), eligibility.Params{
		PoolID:            c.PoolID,
		AdvertiserIDs:     c.AdvertiserIDs,
		Filter:            req.Filter,
		ExcludeCampaignID: c.ID,
		GeoCaps:           c.GeoCaps,
		Limit:             req.Limit,
	})
	if err != nil {
		if errors.Is(err, eligibility.ErrNoAdvertisers) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "eligibility check failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type enrollResponse struct {
	Enrolled        int      `json:"enrolled"`
	DuplicateCount  int      `json:"duplicate_count"`
	DuplicateSample []string `json:"duplicate_sample"`
	PoolTotal       int      `json:"pool_total"`
}

// Enroll admits eligible pool entries into the campaign queue. Each lead
// is pinned to the first advertiser still fresh for it; the scheduler may
// re-route at send time if that changes. Only draft and paused campaigns
// accept new enrollment.
func (h *CampaignHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCampaign(w, r)
	if !ok {
		return
	}
	if c.Status != models.CampaignDraft && c.Status != models.CampaignPaused {
		writeError(w, http.StatusConflict, "campaign must be draft or paused to enroll leads")
		return
	}

	var req eligibilityRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := h.deps.Filter.Run(r.Context(), eligibility.Params{
		PoolID:            c.PoolID,
		AdvertiserIDs:     c.AdvertiserIDs,
		Filter:            req.Filter,
		ExcludeCampaignID: c.ID,
		GeoCaps:           c.GeoCaps,
		Limit:             req.Limit,
	})
	if err != nil {
		if errors.Is(err, eligibility.ErrNoAdvertisers) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "eligibility check failed")
		return
	}

	enrolled := 0
	now := time.Now().UTC()
	for _, e := range res.Entries {
		advID, found, err := h.deps.Dupes.FreshAdvertiser(r.Context(), e.Email, c.AdvertiserIDs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to enroll leads")
			return
		}
		if !found {
			continue
		}

		entryID := e.ID
		lead := &models.CampaignLead{
			ID:           models.NewID("inj"),
			CampaignID:   c.ID,
			EntryID:      &entryID,
			AdvertiserID: advID,
			Email:        e.Email,
			FirstName:    e.FirstName,
			LastName:     e.LastName,
			Phone:        e.Phone,
			Country:      e.Country,
			IP:           e.IP,
			Offer:        e.Offer,
			Status:       models.LeadPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := h.deps.Store.CreateCampaignLead(r.Context(), lead); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to enroll leads")
			return
		}
		enrolled++
	}

	if enrolled > 0 {
		if err := h.deps.Store.AddCampaignTotal(r.Context(), c.ID, enrolled); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update campaign totals")
			return
		}
	}

	writeJSON(w, http.StatusOK, enrollResponse{
		Enrolled:        enrolled,
		DuplicateCount:  res.DuplicateCount,
		DuplicateSample: res.DuplicateSample,
		PoolTotal:       res.PoolTotal,
	})
}

// Validate runs the read-only pre-flight estimate. Safe to call at any
// time, including while the campaign is running.
func (h *CampaignHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.deps.Validator.Run(r.Context(), id)
	if err != nil {
		if errors.Is(err, validate.ErrNoAdvertisers) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Manager.Start(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	c, err := h.deps.Store.GetCampaign(r.Context(), id)
	if err != nil || c == nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Manager.Pause(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	c, err := h.deps.Store.GetCampaign(r.Context(), id)
	if err != nil || c == nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Manager.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	c, err := h.deps.Store.GetCampaign(r.Context(), id)
	if err != nil || c == nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type progressResponse struct {
	Campaign       *models.Campaign     `json:"campaign"`
	Leads          map[string]int       `json:"leads"`
	Remaining      int                  `json:"remaining_eligible"`
	EffectiveTotal int                  `json:"effective_total"`
	Advisory       *advisory.Projection `json:"advisory,omitempty"`
}

// Progress reports live campaign state: per-status lead counts, the
// quota-constrained remaining eligible count, the effective total the
// caps allow, and for running campaigns the pacing advisory projection.
func (h *CampaignHandler) Progress(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCampaign(w, r)
	if !ok {
		return
	}

	stats, err := h.deps.Store.CampaignLeadStats(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get lead stats")
		return
	}
	remaining, err := advisory.RemainingEligible(r.Context(), h.deps.Store, c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute remaining leads")
		return
	}
	enrolled, err := h.deps.Store.EnrolledCountByCountry(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count enrolled leads")
		return
	}

	resp := progressResponse{
		Campaign:       c,
		Leads:          stats,
		Remaining:      remaining,
		EffectiveTotal: quota.EffectiveTotal(enrolled, c.GeoCaps),
	}
	if c.Active() {
		p := advisory.Compute(c, remaining, time.Now().UTC())
		resp.Advisory = &p
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *CampaignHandler) Leads(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCampaign(w, r)
	if !ok {
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	offset := parseIntQuery(r, "offset", 0)

	leads, err := h.deps.Store.ListCampaignLeads(r.Context(), c.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if leads == nil {
		leads = []models.CampaignLead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

func (h *CampaignHandler) loadCampaign(w http.ResponseWriter, r *http.Request) (*models.Campaign, bool) {
	id := chi.URLParam(r, "id")
	c, err := h.deps.Store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return nil, false
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return nil, false
	}
	return c, true
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
