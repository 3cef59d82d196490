package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarpis/leadpipe/internal/config"
	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/delivery"
	"github.com/mkarpis/leadpipe/internal/eligibility"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/runner"
	"github.com/mkarpis/leadpipe/internal/storage"
	"github.com/mkarpis/leadpipe/internal/validate"
)

func newTestServer(t *testing.T, adminToken string) (*Server, *storage.SQLiteStorage) {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	dupes := dedupe.NewChecker(s)
	manager := runner.NewManager(s, delivery.NewSender(time.Second), dupes, 0, zerolog.Nop())
	t.Cleanup(manager.Stop)

	srv := NewServer(config.ServerConfig{}, Deps{
		Store:     s,
		Manager:   manager,
		Filter:    eligibility.New(s, dupes),
		Validator: validate.New(s, dupes),
		Dupes:     dupes,
		Injection: config.InjectionConfig{
			DefaultMinDelay: 30 * time.Second,
			DefaultMaxDelay: 3 * time.Minute,
			DefaultNoise:    "medium",
		},
		AdminToken: adminToken,
	}, zerolog.Nop())
	return srv, s
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "topsecret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pools", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/pools", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/pools", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays open
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreatePoolAndImportCSV(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/pools", map[string]string{"name": "june leads"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var pool models.LeadPool
	decode(t, rec, &pool)
	assert.True(t, strings.HasPrefix(pool.ID, "pool_"))

	csv := "email,first_name,country\na@x.com,Alice,us\nb@x.com,Bob,ca\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pools/"+pool.ID+"/import", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var imp importResponse
	decode(t, rec, &imp)
	assert.Equal(t, 2, imp.Imported)
	assert.Zero(t, imp.Skipped)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/pools/"+pool.ID+"/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.LeadPoolEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 2)
	countries := []string{entries[0].Country, entries[1].Country}
	assert.ElementsMatch(t, []string{"US", "CA"}, countries)
	assert.Equal(t, models.SourceImport, entries[0].Source)
}

func TestCreatePoolValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/pools", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAdvertiser(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/advertisers", map[string]string{
		"name": "buyer one",
		"url":  "https://buyer.example.com/leads",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var adv models.Advertiser
	decode(t, rec, &adv)
	assert.True(t, strings.HasPrefix(adv.ID, "adv_"))
	assert.True(t, strings.HasPrefix(adv.Secret, "advsec_"))
	assert.True(t, adv.Active)

	// secrets are not echoed on list
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/advertisers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var advs []models.Advertiser
	decode(t, rec, &advs)
	require.Len(t, advs, 1)
	assert.Empty(t, advs[0].Secret)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/advertisers", map[string]string{
		"name": "bad", "url": "not-a-url",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedViaAPI(t *testing.T, srv *Server) (poolID, advID string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/pools", map[string]string{"name": "pool"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var pool models.LeadPool
	decode(t, rec, &pool)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/advertisers", map[string]string{
		"name": "buyer", "url": "https://buyer.example.com/leads",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var adv models.Advertiser
	decode(t, rec, &adv)

	csv := "email,country\nus1@x.com,US\nus2@x.com,US\nus3@x.com,US\nca1@x.com,CA\nca2@x.com,CA\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pools/"+pool.ID+"/import", strings.NewReader(csv))
	rec2 := httptest.NewRecorder()
	srv.router.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusCreated, rec2.Code)

	return pool.ID, adv.ID
}

func TestCampaignCreateEnrollValidate(t *testing.T) {
	srv, _ := newTestServer(t, "")
	poolID, advID := seedViaAPI(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"name":           "june push",
		"pool_id":        poolID,
		"advertiser_ids": []string{advID},
		"geo_caps":       map[string]int{"US": 2, "CA": 5},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var c models.Campaign
	decode(t, rec, &c)
	assert.Equal(t, models.CampaignDraft, c.Status)
	// config defaults applied
	assert.Equal(t, 30, c.MinDelaySeconds)
	assert.Equal(t, 180, c.MaxDelaySeconds)
	assert.Equal(t, models.NoiseMedium, c.Noise)

	// eligibility preview admits 2 US + 2 CA without enrolling
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/eligibility", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var elig eligibility.Result
	decode(t, rec, &elig)
	assert.Len(t, elig.Entries, 4)
	assert.Equal(t, 5, elig.PoolTotal)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/enroll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var enr enrollResponse
	decode(t, rec, &enr)
	assert.Equal(t, 4, enr.Enrolled)

	// re-running enrollment admits nothing new
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/enroll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &enr)
	assert.Zero(t, enr.Enrolled)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var val validate.Result
	decode(t, rec, &val)
	assert.Equal(t, 4, val.TotalPending)
	assert.Equal(t, 4, val.WillSend)
	assert.Zero(t, val.SkipGeoCap)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prog progressResponse
	decode(t, rec, &prog)
	assert.Equal(t, 4, prog.Leads["pending"])
	assert.Equal(t, 4, prog.Remaining)
	assert.Equal(t, 4, prog.EffectiveTotal)
	assert.Nil(t, prog.Advisory)
}

func TestDedupeCheck(t *testing.T) {
	srv, s := newTestServer(t, "")
	_, advID := seedViaAPI(t, srv)
	ctx := context.Background()

	require.NoError(t, s.AppendLedger(ctx, &models.LedgerRecord{
		ID: models.NewID("led"), Email: "burned@x.com", AdvertiserID: advID,
		SentAt: time.Now().UTC().Add(-10 * time.Hour),
	}))

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/dedupe/check?email=burned@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp checkResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Advertisers, 1)
	assert.True(t, resp.Advertisers[0].Duplicate)
	require.NotNil(t, resp.Advertisers[0].Cooldown)
	assert.Equal(t, dedupe.CooldownFresh, resp.Advertisers[0].Cooldown.State)
	assert.Equal(t, 14, resp.Advertisers[0].Cooldown.HoursRemaining)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/dedupe/check?email=fresh@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = checkResponse{}
	decode(t, rec, &resp)
	require.Len(t, resp.Advertisers, 1)
	assert.False(t, resp.Advertisers[0].Duplicate)
	assert.Nil(t, resp.Advertisers[0].Cooldown)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/dedupe/check", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/dedupe/check?email=a@x.com&advertiser_id=adv_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignCreateValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")
	poolID, advID := seedViaAPI(t, srv)

	base := func() map[string]any {
		return map[string]any{
			"name":           "c",
			"pool_id":        poolID,
			"advertiser_ids": []string{advID},
			"geo_caps":       map[string]int{"US": 5},
		}
	}

	cases := []func(m map[string]any){
		func(m map[string]any) { delete(m, "name") },
		func(m map[string]any) { m["advertiser_ids"] = []string{} },
		func(m map[string]any) { m["advertiser_ids"] = []string{"adv_missing"} },
		func(m map[string]any) { m["pool_id"] = "pool_missing" },
		func(m map[string]any) { m["min_delay_seconds"] = 120; m["max_delay_seconds"] = 30 },
		func(m map[string]any) { m["noise"] = "extreme" },
		func(m map[string]any) { m["window_start"] = "09:00" },
		func(m map[string]any) { m["window_start"] = "9am"; m["window_end"] = "5pm" },
		func(m map[string]any) { m["weekdays"] = []int{9} },
		func(m map[string]any) { m["geo_caps"] = map[string]int{"US": -1} },
	}
	for i, mutate := range cases {
		body := base()
		mutate(body)
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d", i)
	}
}

func TestCampaignWithoutGeoCapsSendsNothing(t *testing.T) {
	srv, s := newTestServer(t, "")
	poolID, advID := seedViaAPI(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"name":           "uncapped",
		"pool_id":        poolID,
		"advertiser_ids": []string{advID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var c models.Campaign
	decode(t, rec, &c)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/enroll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var enr enrollResponse
	decode(t, rec, &enr)
	assert.Equal(t, 5, enr.Enrolled)

	// every enrolled lead is over quota
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var val validate.Result
	decode(t, rec, &val)
	assert.Equal(t, 5, val.TotalPending)
	assert.Zero(t, val.WillSend)
	assert.Equal(t, 5, val.SkipGeoCap)

	// starting is allowed; the campaign drains to completed without sending
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		got, err := s.GetCampaign(context.Background(), c.ID)
		return err == nil && got != nil && got.Status == models.CampaignCompleted
	}, 5*time.Second, 20*time.Millisecond)

	got, err := s.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.SentCount)
}

func TestEnrollRequiresDraftOrPaused(t *testing.T) {
	srv, s := newTestServer(t, "")
	poolID, advID := seedViaAPI(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"name": "c", "pool_id": poolID,
		"advertiser_ids": []string{advID},
		"geo_caps":       map[string]int{"US": 5},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var c models.Campaign
	decode(t, rec, &c)

	require.NoError(t, s.UpdateCampaignStatus(context.Background(), c.ID, models.CampaignCancelled))

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/enroll", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHideEntryToggles(t *testing.T) {
	srv, _ := newTestServer(t, "")
	poolID, _ := seedViaAPI(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/pools/"+poolID+"/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.LeadPoolEntry
	decode(t, rec, &entries)
	require.NotEmpty(t, entries)

	rec = doJSON(t, srv, http.MethodPatch, "/api/v1/entries/"+entries[0].ID+"/hide", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hidden models.LeadPoolEntry
	decode(t, rec, &hidden)
	assert.True(t, hidden.Hidden)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/pools/"+poolID+"/entries", nil)
	var after []models.LeadPoolEntry
	decode(t, rec, &after)
	assert.Len(t, after, len(entries)-1)
}

func TestStatsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")
	seedViaAPI(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats storage.Stats
	decode(t, rec, &stats)
	assert.Equal(t, int64(1), stats.TotalPools)
	assert.Equal(t, int64(5), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.TotalAdvertisers)
}

func TestCampaignNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/cmp_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
