package validate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCampaign(t *testing.T, s *storage.SQLiteStorage, caps map[string]int, advertiserIDs []string) *models.Campaign {
	t.Helper()
	ctx := context.Background()
	p := &models.LeadPool{ID: models.NewID("pool"), Name: "pool", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreatePool(ctx, p))

	now := time.Now().UTC()
	c := &models.Campaign{
		ID: models.NewID("cmp"), Name: "c", PoolID: p.ID,
		AdvertiserIDs: advertiserIDs, Status: models.CampaignDraft,
		GeoCaps: caps, Noise: models.NoiseMedium,
		MinDelaySeconds: 30, MaxDelaySeconds: 180,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateCampaign(ctx, c))
	return c
}

func enroll(t *testing.T, s *storage.SQLiteStorage, campaignID, email, country string) *models.CampaignLead {
	t.Helper()
	now := time.Now().UTC()
	l := &models.CampaignLead{
		ID: models.NewID("inj"), CampaignID: campaignID,
		AdvertiserID: "adv_1", Email: email, Country: country,
		Status:    models.LeadPending,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateCampaignLead(context.Background(), l))
	return l
}

func TestRunNotFound(t *testing.T) {
	s := newTestStore(t)
	v := New(s, dedupe.NewChecker(s))

	_, err := v.Run(context.Background(), "cmp_missing")
	assert.Error(t, err)
}

func TestRunNoAdvertisers(t *testing.T) {
	s := newTestStore(t)
	c := seedCampaign(t, s, map[string]int{"US": 5}, []string{})
	v := New(s, dedupe.NewChecker(s))

	_, err := v.Run(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrNoAdvertisers)
}

func TestRunQuotaSplit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, map[string]int{"US": 2, "CA": 5}, []string{"adv_1"})

	enroll(t, s, c.ID, "us1@x.com", "US")
	enroll(t, s, c.ID, "us2@x.com", "US")
	enroll(t, s, c.ID, "us3@x.com", "US")
	enroll(t, s, c.ID, "ca1@x.com", "CA")
	enroll(t, s, c.ID, "ca2@x.com", "CA")

	v := New(s, dedupe.NewChecker(s))
	res, err := v.Run(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, res.TotalPending)
	assert.Equal(t, 4, res.WillSend)
	assert.Equal(t, 1, res.SkipGeoCap)
	assert.Zero(t, res.SkipDuplicate)

	// sorted by queued leads descending
	require.Len(t, res.Countries, 2)
	assert.Equal(t, "US", res.Countries[0].Country)
	assert.Equal(t, 3, res.Countries[0].Leads)
	assert.Equal(t, 2, res.Countries[0].WillSend)
	assert.Equal(t, 1, res.Countries[0].WillSkip)
	assert.Equal(t, "CA", res.Countries[1].Country)
	assert.Equal(t, 2, res.Countries[1].WillSend)
}

func TestRunCountsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, map[string]int{"US": 10}, []string{"adv_1", "adv_2"})

	enroll(t, s, c.ID, "dupe@x.com", "US")
	enroll(t, s, c.ID, "half@x.com", "US")
	enroll(t, s, c.ID, "fresh@x.com", "US")

	// dupe@x.com burned for both advertisers, half@x.com only for adv_1
	for _, advID := range []string{"adv_1", "adv_2"} {
		require.NoError(t, s.AppendLedger(ctx, &models.LedgerRecord{
			ID: models.NewID("led"), Email: "dupe@x.com", AdvertiserID: advID, SentAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, s.AppendLedger(ctx, &models.LedgerRecord{
		ID: models.NewID("led"), Email: "half@x.com", AdvertiserID: "adv_1", SentAt: time.Now().UTC(),
	}))

	v := New(s, dedupe.NewChecker(s))
	res, err := v.Run(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SkipDuplicate)
	assert.Equal(t, []string{"dupe@x.com"}, res.DuplicateSample)
	assert.Equal(t, 2, res.DuplicatesByAdvertiser["adv_1"])
	assert.Equal(t, 1, res.DuplicatesByAdvertiser["adv_2"])
	assert.Equal(t, 2, res.WillSend)
}

func TestRunSamplesRepeatedEmailOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, map[string]int{"US": 10}, []string{"adv_1"})

	// the same burned contact enrolled twice
	enroll(t, s, c.ID, "dupe@x.com", "US")
	enroll(t, s, c.ID, "dupe@x.com", "US")
	require.NoError(t, s.AppendLedger(ctx, &models.LedgerRecord{
		ID: models.NewID("led"), Email: "dupe@x.com", AdvertiserID: "adv_1", SentAt: time.Now().UTC(),
	}))

	v := New(s, dedupe.NewChecker(s))
	res, err := v.Run(ctx, c.ID)
	require.NoError(t, err)

	// both leads skip, but the sample lists the email once
	assert.Equal(t, 2, res.SkipDuplicate)
	assert.Equal(t, []string{"dupe@x.com"}, res.DuplicateSample)
	assert.Equal(t, 1, res.DuplicatesByAdvertiser["adv_1"])
}

func TestRunHonorsResumeBaseline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, map[string]int{"US": 1}, []string{"adv_1"})

	sent := enroll(t, s, c.ID, "sent@x.com", "US")
	enroll(t, s, c.ID, "queued@x.com", "US")
	require.NoError(t, s.MarkLeadSent(ctx, sent.ID, "", time.Now().UTC()))

	// before resume: the one US slot is used up
	v := New(s, dedupe.NewChecker(s))
	res, err := v.Run(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, res.WillSend)
	assert.Equal(t, 1, res.SkipGeoCap)

	// resume snapshots the baseline and re-opens the budget
	require.NoError(t, s.ActivateCampaign(ctx, c.ID, map[string]int{"US": 1}))
	res, err = v.Run(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WillSend)
	assert.Zero(t, res.SkipGeoCap)
}
