package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/delivery"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/quota"
	"github.com/mkarpis/leadpipe/internal/storage"
)

// Manager owns one resident Runner goroutine per running campaign.
// Campaigns share no mutable state with each other; within a campaign the
// single runner goroutine is the only writer, which linearizes lead
// selection, counter updates and ledger appends.
type Manager struct {
	store         storage.Storage
	sender        *delivery.Sender
	dupes         *dedupe.Checker
	advisoryEvery time.Duration
	log           zerolog.Logger

	mu      sync.Mutex
	runners map[string]*Runner
	wg      sync.WaitGroup
}

func NewManager(store storage.Storage, sender *delivery.Sender, dupes *dedupe.Checker, advisoryEvery time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		store:         store,
		sender:        sender,
		dupes:         dupes,
		advisoryEvery: advisoryEvery,
		log:           log,
		runners:       make(map[string]*Runner),
	}
}

// Restore resumes runners for campaigns that were running when the
// process last stopped. Leads left in scheduled or sending belong to
// runners that no longer exist, so they go back to pending before the
// new runner starts selecting.
func (m *Manager) Restore(ctx context.Context) error {
	campaigns, err := m.store.ListCampaignsByStatus(ctx, models.CampaignRunning)
	if err != nil {
		return fmt.Errorf("failed to list running campaigns: %w", err)
	}
	for _, c := range campaigns {
		n, err := m.store.ResetInFlightLeads(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to reset in-flight leads for campaign %s: %w", c.ID, err)
		}
		if n > 0 {
			m.log.Info().Str("campaign_id", c.ID).Int("leads", n).Msg("returned interrupted leads to the queue")
		}
		m.spawn(c.ID)
		m.log.Info().Str("campaign_id", c.ID).Msg("restored running campaign")
	}
	return nil
}

// Start transitions a draft or paused campaign into running. The
// per-country sent counts are snapshotted as the quota baseline in the
// same statement as the status change, so each resume authorizes a fresh
// quota segment exactly once.
func (m *Manager) Start(ctx context.Context, campaignID string) error {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", campaignID)
	}
	switch c.Status {
	case models.CampaignDraft, models.CampaignPaused:
	case models.CampaignRunning:
		return fmt.Errorf("campaign %s is already running", campaignID)
	default:
		return fmt.Errorf("campaign %s cannot start from status %s", campaignID, c.Status)
	}

	sent, err := m.store.SentCountByCountry(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := m.store.ActivateCampaign(ctx, campaignID, quota.SnapshotBaseline(sent)); err != nil {
		return err
	}

	m.spawn(campaignID)
	m.log.Info().Str("campaign_id", campaignID).Msg("campaign started")
	return nil
}

// Pause asks the campaign's runner to stop before its next lead
// selection. An in-flight delivery is allowed to resolve first.
func (m *Manager) Pause(ctx context.Context, campaignID string) error {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", campaignID)
	}
	if c.Status != models.CampaignRunning {
		return fmt.Errorf("campaign %s is not running", campaignID)
	}

	if err := m.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignPaused); err != nil {
		return err
	}
	m.stopRunner(campaignID)
	m.log.Info().Str("campaign_id", campaignID).Msg("campaign paused")
	return nil
}

// Cancel stops a campaign for good. Cooperative: already-sent leads and
// ledger entries are not rolled back.
func (m *Manager) Cancel(ctx context.Context, campaignID string) error {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", campaignID)
	}
	switch c.Status {
	case models.CampaignDraft, models.CampaignRunning, models.CampaignPaused:
	default:
		return fmt.Errorf("campaign %s cannot be cancelled from status %s", campaignID, c.Status)
	}

	if err := m.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignCancelled); err != nil {
		return err
	}
	m.stopRunner(campaignID)
	m.log.Info().Str("campaign_id", campaignID).Msg("campaign cancelled")
	return nil
}

// Stop shuts down all runners and waits for them to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, r := range m.runners {
		r.requestStop()
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.log.Info().Msg("campaign runners stopped")
}

func (m *Manager) spawn(campaignID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runners[campaignID]; exists {
		return
	}

	r := newRunner(campaignID, m.store, m.sender, m.dupes, m.advisoryEvery,
		m.log.With().Str("campaign_id", campaignID).Logger())
	m.runners[campaignID] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// request contexts must not govern the runner's lifetime;
		// the stop channel does
		r.run(context.Background())
		m.mu.Lock()
		delete(m.runners, campaignID)
		m.mu.Unlock()
	}()
}

func (m *Manager) stopRunner(campaignID string) {
	m.mu.Lock()
	r, ok := m.runners[campaignID]
	m.mu.Unlock()
	if ok {
		r.requestStop()
		<-r.done
	}
}
