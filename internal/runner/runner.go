package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkarpis/leadpipe/internal/advisory"
	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/delivery"
	"github.com/mkarpis/leadpipe/internal/metrics"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/quota"
	"github.com/mkarpis/leadpipe/internal/schedule"
	"github.com/mkarpis/leadpipe/internal/storage"
)

// retryPause is how long the loop backs off after a storage error before
// trying the next iteration.
const retryPause = 5 * time.Second

// Runner drives one campaign: one iteration per lead attempt. It gates on
// the working window, picks the next pending lead with quota capacity,
// paces it with a jittered delay, delivers, and records the outcome.
// A failure on one lead never halts the loop for the rest.
type Runner struct {
	campaignID    string
	store         storage.Storage
	sender        *delivery.Sender
	dupes         *dedupe.Checker
	advisoryEvery time.Duration
	log           zerolog.Logger
	rng           *rand.Rand

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newRunner(campaignID string, store storage.Storage, sender *delivery.Sender, dupes *dedupe.Checker, advisoryEvery time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		campaignID:    campaignID,
		store:         store,
		sender:        sender,
		dupes:         dupes,
		advisoryEvery: advisoryEvery,
		log:           log,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *Runner) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Runner) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.advisoryLoop(actx)

	for {
		if r.stopped() {
			return
		}

		c, err := r.store.GetCampaign(ctx, r.campaignID)
		if err != nil {
			r.log.Error().Err(err).Msg("failed to load campaign")
			if !r.sleepUntil(time.Now().Add(retryPause)) {
				return
			}
			continue
		}
		if c == nil || c.Status != models.CampaignRunning {
			return
		}

		now := time.Now().UTC()

		// gate on the working window before touching any lead
		if !schedule.AllowedDay(now, c.Weekdays) || !schedule.WithinWindow(now, c.WindowStart, c.WindowEnd) {
			next := schedule.NextWindowStart(now, c.WindowStart, c.Weekdays)
			if err := r.store.UpdateCampaignNextScheduled(ctx, c.ID, &next); err != nil {
				r.log.Error().Err(err).Msg("failed to persist next window start")
			}
			r.log.Info().Time("next_window", next).Msg("outside working window, suspending")
			if !r.sleepUntil(next) {
				return
			}
			continue
		}

		lead, err := r.nextEligible(ctx, c)
		if err != nil {
			r.log.Error().Err(err).Msg("failed to select next lead")
			if !r.sleepUntil(time.Now().Add(retryPause)) {
				return
			}
			continue
		}
		if lead == nil {
			r.complete(ctx)
			return
		}

		delay := schedule.PacingDelay(r.rng, c.MinDelaySeconds, c.MaxDelaySeconds, c.Noise)
		at := now.Add(delay)
		if !schedule.AllowedDay(at, c.Weekdays) || !schedule.WithinWindow(at, c.WindowStart, c.WindowEnd) {
			// the jittered instant fell past the window edge; push it
			// to the next opening
			at = schedule.NextWindowStart(at, c.WindowStart, c.Weekdays)
		}

		if err := r.store.UpdateLeadScheduled(ctx, lead.ID, at); err != nil {
			r.log.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to schedule lead")
			continue
		}
		if err := r.store.UpdateCampaignNextScheduled(ctx, c.ID, &at); err != nil {
			r.log.Error().Err(err).Msg("failed to persist next_scheduled_at")
		}

		r.log.Debug().
			Str("lead_id", lead.ID).
			Time("scheduled_at", at).
			Dur("delay", delay).
			Msg("lead scheduled")

		if !r.sleepUntil(at) {
			// paused or shut down while waiting; the lead has not been
			// attempted, put it back in the queue
			if err := r.store.UpdateLeadStatus(context.Background(), lead.ID, models.LeadPending); err != nil {
				r.log.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to roll back scheduled lead")
			}
			return
		}

		r.send(ctx, c, lead)
	}
}

// nextEligible returns the first pending lead, in enrollment order, whose
// country still has capacity in the current run segment. Leads in
// countries without a cap or past their cap are left pending and
// invisible to progress.
func (r *Runner) nextEligible(ctx context.Context, c *models.Campaign) (*models.CampaignLead, error) {
	pending, err := r.store.PendingLeads(ctx, c.ID, 0)
	if err != nil {
		return nil, err
	}
	sent, err := r.store.SentCountByCountry(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		if quota.Remaining(c.GeoCaps, c.GeoCapsBaseline, sent, pending[i].Country) > 0 {
			return &pending[i], nil
		}
	}
	return nil, nil
}

func (r *Runner) send(ctx context.Context, c *models.Campaign, lead *models.CampaignLead) {
	if err := r.store.UpdateLeadStatus(ctx, lead.ID, models.LeadSending); err != nil {
		r.log.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to mark lead sending")
		return
	}

	// the ledger may have changed since enrollment; re-check and
	// re-route to a still-fresh advertiser, or skip
	dup, err := r.dupes.IsDuplicate(ctx, lead.Email, lead.AdvertiserID)
	if err != nil {
		r.rollback(lead.ID, err)
		return
	}
	if dup {
		fresh, ok, err := r.dupes.FreshAdvertiser(ctx, lead.Email, c.AdvertiserIDs)
		if err != nil {
			r.rollback(lead.ID, err)
			return
		}
		if !ok {
			r.skip(ctx, c, lead, "duplicate for all advertisers")
			return
		}
		lead.AdvertiserID = fresh
		if err := r.store.UpdateLeadAdvertiser(ctx, lead.ID, fresh); err != nil {
			r.rollback(lead.ID, err)
			return
		}
		r.log.Info().Str("lead_id", lead.ID).Str("advertiser_id", fresh).Msg("re-routed to fresh advertiser")
	}

	// capacity may have drained between selection and send; a negative
	// margin here aborts this attempt only
	sent, err := r.store.SentCountByCountry(ctx, c.ID)
	if err != nil {
		r.rollback(lead.ID, err)
		return
	}
	if quota.Remaining(c.GeoCaps, c.GeoCapsBaseline, sent, lead.Country) <= 0 {
		r.skip(ctx, c, lead, "country quota exhausted")
		return
	}

	adv, err := r.store.GetAdvertiser(ctx, lead.AdvertiserID)
	if err != nil {
		r.rollback(lead.ID, err)
		return
	}
	if adv == nil || !adv.Active {
		r.skip(ctx, c, lead, "advertiser inactive")
		return
	}

	res := r.sender.Deliver(ctx, lead, adv)

	if !res.Accepted {
		if err := r.store.MarkLeadFailed(ctx, lead.ID, res.Error); err != nil {
			r.log.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to record delivery failure")
		}
		if err := r.store.IncrementCampaignCounter(ctx, c.ID, models.LeadFailed); err != nil {
			r.log.Error().Err(err).Msg("failed to bump failed counter")
		}
		metrics.LeadsFailed.WithLabelValues(c.ID).Inc()
		r.log.Warn().
			Str("lead_id", lead.ID).
			Str("advertiser_id", lead.AdvertiserID).
			Int("status_code", res.StatusCode).
			Str("error", res.Error).
			Msg("delivery rejected")
		return
	}

	now := time.Now().UTC()
	if err := r.store.MarkLeadSent(ctx, lead.ID, res.RawResponse, now); err != nil {
		r.log.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to record sent lead")
	}
	campaignID := c.ID
	if err := r.store.AppendLedger(ctx, &models.LedgerRecord{
		ID:           models.NewID("led"),
		Email:        lead.Email,
		AdvertiserID: lead.AdvertiserID,
		CampaignID:   &campaignID,
		SentAt:       now,
	}); err != nil {
		r.log.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to append ledger record")
	}
	if err := r.store.IncrementCampaignCounter(ctx, c.ID, models.LeadSent); err != nil {
		r.log.Error().Err(err).Msg("failed to bump sent counter")
	}
	metrics.LeadsSent.WithLabelValues(c.ID).Inc()
	r.log.Info().
		Str("lead_id", lead.ID).
		Str("advertiser_id", lead.AdvertiserID).
		Str("country", lead.Country).
		Int64("latency_ms", res.LatencyMs).
		Msg("lead delivered")
}

func (r *Runner) skip(ctx context.Context, c *models.Campaign, lead *models.CampaignLead, reason string) {
	if err := r.store.MarkLeadSkipped(ctx, lead.ID, reason); err != nil {
		r.log.Error().Err(err).Str("lead_id", lead.ID).Msg("failed to mark lead skipped")
		return
	}
	if err := r.store.IncrementCampaignCounter(ctx, c.ID, models.LeadSkipped); err != nil {
		r.log.Error().Err(err).Msg("failed to bump skipped counter")
	}
	metrics.LeadsSkipped.WithLabelValues(c.ID).Inc()
	r.log.Info().Str("lead_id", lead.ID).Str("reason", reason).Msg("lead skipped")
}

// rollback returns a lead to pending after a pre-delivery error so it is
// never left stuck in sending.
func (r *Runner) rollback(leadID string, cause error) {
	r.log.Error().Err(cause).Str("lead_id", leadID).Msg("send aborted, returning lead to queue")
	if err := r.store.UpdateLeadStatus(context.Background(), leadID, models.LeadPending); err != nil {
		r.log.Error().Err(err).Str("lead_id", leadID).Msg("failed to roll back lead")
	}
}

func (r *Runner) complete(ctx context.Context) {
	if err := r.store.UpdateCampaignStatus(ctx, r.campaignID, models.CampaignCompleted); err != nil {
		r.log.Error().Err(err).Msg("failed to mark campaign completed")
		return
	}
	if err := r.store.UpdateCampaignNextScheduled(ctx, r.campaignID, nil); err != nil {
		r.log.Error().Err(err).Msg("failed to clear next_scheduled_at")
	}
	r.log.Info().Msg("campaign completed")
}

// advisoryLoop recomputes the throughput projection on a fixed cadence,
// off the write path.
func (r *Runner) advisoryLoop(ctx context.Context) {
	if r.advisoryEvery <= 0 {
		return
	}
	ticker := time.NewTicker(r.advisoryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			c, err := r.store.GetCampaign(ctx, r.campaignID)
			if err != nil || c == nil || c.Status != models.CampaignRunning {
				continue
			}
			remaining, err := advisory.RemainingEligible(ctx, r.store, c)
			if err != nil {
				r.log.Error().Err(err).Msg("failed to compute remaining eligible leads")
				continue
			}
			p := advisory.Compute(c, remaining, time.Now().UTC())
			metrics.RequiredRate.WithLabelValues(c.ID).Set(p.RequiredPerHour)
			r.log.Info().
				Int("remaining_leads", p.RemainingLeads).
				Float64("required_per_hour", p.RequiredPerHour).
				Float64("actual_per_hour", p.ActualPerHour).
				Bool("completes_today", p.CompletesToday).
				Msg("progress advisory")
		}
	}
}

// sleepUntil blocks until t or until the runner is asked to stop.
func (r *Runner) sleepUntil(t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.stop:
		return false
	}
}
