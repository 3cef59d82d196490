package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mkarpis/leadpipe/internal/models"
)

// --- Campaigns ---

const campaignColumns = `id, name, pool_id, advertiser_ids, status, geo_caps, geo_caps_baseline,
	min_delay_seconds, max_delay_seconds, noise, window_start, window_end, weekdays,
	sent_count, failed_count, skipped_count, total_count, next_scheduled_at, created_at, updated_at`

func (s *SQLiteStorage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	advs, err := json.Marshal(c.AdvertiserIDs)
	if err != nil {
		return err
	}
	caps, err := json.Marshal(c.GeoCaps)
	if err != nil {
		return err
	}
	baseline, err := json.Marshal(c.GeoCapsBaseline)
	if err != nil {
		return err
	}
	days, err := json.Marshal(c.Weekdays)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, pool_id, advertiser_ids, status, geo_caps, geo_caps_baseline,
			min_delay_seconds, max_delay_seconds, noise, window_start, window_end, weekdays,
			sent_count, failed_count, skipped_count, total_count, next_scheduled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, NULL, ?, ?)`,
		c.ID, c.Name, c.PoolID, string(advs), c.Status, string(caps), string(baseline),
		c.MinDelaySeconds, c.MaxDelaySeconds, c.Noise, c.WindowStart, c.WindowEnd, string(days),
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	var c models.Campaign
	var advs, caps, baseline, days string
	err := row.Scan(&c.ID, &c.Name, &c.PoolID, &advs, &c.Status, &caps, &baseline,
		&c.MinDelaySeconds, &c.MaxDelaySeconds, &c.Noise, &c.WindowStart, &c.WindowEnd, &days,
		&c.SentCount, &c.FailedCount, &c.SkippedCount, &c.TotalCount,
		&c.NextScheduledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(advs), &c.AdvertiserIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &c.GeoCaps); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(baseline), &c.GeoCapsBaseline); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(days), &c.Weekdays); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStorage) listCampaigns(ctx context.Context, query string, args ...any) ([]models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

func (s *SQLiteStorage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	return s.listCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
}

func (s *SQLiteStorage) ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error) {
	return s.listCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ? ORDER BY created_at`, status)
}

func (s *SQLiteStorage) UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s not found", id)
	}
	return nil
}

func (s *SQLiteStorage) ActivateCampaign(ctx context.Context, id string, baseline map[string]int) error {
	b, err := json.Marshal(baseline)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, geo_caps_baseline = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		models.CampaignRunning, string(b), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s not found", id)
	}
	return nil
}

func (s *SQLiteStorage) UpdateCampaignNextScheduled(ctx context.Context, id string, at *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET next_scheduled_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	return err
}

func (s *SQLiteStorage) IncrementCampaignCounter(ctx context.Context, id string, status models.LeadStatus) error {
	var column string
	switch status {
	case models.LeadSent:
		column = "sent_count"
	case models.LeadFailed:
		column = "failed_count"
	case models.LeadSkipped:
		column = "skipped_count"
	default:
		return fmt.Errorf("no campaign counter for lead status %q", status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET `+column+` = `+column+` + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) AddCampaignTotal(ctx context.Context, id string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET total_count = total_count + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, n, id)
	return err
}

// --- Campaign leads ---

const leadColumns = `id, campaign_id, entry_id, advertiser_id, email, first_name, last_name, phone,
	country, ip, offer, status, position, scheduled_at, sent_at, response, last_error, created_at, updated_at`

func (s *SQLiteStorage) CreateCampaignLead(ctx context.Context, l *models.CampaignLead) error {
	// position is assigned by the insert so enrollment order is fixed by
	// the database, not the caller
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign_leads (id, campaign_id, entry_id, advertiser_id, email, first_name, last_name,
			phone, country, ip, offer, status, position, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM campaign_leads WHERE campaign_id = ?), ?, ?)`,
		l.ID, l.CampaignID, l.EntryID, l.AdvertiserID, strings.ToLower(l.Email), l.FirstName, l.LastName,
		l.Phone, strings.ToUpper(l.Country), l.IP, l.Offer, l.Status, l.CampaignID, l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func scanCampaignLead(row interface{ Scan(...any) error }) (*models.CampaignLead, error) {
	var l models.CampaignLead
	err := row.Scan(&l.ID, &l.CampaignID, &l.EntryID, &l.AdvertiserID, &l.Email, &l.FirstName,
		&l.LastName, &l.Phone, &l.Country, &l.IP, &l.Offer, &l.Status, &l.Position,
		&l.ScheduledAt, &l.SentAt, &l.Response, &l.LastError, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStorage) GetCampaignLead(ctx context.Context, id string) (*models.CampaignLead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM campaign_leads WHERE id = ?`, id)
	l, err := scanCampaignLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *SQLiteStorage) listLeads(ctx context.Context, query string, args ...any) ([]models.CampaignLead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []models.CampaignLead
	for rows.Next() {
		l, err := scanCampaignLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

func (s *SQLiteStorage) ListCampaignLeads(ctx context.Context, campaignID string, limit, offset int) ([]models.CampaignLead, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.listLeads(ctx,
		`SELECT `+leadColumns+` FROM campaign_leads WHERE campaign_id = ? ORDER BY position LIMIT ? OFFSET ?`,
		campaignID, limit, offset)
}

func (s *SQLiteStorage) PendingLeads(ctx context.Context, campaignID string, limit int) ([]models.CampaignLead, error) {
	query := `SELECT ` + leadColumns + ` FROM campaign_leads WHERE campaign_id = ? AND status = 'pending' ORDER BY position`
	args := []any{campaignID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.listLeads(ctx, query, args...)
}

func (s *SQLiteStorage) EnrolledEntryIDs(ctx context.Context, campaignID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id FROM campaign_leads WHERE campaign_id = ? AND entry_id IS NOT NULL`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) countByCountry(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var country string
		var n int
		if err := rows.Scan(&country, &n); err != nil {
			return nil, err
		}
		counts[country] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStorage) EnrolledCountByCountry(ctx context.Context, campaignID string) (map[string]int, error) {
	return s.countByCountry(ctx,
		`SELECT country, COUNT(*) FROM campaign_leads WHERE campaign_id = ? GROUP BY country`, campaignID)
}

func (s *SQLiteStorage) SentCountByCountry(ctx context.Context, campaignID string) (map[string]int, error) {
	return s.countByCountry(ctx,
		`SELECT country, COUNT(*) FROM campaign_leads WHERE campaign_id = ? AND status = 'sent' GROUP BY country`,
		campaignID)
}

func (s *SQLiteStorage) PendingCountByCountry(ctx context.Context, campaignID string) (map[string]int, error) {
	return s.countByCountry(ctx,
		`SELECT country, COUNT(*) FROM campaign_leads WHERE campaign_id = ? AND status = 'pending' GROUP BY country`,
		campaignID)
}

func (s *SQLiteStorage) UpdateLeadStatus(ctx context.Context, id string, status models.LeadStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

func (s *SQLiteStorage) UpdateLeadScheduled(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET status = ?, scheduled_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		models.LeadScheduled, at, id)
	return err
}

func (s *SQLiteStorage) ResetInFlightLeads(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET status = 'pending', scheduled_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE campaign_id = ? AND status IN ('scheduled', 'sending')`, campaignID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStorage) UpdateLeadAdvertiser(ctx context.Context, id, advertiserID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET advertiser_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		advertiserID, id)
	return err
}

func (s *SQLiteStorage) MarkLeadSent(ctx context.Context, id, response string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET status = ?, sent_at = ?, response = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		models.LeadSent, at, response, id)
	return err
}

func (s *SQLiteStorage) MarkLeadFailed(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		models.LeadFailed, lastError, id)
	return err
}

func (s *SQLiteStorage) MarkLeadSkipped(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		models.LeadSkipped, reason, id)
	return err
}

func (s *SQLiteStorage) CampaignLeadStats(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_leads WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		"pending": 0, "scheduled": 0, "sending": 0,
		"sent": 0, "failed": 0, "skipped": 0, "total": 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
		stats["total"] += n
	}
	return stats, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	queries := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM lead_pools`, &st.TotalPools},
		{`SELECT COUNT(*) FROM pool_entries WHERE hidden = 0`, &st.TotalEntries},
		{`SELECT COUNT(*) FROM campaigns`, &st.TotalCampaigns},
		{`SELECT COUNT(*) FROM campaigns WHERE status = 'running'`, &st.RunningCount},
		{`SELECT COUNT(*) FROM ledger`, &st.LedgerCount},
		{`SELECT COUNT(*) FROM campaign_leads WHERE status = 'sent'`, &st.SentCount},
		{`SELECT COUNT(*) FROM campaign_leads WHERE status = 'failed'`, &st.FailedCount},
		{`SELECT COUNT(*) FROM campaign_leads WHERE status = 'skipped'`, &st.SkippedCount},
		{`SELECT COUNT(*) FROM advertisers`, &st.TotalAdvertisers},
		{`SELECT COUNT(*) FROM advertisers WHERE active = 1`, &st.ActiveAdvertisers},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	if attempted := st.SentCount + st.FailedCount; attempted > 0 {
		st.DeliveryRate = float64(st.SentCount) / float64(attempted)
	}
	return &st, nil
}
