package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mkarpis/leadpipe/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS lead_pools (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pool_entries (
			id TEXT PRIMARY KEY,
			pool_id TEXT NOT NULL REFERENCES lead_pools(id) ON DELETE CASCADE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			offer TEXT NOT NULL DEFAULT '',
			custom_fields TEXT NOT NULL DEFAULT '{}',
			source TEXT NOT NULL DEFAULT 'import',
			source_date DATETIME NOT NULL,
			hidden INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS advertisers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ledger (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			advertiser_id TEXT NOT NULL,
			campaign_id TEXT,
			sent_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// legacy per-campaign delivery log, written by the pre-ledger
		// injection path; read-only here
		`CREATE TABLE IF NOT EXISTS campaign_log (
			id TEXT PRIMARY KEY,
			campaign_id TEXT,
			advertiser_id TEXT NOT NULL,
			email TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// live-traffic delivery log, written by the real-time
		// distribution path; read-only here
		`CREATE TABLE IF NOT EXISTS traffic_log (
			id TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL REFERENCES contacts(id),
			advertiser_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			pool_id TEXT NOT NULL REFERENCES lead_pools(id),
			advertiser_ids TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'draft',
			geo_caps TEXT NOT NULL DEFAULT '{}',
			geo_caps_baseline TEXT NOT NULL DEFAULT '{}',
			min_delay_seconds INTEGER NOT NULL DEFAULT 30,
			max_delay_seconds INTEGER NOT NULL DEFAULT 180,
			noise TEXT NOT NULL DEFAULT 'medium',
			window_start TEXT NOT NULL DEFAULT '',
			window_end TEXT NOT NULL DEFAULT '',
			weekdays TEXT NOT NULL DEFAULT '[]',
			sent_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			skipped_count INTEGER NOT NULL DEFAULT 0,
			total_count INTEGER NOT NULL DEFAULT 0,
			next_scheduled_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS campaign_leads (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			entry_id TEXT,
			advertiser_id TEXT NOT NULL,
			email TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			offer TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			position INTEGER NOT NULL,
			scheduled_at DATETIME,
			sent_at DATETIME,
			response TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_entries_pool ON pool_entries(pool_id, hidden)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_entries_email ON pool_entries(email)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_pair ON ledger(email, advertiser_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_log_lookup ON campaign_log(email, advertiser_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_traffic_log_lookup ON traffic_log(contact_id, advertiser_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_campaign ON campaign_leads(campaign_id, status, position)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_enrollment ON campaign_leads(campaign_id, entry_id) WHERE entry_id IS NOT NULL`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Lead pools ---

func (s *SQLiteStorage) CreatePool(ctx context.Context, p *models.LeadPool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_pools (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetPool(ctx context.Context, id string) (*models.LeadPool, error) {
	var p models.LeadPool
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM lead_pools WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &p, err
}

func (s *SQLiteStorage) ListPools(ctx context.Context) ([]models.LeadPool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM lead_pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []models.LeadPool
	for rows.Next() {
		var p models.LeadPool
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *SQLiteStorage) CreatePoolEntry(ctx context.Context, e *models.LeadPoolEntry) error {
	fields, err := json.Marshal(e.CustomFields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pool_entries (id, pool_id, first_name, last_name, email, phone, country, ip, offer, custom_fields, source, source_date, hidden, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PoolID, e.FirstName, e.LastName, strings.ToLower(e.Email), e.Phone,
		strings.ToUpper(e.Country), e.IP, e.Offer, string(fields), e.Source,
		e.SourceDate, e.Hidden, e.CreatedAt,
	)
	return err
}

const poolEntryColumns = `id, pool_id, first_name, last_name, email, phone, country, ip, offer, custom_fields, source, source_date, hidden, created_at`

func scanPoolEntry(row interface{ Scan(...any) error }) (*models.LeadPoolEntry, error) {
	var e models.LeadPoolEntry
	var fields string
	err := row.Scan(&e.ID, &e.PoolID, &e.FirstName, &e.LastName, &e.Email, &e.Phone,
		&e.Country, &e.IP, &e.Offer, &fields, &e.Source, &e.SourceDate, &e.Hidden, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &e.CustomFields); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStorage) GetPoolEntry(ctx context.Context, id string) (*models.LeadPoolEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+poolEntryColumns+` FROM pool_entries WHERE id = ?`, id)
	e, err := scanPoolEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStorage) ListPoolEntries(ctx context.Context, poolID string, f models.SourceFilter) ([]models.LeadPoolEntry, error) {
	query := `SELECT ` + poolEntryColumns + ` FROM pool_entries WHERE pool_id = ? AND hidden = 0`
	args := []any{poolID}

	if len(f.Countries) > 0 {
		query += ` AND country IN (?` + strings.Repeat(",?", len(f.Countries)-1) + `)`
		for _, c := range f.Countries {
			args = append(args, strings.ToUpper(c))
		}
	}
	if len(f.Sources) > 0 {
		query += ` AND source IN (?` + strings.Repeat(",?", len(f.Sources)-1) + `)`
		for _, src := range f.Sources {
			args = append(args, src)
		}
	}
	if f.From != nil {
		query += ` AND source_date >= ?`
		args = append(args, *f.From)
	}
	if f.To != nil {
		query += ` AND source_date <= ?`
		args = append(args, *f.To)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LeadPoolEntry
	for rows.Next() {
		e, err := scanPoolEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) CountPoolEntries(ctx context.Context, poolID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pool_entries WHERE pool_id = ? AND hidden = 0`, poolID).Scan(&n)
	return n, err
}

func (s *SQLiteStorage) HidePoolEntry(ctx context.Context, id string, hidden bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pool_entries SET hidden = ? WHERE id = ?`, hidden, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pool entry %s not found", id)
	}
	return nil
}

// --- Advertisers ---

func (s *SQLiteStorage) CreateAdvertiser(ctx context.Context, a *models.Advertiser) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO advertisers (id, name, url, secret, metadata, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.URL, a.Secret, string(meta), a.Active, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetAdvertiser(ctx context.Context, id string) (*models.Advertiser, error) {
	var a models.Advertiser
	var meta string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, secret, metadata, active, created_at FROM advertisers WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.URL, &a.Secret, &meta, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStorage) ListAdvertisers(ctx context.Context) ([]models.Advertiser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, secret, metadata, active, created_at FROM advertisers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var advs []models.Advertiser
	for rows.Next() {
		var a models.Advertiser
		var meta string
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.Secret, &meta, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, err
		}
		advs = append(advs, a)
	}
	return advs, rows.Err()
}

func (s *SQLiteStorage) ToggleAdvertiser(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE advertisers SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("advertiser %s not found", id)
	}
	return nil
}

// --- Duplicate ledger and legacy sources ---

func (s *SQLiteStorage) AppendLedger(ctx context.Context, rec *models.LedgerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger (id, email, advertiser_id, campaign_id, sent_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, strings.ToLower(rec.Email), rec.AdvertiserID, rec.CampaignID, rec.SentAt,
	)
	return err
}

func (s *SQLiteStorage) LedgerHas(ctx context.Context, email, advertiserID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger WHERE email = ? AND advertiser_id = ?`,
		strings.ToLower(email), advertiserID).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStorage) GetLedgerRecord(ctx context.Context, email, advertiserID string) (*models.LedgerRecord, error) {
	var rec models.LedgerRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, advertiser_id, campaign_id, sent_at FROM ledger WHERE email = ? AND advertiser_id = ?`,
		strings.ToLower(email), advertiserID,
	).Scan(&rec.ID, &rec.Email, &rec.AdvertiserID, &rec.CampaignID, &rec.SentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &rec, err
}

func (s *SQLiteStorage) CampaignLogHas(ctx context.Context, email, advertiserID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_log
		 WHERE email = ? AND advertiser_id = ? AND status IN ('sent', 'failed', 'skipped')`,
		strings.ToLower(email), advertiserID).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStorage) TrafficLogHas(ctx context.Context, email, advertiserID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM traffic_log t
		 JOIN contacts c ON c.id = t.contact_id
		 WHERE c.email = ? AND t.advertiser_id = ? AND t.status = 'sent'`,
		strings.ToLower(email), advertiserID).Scan(&n)
	return n > 0, err
}

// Backfill helpers for the two read-only sources. The engine never calls
// these at runtime; they exist for migration tooling and tests.

func (s *SQLiteStorage) CreateContact(ctx context.Context, c *models.Contact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, email, created_at) VALUES (?, ?, ?)`,
		c.ID, strings.ToLower(c.Email), c.CreatedAt)
	return err
}

func (s *SQLiteStorage) BackfillCampaignLog(ctx context.Context, campaignID, advertiserID, email, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign_log (id, campaign_id, advertiser_id, email, status) VALUES (?, ?, ?, ?, ?)`,
		models.NewID("clog"), campaignID, advertiserID, strings.ToLower(email), status)
	return err
}

func (s *SQLiteStorage) BackfillTrafficLog(ctx context.Context, contactID, advertiserID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traffic_log (id, contact_id, advertiser_id, status) VALUES (?, ?, ?, ?)`,
		models.NewID("tlog"), contactID, advertiserID, status)
	return err
}

var _ Storage = (*SQLiteStorage)(nil)
