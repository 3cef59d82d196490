package storage

import (
	"context"
	"time"

	"github.com/mkarpis/leadpipe/internal/models"
)

type Storage interface {
	// Lead pools
	CreatePool(ctx context.Context, p *models.LeadPool) error
	GetPool(ctx context.Context, id string) (*models.LeadPool, error)
	ListPools(ctx context.Context) ([]models.LeadPool, error)
	CreatePoolEntry(ctx context.Context, e *models.LeadPoolEntry) error
	GetPoolEntry(ctx context.Context, id string) (*models.LeadPoolEntry, error)
	ListPoolEntries(ctx context.Context, poolID string, f models.SourceFilter) ([]models.LeadPoolEntry, error)
	CountPoolEntries(ctx context.Context, poolID string) (int, error)
	HidePoolEntry(ctx context.Context, id string, hidden bool) error

	// Advertisers
	CreateAdvertiser(ctx context.Context, a *models.Advertiser) error
	GetAdvertiser(ctx context.Context, id string) (*models.Advertiser, error)
	ListAdvertisers(ctx context.Context) ([]models.Advertiser, error)
	ToggleAdvertiser(ctx context.Context, id string, active bool) error

	// Duplicate ledger plus the two legacy lookup sources. The ledger is
	// the only one of the three this engine writes to.
	AppendLedger(ctx context.Context, rec *models.LedgerRecord) error
	LedgerHas(ctx context.Context, email, advertiserID string) (bool, error)
	GetLedgerRecord(ctx context.Context, email, advertiserID string) (*models.LedgerRecord, error)
	CampaignLogHas(ctx context.Context, email, advertiserID string) (bool, error)
	TrafficLogHas(ctx context.Context, email, advertiserID string) (bool, error)

	// Campaigns
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error
	// ActivateCampaign sets status to running and rewrites the quota
	// baseline in a single statement (the snapshot must be atomic with
	// the transition).
	ActivateCampaign(ctx context.Context, id string, baseline map[string]int) error
	UpdateCampaignNextScheduled(ctx context.Context, id string, at *time.Time) error
	IncrementCampaignCounter(ctx context.Context, id string, status models.LeadStatus) error
	AddCampaignTotal(ctx context.Context, id string, n int) error

	// Campaign leads
	CreateCampaignLead(ctx context.Context, l *models.CampaignLead) error
	GetCampaignLead(ctx context.Context, id string) (*models.CampaignLead, error)
	ListCampaignLeads(ctx context.Context, campaignID string, limit, offset int) ([]models.CampaignLead, error)
	PendingLeads(ctx context.Context, campaignID string, limit int) ([]models.CampaignLead, error)
	EnrolledEntryIDs(ctx context.Context, campaignID string) (map[string]bool, error)
	EnrolledCountByCountry(ctx context.Context, campaignID string) (map[string]int, error)
	SentCountByCountry(ctx context.Context, campaignID string) (map[string]int, error)
	PendingCountByCountry(ctx context.Context, campaignID string) (map[string]int, error)
	UpdateLeadStatus(ctx context.Context, id string, status models.LeadStatus) error
	// ResetInFlightLeads returns leads stuck in scheduled or sending to
	// pending. Called on restart; without a live runner driving them
	// those states mean the attempt was interrupted, not resolved.
	ResetInFlightLeads(ctx context.Context, campaignID string) (int, error)
	UpdateLeadScheduled(ctx context.Context, id string, at time.Time) error
	UpdateLeadAdvertiser(ctx context.Context, id, advertiserID string) error
	MarkLeadSent(ctx context.Context, id, response string, at time.Time) error
	MarkLeadFailed(ctx context.Context, id, lastError string) error
	MarkLeadSkipped(ctx context.Context, id, reason string) error
	CampaignLeadStats(ctx context.Context, campaignID string) (map[string]int, error)

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalPools        int64   `json:"total_pools"`
	TotalEntries      int64   `json:"total_entries"`
	TotalCampaigns    int64   `json:"total_campaigns"`
	RunningCount      int64   `json:"running_count"`
	LedgerCount       int64   `json:"ledger_count"`
	SentCount         int64   `json:"sent_count"`
	FailedCount       int64   `json:"failed_count"`
	SkippedCount      int64   `json:"skipped_count"`
	DeliveryRate      float64 `json:"delivery_rate"`
	TotalAdvertisers  int64   `json:"total_advertisers"`
	ActiveAdvertisers int64   `json:"active_advertisers"`
}
