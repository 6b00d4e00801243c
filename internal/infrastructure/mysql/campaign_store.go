package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLCampaignStore persists each campaign as one JSON document row and is
// used in read-modify-persist cycles. When a persist asks for a broadcast, a
// campaign_updated change event goes out on the bus.
type MySQLCampaignStore struct {
	db        *sql.DB
	publisher domain.EventPublisher
	log       logger.Logger
}

func NewMySQLCampaignStore(db *sql.DB, publisher domain.EventPublisher, log logger.Logger) *MySQLCampaignStore {
	return &MySQLCampaignStore{db: db, publisher: publisher, log: log}
}

func (r *MySQLCampaignStore) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	query := `SELECT doc FROM campaigns WHERE id = ?`

	var doc []byte
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}

	var campaign domain.Campaign
	if err := json.Unmarshal(doc, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *MySQLCampaignStore) Persist(ctx context.Context, campaign *domain.Campaign, opts domain.PersistOptions) error {
	campaign.UpdatedAt = time.Now()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = campaign.UpdatedAt
	}

	doc, err := json.Marshal(campaign)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO campaigns (id, doc, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE doc = VALUES(doc), updated_at = VALUES(updated_at)
    `
	if _, err := r.db.ExecContext(ctx, query,
		campaign.ID, doc, campaign.CreatedAt, campaign.UpdatedAt); err != nil {
		return err
	}

	if opts.Broadcast && r.publisher != nil {
		if err := r.publisher.PublishChange(ctx, &domain.ChangeEvent{
			Type:       domain.ChangeCampaignUpdated,
			CampaignID: campaign.ID,
			Reason:     opts.Reason,
			Timestamp:  time.Now(),
		}); err != nil {
			r.log.Error("Failed to publish campaign change", "campaign_id", campaign.ID, "error", err)
		}
	}
	return nil
}

func (r *MySQLCampaignStore) DeleteCampaign(ctx context.Context, campaignID string) error {
	query := `DELETE FROM campaigns WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, campaignID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrCampaignNotFound
	}

	if r.publisher != nil {
		if err := r.publisher.PublishChange(ctx, &domain.ChangeEvent{
			Type:       domain.ChangeCampaignDeleted,
			CampaignID: campaignID,
			Timestamp:  time.Now(),
		}); err != nil {
			r.log.Error("Failed to publish campaign deletion", "campaign_id", campaignID, "error", err)
		}
	}
	return nil
}

func (r *MySQLCampaignStore) ListCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	query := `SELECT doc FROM campaigns`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var campaign domain.Campaign
		if err := json.Unmarshal(doc, &campaign); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, &campaign)
	}
	return campaigns, rows.Err()
}
