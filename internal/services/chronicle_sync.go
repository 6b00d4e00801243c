package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"

	"github.com/robfig/cron/v3"
)

// ChronicleSyncService keeps the cached view of the external narrative log in
// sync: a cron loop polls the source for every campaign with a configured
// story channel, refreshes the cache and publishes a change notification when
// the log moved. It doubles as the ChronicleAdapter surface the realtime core
// reads from.
type ChronicleSyncService struct {
	cron      *cron.Cron
	store     domain.CampaignStore
	source    domain.ChronicleSource
	cache     domain.ChronicleCache
	publisher domain.EventPublisher
	interval  time.Duration
	log       logger.Logger

	mu      sync.Mutex
	syncing map[string]bool
}

func NewChronicleSyncService(
	store domain.CampaignStore,
	source domain.ChronicleSource,
	cache domain.ChronicleCache,
	publisher domain.EventPublisher,
	interval time.Duration,
	log logger.Logger,
) *ChronicleSyncService {
	return &ChronicleSyncService{
		cron:      cron.New(cron.WithSeconds()),
		store:     store,
		source:    source,
		cache:     cache,
		publisher: publisher,
		interval:  interval,
		log:       log,
		syncing:   make(map[string]bool),
	}
}

func (s *ChronicleSyncService) Start(ctx context.Context) error {
	s.log.Info("Starting chronicle sync", "interval", s.interval)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.syncAll(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *ChronicleSyncService) Stop() error {
	s.log.Info("Stopping chronicle sync")
	s.cron.Stop()
	return nil
}

func (s *ChronicleSyncService) syncAll(ctx context.Context) {
	campaigns, err := s.store.ListCampaigns(ctx)
	if err != nil {
		s.log.Error("Failed to list campaigns for sync", "error", err)
		return
	}

	for _, campaign := range campaigns {
		if campaign.Story.ChannelID == "" {
			continue
		}
		if err := s.syncCampaign(ctx, campaign); err != nil {
			s.log.Error("Chronicle sync failed", "campaign_id", campaign.ID, "error", err)
		}
	}
}

func (s *ChronicleSyncService) syncCampaign(ctx context.Context, campaign *domain.Campaign) error {
	// Skip overlapping syncs of the same campaign.
	s.mu.Lock()
	if s.syncing[campaign.ID] {
		s.mu.Unlock()
		return nil
	}
	s.syncing[campaign.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.syncing, campaign.ID)
		s.mu.Unlock()
	}()

	status := &domain.ChronicleStatus{
		CampaignID:   campaign.ID,
		Linked:       true,
		LastSyncedAt: time.Now(),
	}

	messages, err := s.source.FetchMessages(ctx, campaign.Story.ChannelID)
	if err != nil {
		status.LastError = err.Error()
		if cacheErr := s.cache.StoreStatus(ctx, status); cacheErr != nil {
			s.log.Error("Failed to store chronicle status", "campaign_id", campaign.ID, "error", cacheErr)
		}
		return err
	}
	status.MessageCount = len(messages)

	changed := s.detectChange(ctx, campaign.ID, messages)

	if err := s.cache.StoreMessages(ctx, campaign.ID, messages); err != nil {
		return err
	}
	if err := s.cache.StoreStatus(ctx, status); err != nil {
		return err
	}

	if changed {
		s.log.Info("Chronicle changed", "campaign_id", campaign.ID, "messages", len(messages))
		if err := s.publisher.PublishChange(ctx, &domain.ChangeEvent{
			Type:       domain.ChangeChronicle,
			CampaignID: campaign.ID,
			Timestamp:  time.Now(),
		}); err != nil {
			s.log.Error("Failed to publish chronicle change", "campaign_id", campaign.ID, "error", err)
		}
	}
	return nil
}

// detectChange compares the fresh fetch against the cached view by count and
// last message id.
func (s *ChronicleSyncService) detectChange(ctx context.Context, campaignID string, fresh []domain.ChronicleMessage) bool {
	cached, err := s.cache.GetMessages(ctx, campaignID)
	if err != nil {
		return true
	}
	if len(cached) != len(fresh) {
		return true
	}
	if len(fresh) == 0 {
		return false
	}
	return cached[len(cached)-1].ID != fresh[len(fresh)-1].ID
}

// Status implements domain.ChronicleAdapter.
func (s *ChronicleSyncService) Status(ctx context.Context, campaignID string) (*domain.ChronicleStatus, error) {
	status, err := s.cache.GetStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return &domain.ChronicleStatus{CampaignID: campaignID, Linked: false}, nil
	}
	return status, nil
}

// Messages implements domain.ChronicleAdapter.
func (s *ChronicleSyncService) Messages(ctx context.Context, campaignID string) ([]domain.ChronicleMessage, error) {
	return s.cache.GetMessages(ctx, campaignID)
}

// ForceSync implements domain.ChronicleAdapter: one immediate fetch+store.
func (s *ChronicleSyncService) ForceSync(ctx context.Context, campaignID string) error {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Story.ChannelID == "" {
		return fmt.Errorf("%w: campaign has no narrative log configured", domain.ErrInvalidState)
	}
	return s.syncCampaign(ctx, campaign)
}
