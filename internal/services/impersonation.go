package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"
	"campaign-session/pkg/utils"
)

type ImpersonationConfig struct {
	Timeout          time.Duration
	MaxContentLength int
}

func DefaultImpersonationConfig() ImpersonationConfig {
	return ImpersonationConfig{
		Timeout:          120 * time.Second,
		MaxContentLength: 2000,
	}
}

// impersonationRequest is one pending consent request. Display names are
// cached at request time so the prompt text stays stable; the posting identity
// is re-resolved at approval time instead.
type impersonationRequest struct {
	id         string
	scribeID   string
	targetID   string
	campaignID string
	channelID  string
	content    string
	nonce      string
	scribeName string
	targetName string
	createdAt  time.Time
	expiresAt  time.Time
	timer      *time.Timer
}

// ImpersonationWorkflow runs the request/approval protocol that lets an
// authorized scribe post narrative content under another player's identity.
type ImpersonationWorkflow struct {
	store     domain.CampaignStore
	hub       domain.ConnectionManager
	narrative domain.NarrativeDispatcher
	chronicle domain.ChronicleAdapter
	story     *StoryBroadcaster
	cfg       ImpersonationConfig
	log       logger.Logger

	mu       sync.Mutex
	requests map[string]*impersonationRequest
}

func NewImpersonationWorkflow(
	store domain.CampaignStore,
	hub domain.ConnectionManager,
	narrative domain.NarrativeDispatcher,
	chronicle domain.ChronicleAdapter,
	story *StoryBroadcaster,
	cfg ImpersonationConfig,
	log logger.Logger,
) *ImpersonationWorkflow {
	return &ImpersonationWorkflow{
		store:     store,
		hub:       hub,
		narrative: narrative,
		chronicle: chronicle,
		story:     story,
		cfg:       cfg,
		log:       log,
		requests:  make(map[string]*impersonationRequest),
	}
}

// Request validates and opens a pending impersonation request, acknowledging
// the scribe and prompting the target. Returns the new request id.
func (w *ImpersonationWorkflow) Request(ctx context.Context, scribeID string, msg domain.ImpersonationRequestMessage) (string, error) {
	campaign, err := w.store.GetCampaign(ctx, msg.CampaignID)
	if err != nil {
		return "", err
	}

	scribe, ok := campaign.Member(scribeID)
	if !ok || !campaign.IsScribe(scribeID) {
		return "", fmt.Errorf("%w: not authorized to write for other players", domain.ErrForbidden)
	}

	target, ok := campaign.Member(msg.TargetUserID)
	if !ok {
		return "", fmt.Errorf("%w: target is not a campaign member", domain.ErrInvalidPayload)
	}
	if target.Role == domain.RoleDM {
		return "", fmt.Errorf("%w: cannot impersonate the DM", domain.ErrInvalidPayload)
	}
	if target.UserID == scribeID {
		return "", fmt.Errorf("%w: cannot impersonate yourself", domain.ErrInvalidPayload)
	}

	if campaign.Story.ChannelID == "" {
		return "", fmt.Errorf("%w: campaign has no narrative log configured", domain.ErrInvalidState)
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", fmt.Errorf("%w: content must not be empty", domain.ErrInvalidPayload)
	}
	if len(content) > w.cfg.MaxContentLength {
		content = content[:w.cfg.MaxContentLength]
	}

	now := time.Now()
	request := &impersonationRequest{
		id:         utils.GenerateID("persona"),
		scribeID:   scribeID,
		targetID:   target.UserID,
		campaignID: campaign.ID,
		channelID:  campaign.Story.ChannelID,
		content:    content,
		nonce:      msg.Nonce,
		scribeName: scribe.DisplayName,
		targetName: target.Persona().DisplayName,
		createdAt:  now,
		expiresAt:  now.Add(w.cfg.Timeout),
	}

	w.mu.Lock()
	w.requests[request.id] = request
	requestID := request.id
	request.timer = time.AfterFunc(w.cfg.Timeout, func() {
		w.expire(requestID)
	})
	w.mu.Unlock()

	w.log.Info("Impersonation requested", "request_id", request.id,
		"campaign_id", campaign.ID, "scribe", scribeID, "target", target.UserID)

	w.hub.NotifyUser(scribeID, domain.ImpersonationStatusEvent{
		Type:      domain.EventImpersonationStatus,
		RequestID: request.id,
		Status:    domain.ImpersonationPending,
		Nonce:     request.nonce,
	})
	w.hub.NotifyUser(target.UserID, domain.ImpersonationPromptEvent{
		Type:       domain.EventImpersonationPrompt,
		RequestID:  request.id,
		CampaignID: campaign.ID,
		ScribeName: request.scribeName,
		TargetName: request.targetName,
		Content:    request.content,
		ExpiresAt:  request.expiresAt,
	})
	return request.id, nil
}

// Respond resolves a pending request. Only the exact target may respond; the
// request leaves the pending set before any notification or dispatch, so a
// duplicate response is rejected as not found rather than double-resolving.
func (w *ImpersonationWorkflow) Respond(ctx context.Context, actorID, requestID string, approve bool) error {
	w.mu.Lock()
	request, ok := w.requests[requestID]
	if !ok {
		w.mu.Unlock()
		return domain.ErrRequestNotFound
	}
	if actorID != request.targetID {
		w.mu.Unlock()
		return fmt.Errorf("%w: only the impersonated player can respond", domain.ErrForbidden)
	}
	w.takeLocked(request)
	w.mu.Unlock()

	if !approve {
		w.log.Info("Impersonation denied", "request_id", request.id)
		w.resolve(request, domain.ImpersonationDenied, "")
		return nil
	}

	// Re-resolve the current display identity; a character name may have
	// changed since the prompt was issued.
	campaign, err := w.store.GetCampaign(ctx, request.campaignID)
	if err != nil {
		w.resolve(request, domain.ImpersonationError, "campaign unavailable")
		return nil
	}
	target, ok := campaign.Member(request.targetID)
	if !ok {
		w.resolve(request, domain.ImpersonationError, "target left the campaign")
		return nil
	}

	if err := w.narrative.Post(ctx, request.channelID, target.Persona(), request.content); err != nil {
		w.log.Error("Narrative dispatch failed", "request_id", request.id, "error", err)
		w.resolve(request, domain.ImpersonationError, err.Error())
		return nil
	}

	if err := w.chronicle.ForceSync(ctx, request.campaignID); err != nil {
		// The post landed; a failed reconciliation only delays the story view.
		w.log.Error("Forced reconciliation failed", "request_id", request.id, "error", err)
	}
	w.story.Queue(request.campaignID, true)

	w.log.Info("Impersonation approved", "request_id", request.id)
	w.resolve(request, domain.ImpersonationApproved, "")
	return nil
}

// Shutdown clears every pending timer and drops all requests.
func (w *ImpersonationWorkflow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, request := range w.requests {
		if request.timer != nil {
			request.timer.Stop()
			request.timer = nil
		}
		delete(w.requests, id)
	}
}

// takeLocked removes the request from the pending set and clears its timer.
// Caller holds w.mu.
func (w *ImpersonationWorkflow) takeLocked(request *impersonationRequest) {
	if request.timer != nil {
		request.timer.Stop()
		request.timer = nil
	}
	delete(w.requests, request.id)
}

func (w *ImpersonationWorkflow) expire(requestID string) {
	w.mu.Lock()
	request, ok := w.requests[requestID]
	if !ok {
		w.mu.Unlock()
		return
	}
	w.takeLocked(request)
	w.mu.Unlock()

	w.log.Info("Impersonation expired", "request_id", request.id)
	w.resolve(request, domain.ImpersonationExpired, "")
}

// resolve notifies both parties of the terminal status.
func (w *ImpersonationWorkflow) resolve(request *impersonationRequest, status domain.ImpersonationStatus, reason string) {
	event := domain.ImpersonationStatusEvent{
		Type:      domain.EventImpersonationStatus,
		RequestID: request.id,
		Status:    status,
		Reason:    reason,
		Nonce:     request.nonce,
	}
	w.hub.NotifyUser(request.scribeID, event)
	w.hub.NotifyUser(request.targetID, event)
}
