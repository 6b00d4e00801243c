package domain

import (
	"encoding/json"
	"fmt"
)

// Inbound socket message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"

	MsgTradeStart     = "trade.start"
	MsgTradeRespond   = "trade.respond"
	MsgTradeUpdate    = "trade.update"
	MsgTradeConfirm   = "trade.confirm"
	MsgTradeUnconfirm = "trade.unconfirm"
	MsgTradeCancel    = "trade.cancel"

	MsgImpersonationRequest = "story.impersonation.request"
	MsgImpersonationRespond = "story.impersonation.respond"

	MsgPing = "ping"
)

// ClientMessage is a decoded, validated inbound socket message.
type ClientMessage interface {
	clientMessage()
}

type SubscribeMessage struct {
	Channel    ChannelKind
	CampaignID string
}

type UnsubscribeMessage struct {
	Channel    ChannelKind
	CampaignID string
}

type TradeStartMessage struct {
	CampaignID string
	PartnerID  string
	Note       string
}

type TradeRespondMessage struct {
	TradeID string
	Accept  bool
}

type TradeUpdateMessage struct {
	TradeID string
	Items   []OfferEntry
}

type TradeConfirmMessage struct{ TradeID string }

type TradeUnconfirmMessage struct{ TradeID string }

type TradeCancelMessage struct{ TradeID string }

type ImpersonationRequestMessage struct {
	CampaignID   string
	TargetUserID string
	Content      string
	Nonce        string
}

type ImpersonationRespondMessage struct {
	RequestID string
	Approve   bool
}

type PingMessage struct{}

func (SubscribeMessage) clientMessage()            {}
func (UnsubscribeMessage) clientMessage()          {}
func (TradeStartMessage) clientMessage()           {}
func (TradeRespondMessage) clientMessage()         {}
func (TradeUpdateMessage) clientMessage()          {}
func (TradeConfirmMessage) clientMessage()         {}
func (TradeUnconfirmMessage) clientMessage()       {}
func (TradeCancelMessage) clientMessage()          {}
func (ImpersonationRequestMessage) clientMessage() {}
func (ImpersonationRespondMessage) clientMessage() {}
func (PingMessage) clientMessage()                 {}

// messageEnvelope is the loose wire shape; DecodeClientMessage narrows it to a
// typed message and rejects anything malformed before it reaches the services.
type messageEnvelope struct {
	Type         string       `json:"type"`
	Channel      ChannelKind  `json:"channel"`
	CampaignID   string       `json:"campaignId"`
	PartnerID    string       `json:"partnerId"`
	Note         string       `json:"note"`
	TradeID      string       `json:"tradeId"`
	Accept       *bool        `json:"accept"`
	Items        []OfferEntry `json:"items"`
	TargetUserID string       `json:"targetUserId"`
	Content      string       `json:"content"`
	Nonce        string       `json:"nonce"`
	RequestID    string       `json:"requestId"`
	Approve      *bool        `json:"approve"`
}

func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch env.Type {
	case MsgSubscribe, MsgUnsubscribe:
		if !env.Channel.Valid() {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidPayload, env.Channel)
		}
		if env.CampaignID == "" {
			return nil, fmt.Errorf("%w: campaignId required", ErrInvalidPayload)
		}
		if env.Type == MsgSubscribe {
			return SubscribeMessage{Channel: env.Channel, CampaignID: env.CampaignID}, nil
		}
		return UnsubscribeMessage{Channel: env.Channel, CampaignID: env.CampaignID}, nil

	case MsgTradeStart:
		if env.CampaignID == "" || env.PartnerID == "" {
			return nil, fmt.Errorf("%w: campaignId and partnerId required", ErrInvalidPayload)
		}
		return TradeStartMessage{CampaignID: env.CampaignID, PartnerID: env.PartnerID, Note: env.Note}, nil

	case MsgTradeRespond:
		if env.TradeID == "" {
			return nil, fmt.Errorf("%w: tradeId required", ErrInvalidPayload)
		}
		if env.Accept == nil {
			return nil, fmt.Errorf("%w: accept required", ErrInvalidPayload)
		}
		return TradeRespondMessage{TradeID: env.TradeID, Accept: *env.Accept}, nil

	case MsgTradeUpdate:
		if env.TradeID == "" {
			return nil, fmt.Errorf("%w: tradeId required", ErrInvalidPayload)
		}
		if env.Items == nil {
			return nil, fmt.Errorf("%w: items required", ErrInvalidPayload)
		}
		return TradeUpdateMessage{TradeID: env.TradeID, Items: env.Items}, nil

	case MsgTradeConfirm, MsgTradeUnconfirm, MsgTradeCancel:
		if env.TradeID == "" {
			return nil, fmt.Errorf("%w: tradeId required", ErrInvalidPayload)
		}
		switch env.Type {
		case MsgTradeConfirm:
			return TradeConfirmMessage{TradeID: env.TradeID}, nil
		case MsgTradeUnconfirm:
			return TradeUnconfirmMessage{TradeID: env.TradeID}, nil
		default:
			return TradeCancelMessage{TradeID: env.TradeID}, nil
		}

	case MsgImpersonationRequest:
		if env.CampaignID == "" || env.TargetUserID == "" {
			return nil, fmt.Errorf("%w: campaignId and targetUserId required", ErrInvalidPayload)
		}
		return ImpersonationRequestMessage{
			CampaignID:   env.CampaignID,
			TargetUserID: env.TargetUserID,
			Content:      env.Content,
			Nonce:        env.Nonce,
		}, nil

	case MsgImpersonationRespond:
		if env.RequestID == "" {
			return nil, fmt.Errorf("%w: requestId required", ErrInvalidPayload)
		}
		if env.Approve == nil {
			return nil, fmt.Errorf("%w: approve required", ErrInvalidPayload)
		}
		return ImpersonationRespondMessage{RequestID: env.RequestID, Approve: *env.Approve}, nil

	case MsgPing:
		return PingMessage{}, nil

	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidPayload, env.Type)
	}
}
