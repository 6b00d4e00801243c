package websocket

import (
	"context"
	"errors"
	"net/http"

	"campaign-session/internal/domain"
	"campaign-session/internal/services"
	"campaign-session/pkg/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// WebSocketHandler upgrades connections and dispatches inbound messages to
// the realtime registry.
type WebSocketHandler struct {
	registry    *services.Registry
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(registry *services.Registry, connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry:    registry,
		connManager: connManager,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// The authentication layer in front of us resolves the session and passes
	// the user id along at upgrade time; it is trusted from here on.
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewSessionConnection(conn, userID, h.log)
	h.connManager.AddConnection(userID, wsConn)

	go h.handleMessages(wsConn)
}

func (h *WebSocketHandler) handleMessages(conn *SessionConnection) {
	defer func() {
		h.registry.HandleDisconnect(conn)
		conn.Close()
	}()

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Error("Failed to read message", "user_id", conn.UserID(), "error", err)
			}
			break
		}
		h.dispatch(conn, data)
	}
}

// dispatch routes one inbound message. A malformed or invalid message is
// answered with an error event; it must never take the connection down.
func (h *WebSocketHandler) dispatch(conn *SessionConnection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Panic in message handler", "user_id", conn.UserID(), "panic", r)
			conn.Send(domain.ErrorEvent{Type: domain.EventError, Code: "internal", Message: "internal error"})
		}
	}()

	msg, err := domain.DecodeClientMessage(data)
	if err != nil {
		conn.Send(domain.ErrorEvent{
			Type:    domain.EventError,
			Code:    domain.ErrorCode(err),
			Message: err.Error(),
		})
		return
	}

	ctx := context.Background()
	userID := conn.UserID()

	switch m := msg.(type) {
	case domain.SubscribeMessage:
		h.registry.Subscribe(conn, m.Channel, m.CampaignID)

	case domain.UnsubscribeMessage:
		h.registry.Unsubscribe(conn, m.Channel, m.CampaignID)

	case domain.TradeStartMessage:
		_, err := h.registry.Trades.Start(ctx, userID, m.CampaignID, m.PartnerID, m.Note)
		h.replyTradeError(conn, "", err)

	case domain.TradeRespondMessage:
		h.replyTradeError(conn, m.TradeID, h.registry.Trades.Respond(ctx, userID, m.TradeID, m.Accept))

	case domain.TradeUpdateMessage:
		h.replyTradeError(conn, m.TradeID, h.registry.Trades.UpdateOffer(ctx, userID, m.TradeID, m.Items))

	case domain.TradeConfirmMessage:
		h.replyTradeError(conn, m.TradeID, h.registry.Trades.Confirm(ctx, userID, m.TradeID))

	case domain.TradeUnconfirmMessage:
		h.replyTradeError(conn, m.TradeID, h.registry.Trades.Unconfirm(ctx, userID, m.TradeID))

	case domain.TradeCancelMessage:
		h.replyTradeError(conn, m.TradeID, h.registry.Trades.Cancel(ctx, userID, m.TradeID))

	case domain.ImpersonationRequestMessage:
		if _, err := h.registry.Impersonations.Request(ctx, userID, m); err != nil {
			conn.Send(domain.ImpersonationStatusEvent{
				Type:   domain.EventImpersonationStatus,
				Status: domain.ImpersonationError,
				Reason: err.Error(),
				Nonce:  m.Nonce,
			})
		}

	case domain.ImpersonationRespondMessage:
		if err := h.registry.Impersonations.Respond(ctx, userID, m.RequestID, m.Approve); err != nil {
			conn.Send(domain.ErrorEvent{
				Type:    domain.EventError,
				Code:    domain.ErrorCode(err),
				Message: err.Error(),
			})
		}

	case domain.PingMessage:
		conn.Send(domain.PongEvent{Type: domain.EventPong})

	default:
		conn.Send(domain.ErrorEvent{Type: domain.EventError, Code: "invalid_payload", Message: "unhandled message"})
	}
}

func (h *WebSocketHandler) replyTradeError(conn *SessionConnection, tradeID string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrInvalidState) {
		h.log.Debug("Trade action rejected", "user_id", conn.UserID(), "trade_id", tradeID, "error", err)
	}
	conn.Send(domain.TradeErrorEvent{
		Type:    domain.EventTradeError,
		TradeID: tradeID,
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
	})
}
