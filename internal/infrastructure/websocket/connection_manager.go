package websocket

import (
	"sync"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"

	"github.com/gorilla/websocket"
)

type channelKey struct {
	kind       domain.ChannelKind
	campaignID string
}

// ConnectionManager owns the live sockets per user and the per-(kind, campaign)
// subscriber sets used for channel broadcasts.
type ConnectionManager struct {
	userConns map[string][]domain.Conn
	channels  map[channelKey]map[domain.Conn]struct{}
	subs      map[domain.Conn]map[channelKey]struct{}
	mutex     sync.RWMutex
	log       logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		userConns: make(map[string][]domain.Conn),
		channels:  make(map[channelKey]map[domain.Conn]struct{}),
		subs:      make(map[domain.Conn]map[channelKey]struct{}),
		log:       log,
	}
}

func (cm *ConnectionManager) AddConnection(userID string, conn domain.Conn) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.userConns[userID] = append(cm.userConns[userID], conn)
	cm.log.Info("Connection registered", "user_id", userID)
}

// RemoveConnection drops the socket from the user set and from every channel it
// is still subscribed to, returning those channels so the caller can unwind
// presence contributions. Unknown sockets are a no-op.
func (cm *ConnectionManager) RemoveConnection(userID string, conn domain.Conn) []domain.ChannelRef {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if conns, exists := cm.userConns[userID]; exists {
		var remaining []domain.Conn
		for _, existing := range conns {
			if existing != conn {
				remaining = append(remaining, existing)
			}
		}
		if len(remaining) == 0 {
			delete(cm.userConns, userID)
		} else {
			cm.userConns[userID] = remaining
		}
	}

	var removed []domain.ChannelRef
	for key := range cm.subs[conn] {
		cm.dropSubscriber(conn, key)
		removed = append(removed, domain.ChannelRef{Kind: key.kind, CampaignID: key.campaignID})
	}
	delete(cm.subs, conn)

	cm.log.Info("Connection unregistered", "user_id", userID, "channels", len(removed))
	return removed
}

// Join subscribes the socket to the (kind, campaign) channel. Re-joining an
// already-subscribed pair is a no-op; the return value reports whether the
// subscription is new.
func (cm *ConnectionManager) Join(conn domain.Conn, kind domain.ChannelKind, campaignID string) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	key := channelKey{kind: kind, campaignID: campaignID}
	if _, already := cm.subs[conn][key]; already {
		return false
	}

	if cm.channels[key] == nil {
		cm.channels[key] = make(map[domain.Conn]struct{})
	}
	cm.channels[key][conn] = struct{}{}

	if cm.subs[conn] == nil {
		cm.subs[conn] = make(map[channelKey]struct{})
	}
	cm.subs[conn][key] = struct{}{}

	return true
}

func (cm *ConnectionManager) Leave(conn domain.Conn, kind domain.ChannelKind, campaignID string) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	key := channelKey{kind: kind, campaignID: campaignID}
	if _, subscribed := cm.subs[conn][key]; !subscribed {
		return false
	}

	cm.dropSubscriber(conn, key)
	delete(cm.subs[conn], key)
	if len(cm.subs[conn]) == 0 {
		delete(cm.subs, conn)
	}
	return true
}

// dropSubscriber removes the socket from one channel set, pruning the set when
// it empties. Caller holds the lock.
func (cm *ConnectionManager) dropSubscriber(conn domain.Conn, key channelKey) {
	if set, exists := cm.channels[key]; exists {
		delete(set, conn)
		if len(set) == 0 {
			delete(cm.channels, key)
		}
	}
}

func (cm *ConnectionManager) Subscribed(conn domain.Conn, kind domain.ChannelKind, campaignID string) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	_, ok := cm.subs[conn][channelKey{kind: kind, campaignID: campaignID}]
	return ok
}

func (cm *ConnectionManager) Broadcast(kind domain.ChannelKind, campaignID string, event interface{}) {
	cm.mutex.RLock()
	var conns []domain.Conn
	for conn := range cm.channels[channelKey{kind: kind, campaignID: campaignID}] {
		conns = append(conns, conn)
	}
	cm.mutex.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(event); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(), "error", err)
			// Continue to other connections
		}
	}
}

func (cm *ConnectionManager) NotifyUser(userID string, event interface{}) {
	cm.NotifyUserWhere(userID, event, nil)
}

// NotifyUserWhere delivers to every live socket of the user, optionally
// filtered by a predicate over the socket (e.g. trade notifications scoped to
// sockets subscribed to the trade's campaign channel).
func (cm *ConnectionManager) NotifyUserWhere(userID string, event interface{}, pred func(domain.Conn) bool) {
	cm.mutex.RLock()
	conns := append([]domain.Conn(nil), cm.userConns[userID]...)
	cm.mutex.RUnlock()

	for _, conn := range conns {
		if pred != nil && !pred(conn) {
			continue
		}
		if err := conn.Send(event); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
		}
	}
}

// SessionConnection wraps a gorilla websocket connection. Writes are
// serialized; gorilla allows only one concurrent writer.
type SessionConnection struct {
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex
	log     logger.Logger
}

func NewSessionConnection(conn *websocket.Conn, userID string, log logger.Logger) *SessionConnection {
	return &SessionConnection{
		conn:   conn,
		userID: userID,
		log:    log,
	}
}

func (sc *SessionConnection) Send(message interface{}) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.conn.WriteJSON(message)
}

func (sc *SessionConnection) Close() error {
	return sc.conn.Close()
}

func (sc *SessionConnection) UserID() string {
	return sc.userID
}
