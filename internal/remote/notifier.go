package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
)

// NotificationSyncRequired asks the client to drain its queue because
// server-side state changed.
const NotificationSyncRequired = "sync_required"

// Notification is one push frame from the backend.
type Notification struct {
	Type    string          `json:"type"`
	Domains []models.Domain `json:"domains,omitempty"`
}

// Notifier listens for server push notifications over WebSocket.
type Notifier struct {
	url    string
	token  string
	logger *events.Logger

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Channels
	notices chan Notification
	done    chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewNotifier creates a push notification listener. baseURL is the
// HTTP API base; the scheme is rewritten for WebSocket.
func NewNotifier(baseURL, token string, logger *events.Logger) *Notifier {
	wsURL := strings.TrimRight(baseURL, "/") + "/v1/sync/notify"
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:] // http(s) -> ws(s)
	}

	return &Notifier{
		url:          wsURL,
		token:        token,
		logger:       logger.WithField("component", "notifier"),
		notices:      make(chan Notification, 100),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect establishes the WebSocket connection and starts the read and
// ping loops.
func (n *Notifier) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		return fmt.Errorf("already connected")
	}
	if n.closed {
		return fmt.Errorf("notifier closed")
	}

	n.logger.WithField("url", n.url).Info("Connecting notifier")

	headers := http.Header{}
	if n.token != "" {
		headers.Set("Authorization", "Bearer "+n.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, n.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("notifier connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("notifier connect failed: %w", err)
	}

	n.conn = conn

	go n.readLoop()
	go n.pingLoop()

	n.logger.Info("Notifier connected")
	return nil
}

// Notifications returns the push notification channel. It is closed
// when the connection ends.
func (n *Notifier) Notifications() <-chan Notification {
	return n.notices
}

// Close shuts the connection down.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	n.closed = true
	close(n.done)

	if n.conn != nil {
		_ = n.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		err := n.conn.Close()
		n.conn = nil
		return err
	}

	return nil
}

// readLoop reads push frames until the connection ends.
func (n *Notifier) readLoop() {
	defer func() {
		_ = n.Close()
		close(n.notices)
	}()

	for {
		n.mu.Lock()
		conn := n.conn
		n.mu.Unlock()

		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(n.pongTimeout + n.pingInterval))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(n.pongTimeout + n.pingInterval))
			return nil
		})

		var notice Notification
		if err := conn.ReadJSON(&notice); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				n.logger.WithError(err).Error("Notifier read error")
			}
			return
		}

		n.logger.WithFields(map[string]interface{}{
			"type":    notice.Type,
			"domains": notice.Domains,
		}).Debug("Received notification")

		select {
		case n.notices <- notice:
		case <-n.done:
			return
		}
	}
}

// pingLoop sends periodic pings.
func (n *Notifier) pingLoop() {
	ticker := time.NewTicker(n.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.mu.Lock()
			conn := n.conn
			n.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				n.logger.WithError(err).Error("Notifier ping failed")
				return
			}

		case <-n.done:
			return
		}
	}
}
