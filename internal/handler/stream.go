package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/ticker"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// StreamHandler upgrades ticker subscriptions to WebSocket connections and
// runs one ticker.Session per connection.
type StreamHandler struct {
	registry *ticker.Registry
	interval time.Duration
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewStreamHandler creates a new StreamHandler. allowedOrigins limits
// browser origins; "*" allows any. Requests without an Origin header are
// always accepted.
func NewStreamHandler(registry *ticker.Registry, interval time.Duration, allowedOrigins []string, m *metrics.Metrics, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		registry: registry,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		metrics: m,
		logger:  logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.ToLower(strings.TrimRight(origin, "/"))]
	}
}

// snapshotMessage is the JSON frame pushed to subscribers.
type snapshotMessage struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Volume        int64   `json:"volume"`
	ChangePercent float64 `json:"change_percent"`
}

// wsSink writes snapshots to a WebSocket connection. Only the session
// goroutine calls Send, so writes are never concurrent.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(_ context.Context, snap ticker.Snapshot) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(snapshotMessage{
		Symbol:        snap.Symbol,
		Price:         domain.PriceToFloat(snap.Price),
		Volume:        snap.Volume,
		ChangePercent: domain.PriceToFloat(snap.ChangePercent),
	})
}

// Stream handles GET /ws/{ticker}.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	symbol, err := domain.NormalizeSymbol(chi.URLParam(r, "ticker"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go readUntilClosed(conn, cancel)
	go keepAlive(ctx, conn)

	session := ticker.NewSession(h.registry, strings.ToLower(symbol), h.interval, h.logger, h.metrics)
	_ = session.Run(ctx, &wsSink{conn: conn})

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readUntilClosed drains client frames so control messages are processed
// and cancels the session once the client goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// keepAlive pings the client until ctx is done. WriteControl is safe to
// call alongside the session's writes.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
