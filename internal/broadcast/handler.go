package broadcast

import (
	"net/http"
	"time"

	"pricefeed/internal/exchange"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

// Handler upgrades requests to websockets and streams every hub update to
// the client, optionally narrowed by ?pair= and ?exchange=.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type clientFilter struct {
	pair     string
	exchange exchange.ExchangeID
}

func (f clientFilter) match(u exchange.PriceUpdate) bool {
	if f.pair != "" && f.pair != u.Pair {
		return false
	}
	if f.exchange != "" && f.exchange != u.Exchange {
		return false
	}
	return true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter clientFilter
	if p := r.URL.Query().Get("pair"); p != "" {
		pair, err := exchange.Normalize(p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.pair = pair
	}
	filter.exchange = exchange.ParseExchangeID(r.URL.Query().Get("exchange"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade: %v", err)
		return
	}

	sub := h.hub.Subscribe()
	logger := log.WithFields(log.Fields{"subscriber": sub.ID, "remote": conn.RemoteAddr().String()})
	logger.Info("client connected")

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, sub, filter, done)

	sub.Close()
	logger.Infof("client disconnected, dropped %d updates", sub.Dropped())
}

// readPump discards client frames and keeps the read deadline moving with
// pongs. It closes done when the client goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debugf("websocket read: %v", err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscription, filter clientFilter, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case update := <-sub.Updates():
			if !filter.match(update) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
