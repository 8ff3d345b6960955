package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/logger"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 20 * time.Second
	writeWait      = 10 * time.Second
	tickTTL        = 30 * time.Second
)

// Stream keeps a live ticker cache fed by the Bybit public stream.
// ⭐ SSOT: WebSocket 시세 구독은 이 스트림에서만.
// REST 폴링의 보조 캐시로만 쓰이고, 신뢰 원천은 여전히 REST ticker다.
type Stream struct {
	cfg    config.BybitConfig
	logger *logger.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	symbols  map[string]bool
	ticks    map[string]tick
	symbolMu sync.RWMutex

	stopCh chan struct{}
	doneCh chan struct{}
}

type tick struct {
	price float64
	at    time.Time
}

// NewStream creates a ticker stream client
func NewStream(cfg config.BybitConfig, log *logger.Logger) *Stream {
	return &Stream{
		cfg:     cfg,
		logger:  log,
		symbols: make(map[string]bool),
		ticks:   make(map[string]tick),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start connects and begins the read/ping loops
func (s *Stream) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return fmt.Errorf("initial connection failed: %w", err)
	}

	go s.readLoop(ctx)
	go s.pingLoop()

	s.logger.Info("Bybit ticker stream started")
	return nil
}

// Stop terminates the stream
func (s *Stream) Stop() {
	close(s.stopCh)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	<-s.doneCh
	s.logger.Info("Bybit ticker stream stopped")
}

// Subscribe adds a symbol to the ticker subscription
func (s *Stream) Subscribe(symbol string) error {
	s.symbolMu.Lock()
	if s.symbols[symbol] {
		s.symbolMu.Unlock()
		return nil
	}
	s.symbols[symbol] = true
	s.symbolMu.Unlock()

	return s.send(subscribeMessage{
		Op:   "subscribe",
		Args: []string{"tickers." + symbol},
	})
}

// Unsubscribe removes a symbol from the subscription and drops its tick
func (s *Stream) Unsubscribe(symbol string) error {
	s.symbolMu.Lock()
	delete(s.symbols, symbol)
	delete(s.ticks, symbol)
	s.symbolMu.Unlock()

	return s.send(subscribeMessage{
		Op:   "unsubscribe",
		Args: []string{"tickers." + symbol},
	})
}

// LastPrice returns the cached last price if it is fresh enough
func (s *Stream) LastPrice(symbol string) (float64, bool) {
	s.symbolMu.RLock()
	defer s.symbolMu.RUnlock()

	t, ok := s.ticks[symbol]
	if !ok || time.Since(t.at) > tickTTL {
		return 0, false
	}
	return t.price, true
}

type subscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type streamMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string  `json:"symbol"`
		LastPrice numeric `json:"lastPrice"`
	} `json:"data"`
}

func (s *Stream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// resubscribe replays all subscriptions after a reconnect
func (s *Stream) resubscribe() error {
	s.symbolMu.RLock()
	topics := lo.Map(lo.Keys(s.symbols), func(sym string, _ int) string {
		return "tickers." + sym
	})
	s.symbolMu.RUnlock()

	if len(topics) == 0 {
		return nil
	}
	return s.send(subscribeMessage{Op: "subscribe", Args: topics})
}

func (s *Stream) send(msg any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}

			s.logger.WithError(err).Warn("Stream read failed, reconnecting")
			s.reconnect(ctx)
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		if msg.Data.Symbol == "" {
			continue // op acks, pongs
		}

		price := msg.Data.LastPrice.Float64()
		if price <= 0 {
			continue
		}

		s.symbolMu.Lock()
		s.ticks[msg.Data.Symbol] = tick{price: price, at: time.Now()}
		s.symbolMu.Unlock()
	}
}

func (s *Stream) reconnect(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-time.After(reconnectDelay):
		}

		if err := s.connect(ctx); err != nil {
			s.logger.WithError(err).Warn("Stream reconnect failed")
			continue
		}

		if err := s.resubscribe(); err != nil {
			s.logger.WithError(err).Warn("Stream resubscribe failed")
			continue
		}

		s.logger.Info("Stream reconnected")
		return
	}
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.send(map[string]string{"op": "ping"}); err != nil {
				s.logger.WithError(err).Debug("Stream ping failed")
			}
		}
	}
}
