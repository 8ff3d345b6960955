package bybit

import (
	"context"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/logger"
)

// LiveGateway layers the websocket ticker cache over the REST client.
// 시세 조회는 스트림 캐시 우선, 나머지는 전부 REST.
type LiveGateway struct {
	*Client
	stream *Stream
}

// NewLiveGateway creates a REST gateway backed by a streaming ticker cache
func NewLiveGateway(cfg config.BybitConfig, log *logger.Logger) *LiveGateway {
	return &LiveGateway{
		Client: NewClient(cfg, log),
		stream: NewStream(cfg, log),
	}
}

// Start connects the ticker stream. REST calls work without it, so a
// failed connection only disables the cache.
func (g *LiveGateway) Start(ctx context.Context) error {
	return g.stream.Start(ctx)
}

// Stop terminates the ticker stream
func (g *LiveGateway) Stop() {
	g.stream.Stop()
}

// GetTicker returns the streamed price when fresh, falling back to REST.
// 첫 조회 시 해당 심볼을 스트림에 구독시켜 이후 폴링을 캐시로 돌린다.
func (g *LiveGateway) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	if price, ok := g.stream.LastPrice(symbol); ok {
		return &exchange.Ticker{
			Symbol:    symbol,
			LastPrice: price,
			Bid:       price,
			Ask:       price,
		}, nil
	}

	if err := g.stream.Subscribe(symbol); err != nil {
		g.logger.WithError(err).WithField("symbol", symbol).Debug("Ticker subscribe failed")
	}

	return g.Client.GetTicker(ctx, symbol)
}
