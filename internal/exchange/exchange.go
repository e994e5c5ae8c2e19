package exchange

import (
	"context"
	"errors"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNoPrice       = errors.New("no price available")
)

// OrderRequest describes one order to place. Price is the limit price for
// LIMIT orders and the trigger price for STOP_LOSS orders; market orders
// ignore it.
type OrderRequest struct {
	Symbol   string
	Type     models.OrderType
	Side     models.Side
	Quantity float64
	Price    float64
}

// Client is the exchange surface the rest of the system depends on. Both the
// real Binance client and the paper client implement it, so the pipeline and
// the collector never know which one they are talking to.
type Client interface {
	FetchPrice(ctx context.Context, symbol string) (float64, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (models.OrderBook, error)
	FetchRecentTrades(ctx context.Context, symbol string, limit int) ([]models.PublicTrade, error)

	CreateOrder(ctx context.Context, req OrderRequest) (models.Order, error)
	FetchOrderStatus(ctx context.Context, symbol, orderID string) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
