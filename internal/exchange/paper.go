package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// PaperClient simulates order execution against real (or injected) market
// data. Market orders fill immediately at the last known price; limit and
// stop orders stay pending until SetPrice observes a crossing price. Market
// data calls are delegated to the wrapped client when one is present, so a
// paper run against the live Binance feed only fakes the order side.
type PaperClient struct {
	data Client // nil in tests that drive prices via SetPrice
	log  *zap.Logger

	mu     sync.Mutex
	prices map[string]float64
	orders map[string]*models.Order
}

// NewPaperClient wraps data (may be nil) with simulated order execution.
func NewPaperClient(data Client, log *zap.Logger) *PaperClient {
	return &PaperClient{
		data:   data,
		log:    log.Named("paper"),
		prices: make(map[string]float64),
		orders: make(map[string]*models.Order),
	}
}

// SetPrice records the latest price for symbol and fills any pending
// conditional orders the price crossed. The data collector calls this on
// every cycle so paper orders track the market it observes.
func (p *PaperClient) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price

	for _, order := range p.orders {
		if order.Symbol != symbol || order.Status != models.OrderStatusPending {
			continue
		}
		if p.triggered(order, price) {
			order.Status = models.OrderStatusFilled
			p.log.Info("paper order filled",
				zap.String("order_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.String("type", string(order.Type)),
				zap.Float64("price", order.Price))
		}
	}
}

// triggered reports whether price satisfies a pending order's condition.
// Limit buys fill at or below the limit, limit sells at or above. Stop
// orders fire on the adverse side: a sell stop when price falls to the
// trigger, a buy stop when it rises to it.
func (p *PaperClient) triggered(order *models.Order, price float64) bool {
	switch order.Type {
	case models.OrderTypeLimit:
		if order.Side == models.SideBuy {
			return price <= order.Price
		}
		return price >= order.Price
	case models.OrderTypeStopLoss:
		if order.Side == models.SideSell {
			return price <= order.Price
		}
		return price >= order.Price
	default:
		return false
	}
}

func (p *PaperClient) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	if p.data != nil {
		price, err := p.data.FetchPrice(ctx, symbol)
		if err == nil {
			p.mu.Lock()
			p.prices[symbol] = price
			p.mu.Unlock()
		}
		return price, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("fetch price %s: %w", symbol, ErrNoPrice)
	}
	return price, nil
}

func (p *PaperClient) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	if p.data == nil {
		return nil, nil
	}
	return p.data.FetchOHLCV(ctx, symbol, interval, limit)
}

func (p *PaperClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (models.OrderBook, error) {
	if p.data == nil {
		return models.OrderBook{Symbol: symbol}, nil
	}
	return p.data.FetchOrderBook(ctx, symbol, depth)
}

func (p *PaperClient) FetchRecentTrades(ctx context.Context, symbol string, limit int) ([]models.PublicTrade, error) {
	if p.data == nil {
		return nil, nil
	}
	return p.data.FetchRecentTrades(ctx, symbol, limit)
}

func (p *PaperClient) CreateOrder(ctx context.Context, req OrderRequest) (models.Order, error) {
	if req.Quantity <= 0 {
		return models.Order{}, fmt.Errorf("create order %s: quantity must be > 0", req.Symbol)
	}

	order := models.Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Type:      req.Type,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    models.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if req.Type == models.OrderTypeMarket {
		price, err := p.FetchPrice(ctx, req.Symbol)
		if err != nil {
			return models.Order{}, err
		}
		order.Price = price
		order.Status = models.OrderStatusFilled
	}

	p.mu.Lock()
	p.orders[order.ID] = &order
	p.mu.Unlock()

	p.log.Info("paper order placed",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.Float64("quantity", order.Quantity),
		zap.Float64("price", order.Price),
		zap.String("status", string(order.Status)))

	copied := order
	return copied, nil
}

func (p *PaperClient) FetchOrderStatus(_ context.Context, symbol, orderID string) (models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok || order.Symbol != symbol {
		return models.Order{}, fmt.Errorf("order %s/%s: %w", symbol, orderID, ErrOrderNotFound)
	}
	return *order, nil
}

func (p *PaperClient) CancelOrder(_ context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok || order.Symbol != symbol {
		return fmt.Errorf("order %s/%s: %w", symbol, orderID, ErrOrderNotFound)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("order %s/%s already %s", symbol, orderID, order.Status)
	}
	order.Status = models.OrderStatusCanceled
	return nil
}
