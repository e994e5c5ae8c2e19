package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// BinanceClient adapts the Binance spot API to the Client interface.
type BinanceClient struct {
	client *binance.Client
}

// NewBinanceClient builds a spot client. Testnet routes all calls to the
// Binance testnet endpoints.
func NewBinanceClient(apiKey, secretKey string, testnet bool) *BinanceClient {
	if testnet {
		binance.UseTestnet = true
	}
	return &BinanceClient{client: binance.NewClient(apiKey, secretKey)}
}

func (b *BinanceClient) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("fetch price %s: %w", symbol, ErrNoPrice)
	}
	return parseDecimal(prices[0].Price)
}

func (b *BinanceClient) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
	}

	result := make([]models.Kline, 0, len(klines))
	for _, k := range klines {
		open, err := parseDecimal(k.Open)
		if err != nil {
			return nil, err
		}
		high, err := parseDecimal(k.High)
		if err != nil {
			return nil, err
		}
		low, err := parseDecimal(k.Low)
		if err != nil {
			return nil, err
		}
		closePrice, err := parseDecimal(k.Close)
		if err != nil {
			return nil, err
		}
		volume, err := parseDecimal(k.Volume)
		if err != nil {
			return nil, err
		}
		result = append(result, models.Kline{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return result, nil
}

func (b *BinanceClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (models.OrderBook, error) {
	res, err := b.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return models.OrderBook{}, fmt.Errorf("fetch order book %s: %w", symbol, err)
	}

	book := models.OrderBook{Symbol: symbol}
	for _, bid := range res.Bids {
		price, qty, err := parseLevel(bid.Price, bid.Quantity)
		if err != nil {
			return models.OrderBook{}, err
		}
		book.Bids = append(book.Bids, models.OrderBookLevel{Price: price, Quantity: qty})
	}
	for _, ask := range res.Asks {
		price, qty, err := parseLevel(ask.Price, ask.Quantity)
		if err != nil {
			return models.OrderBook{}, err
		}
		book.Asks = append(book.Asks, models.OrderBookLevel{Price: price, Quantity: qty})
	}
	return book, nil
}

func (b *BinanceClient) FetchRecentTrades(ctx context.Context, symbol string, limit int) ([]models.PublicTrade, error) {
	trades, err := b.client.NewRecentTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch recent trades %s: %w", symbol, err)
	}

	result := make([]models.PublicTrade, 0, len(trades))
	for _, tr := range trades {
		price, qty, err := parseLevel(tr.Price, tr.Quantity)
		if err != nil {
			return nil, err
		}
		result = append(result, models.PublicTrade{
			Price:    price,
			Quantity: qty,
			Time:     time.UnixMilli(tr.Time),
			IsBuyer:  !tr.IsBuyerMaker,
		})
	}
	return result, nil
}

func (b *BinanceClient) CreateOrder(ctx context.Context, req OrderRequest) (models.Order, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(formatFloat(req.Quantity))

	switch req.Type {
	case models.OrderTypeMarket:
		svc.Type(binance.OrderTypeMarket)
	case models.OrderTypeLimit:
		svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatFloat(req.Price))
	case models.OrderTypeStopLoss:
		svc.Type(binance.OrderTypeStopLoss).
			StopPrice(formatFloat(req.Price))
	default:
		return models.Order{}, fmt.Errorf("unsupported order type %q", req.Type)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("create %s %s order %s: %w", req.Side, req.Type, req.Symbol, err)
	}

	order := models.Order{
		ID:        strconv.FormatInt(res.OrderID, 10),
		Symbol:    req.Symbol,
		Type:      req.Type,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    mapStatus(res.Status),
		CreatedAt: time.UnixMilli(res.TransactTime),
	}
	// Market fills report the real execution price through the fills list.
	if len(res.Fills) > 0 {
		price, err := parseDecimal(res.Fills[0].Price)
		if err != nil {
			return models.Order{}, err
		}
		order.Price = price
	}
	return order, nil
}

func (b *BinanceClient) FetchOrderStatus(ctx context.Context, symbol, orderID string) (models.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return models.Order{}, fmt.Errorf("parse order id %q: %w", orderID, err)
	}
	res, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("fetch order %s/%s: %w", symbol, orderID, err)
	}

	price, err := parseDecimal(res.Price)
	if err != nil {
		return models.Order{}, err
	}
	qty, err := parseDecimal(res.OrigQuantity)
	if err != nil {
		return models.Order{}, err
	}
	side, err := models.ParseSide(string(res.Side))
	if err != nil {
		return models.Order{}, err
	}
	return models.Order{
		ID:        orderID,
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Status:    mapStatus(res.Status),
		CreatedAt: time.UnixMilli(res.Time),
	}, nil
}

func (b *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse order id %q: %w", orderID, err)
	}
	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("cancel order %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

func mapStatus(s binance.OrderStatusType) models.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return models.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected:
		return models.OrderStatusCanceled
	case binance.OrderStatusTypeExpired:
		return models.OrderStatusExpired
	default:
		return models.OrderStatusPending
	}
}

// parseDecimal parses an exchange price/quantity string without the float
// round-trip surprises of Sscanf.
func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

func parseLevel(price, qty string) (float64, float64, error) {
	p, err := parseDecimal(price)
	if err != nil {
		return 0, 0, err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return 0, 0, err
	}
	return p, q, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
