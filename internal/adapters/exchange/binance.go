package exchange

// binance.go — CEX connector over the Binance spot REST API. Orders are
// market orders sized by quote amount; the effective entry price comes from
// the fill summary of the order response, not from a separate ticker read.

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/avelarkai/tradepilot/internal/ports"
)

// Binance implements ports.ExchangeConnector.
type Binance struct {
	venue  string
	client *binance.Client
}

// NewBinance creates the connector. Missing credentials are a configuration
// error surfaced at startup, not at trade time.
func NewBinance(apiKey, secretKey string) (*Binance, error) {
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("exchange.NewBinance: missing API credentials")
	}
	return &Binance{
		venue:  "binance",
		client: binance.NewClient(apiKey, secretKey),
	}, nil
}

func (b *Binance) Venue() string { return b.venue }

// GetBalances returns every non-zero free balance on the spot account.
func (b *Binance) GetBalances(ctx context.Context) (map[string]float64, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange.GetBalances: %w", err)
	}

	balances := make(map[string]float64)
	for _, bal := range account.Balances {
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil || free == 0 {
			continue
		}
		balances[bal.Asset] = free
	}
	return balances, nil
}

// GetCurrentPrice returns the current ticker price for the symbol.
func (b *Binance) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("exchange.GetCurrentPrice: %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("exchange.GetCurrentPrice: no ticker for %s", symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("exchange.GetCurrentPrice: bad price %q for %s", prices[0].Price, symbol)
	}
	return price, nil
}

// ExecuteTrade places a market order for the given quote amount and returns
// the volume-weighted fill price.
func (b *Binance) ExecuteTrade(ctx context.Context, symbol string, side domain.Side, amount float64) (ports.ExecResult, error) {
	if amount <= 0 {
		return ports.ExecResult{}, fmt.Errorf("exchange.ExecuteTrade: amount must be positive, got %.4f", amount)
	}

	orderSide := binance.SideTypeBuy
	if side == domain.SideSell {
		orderSide = binance.SideTypeSell
	}

	order, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(strconv.FormatFloat(amount, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("exchange.ExecuteTrade: %s %s: %w", side, symbol, err)
	}

	res, err := resultFromOrder(order, amount)
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("exchange.ExecuteTrade: %s %s: %w", side, symbol, err)
	}
	return res, nil
}

// ExecuteClose places a market order for the given base quantity. Closes
// must size by the quantity the opening order executed: after a price move
// the position no longer covers the entry's quote value, so a
// quote-amount sell would be rejected for insufficient balance.
func (b *Binance) ExecuteClose(ctx context.Context, symbol string, side domain.Side, quantity float64) (ports.ExecResult, error) {
	if quantity <= 0 {
		return ports.ExecResult{}, fmt.Errorf("exchange.ExecuteClose: quantity must be positive, got %.8f", quantity)
	}

	orderSide := binance.SideTypeBuy
	if side == domain.SideSell {
		orderSide = binance.SideTypeSell
	}

	order, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("exchange.ExecuteClose: %s %s: %w", side, symbol, err)
	}
	res, err := resultFromOrder(order, 0)
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("exchange.ExecuteClose: %s %s: %w", side, symbol, err)
	}
	return res, nil
}

// resultFromOrder summarizes an order response. fallbackAmount covers
// responses that omit the cumulative quote field.
func resultFromOrder(order *binance.CreateOrderResponse, fallbackAmount float64) (ports.ExecResult, error) {
	price, err := avgFillPrice(order)
	if err != nil {
		return ports.ExecResult{}, err
	}

	spent, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	if spent <= 0 {
		spent = fallbackAmount
	}
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	return ports.ExecResult{
		Price:    price,
		Amount:   spent,
		Quantity: executed,
		Ref:      strconv.FormatInt(order.OrderID, 10),
	}, nil
}

// avgFillPrice derives the effective execution price from the order's fill
// summary, falling back to the per-fill weighted average.
func avgFillPrice(order *binance.CreateOrderResponse) (float64, error) {
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	quote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	if executed > 0 && quote > 0 {
		return quote / executed, nil
	}

	var totalQty, totalQuote float64
	for _, f := range order.Fills {
		price, err1 := strconv.ParseFloat(f.Price, 64)
		qty, err2 := strconv.ParseFloat(f.Quantity, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		totalQty += qty
		totalQuote += price * qty
	}
	if totalQty == 0 {
		return 0, fmt.Errorf("order %d has no fills", order.OrderID)
	}
	return totalQuote / totalQty, nil
}
