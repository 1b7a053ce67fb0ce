package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/notifier"
	"github.com/amirphl/ladder-trader/internal/utils"
	wallex "github.com/wallexchange/wallex-go"
	"go.uber.org/zap"
)

type WallexBroker struct {
	client       *wallex.Client
	notifier     notifier.Notifier
	logger       *zap.Logger
	readAttempts int
	readDelay    time.Duration
}

func NewWallexBroker(apiKey string, n notifier.Notifier) *WallexBroker {
	c := wallex.New(wallex.ClientOptions{APIKey: apiKey})
	if n == nil {
		n = notifier.Nop{}
	}
	return &WallexBroker{
		client:       c,
		notifier:     n,
		logger:       utils.GetLogger().Named("exchange"),
		readAttempts: 3,
		readDelay:    500 * time.Millisecond,
	}
}

func (w *WallexBroker) Name() string {
	return "wallex"
}

// retry wraps read-only calls with exponential backoff. Placement is never
// retried here: a timed out placement may still have reached the book.
func (w *WallexBroker) retry(ctx context.Context, op string, fn func() error) error {
	backoff := w.readDelay
	var err error
	for i := 1; i <= w.readAttempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		w.logger.Warn("Exchange | retry attempt failed",
			zap.String("op", op), zap.Int("attempt", i), zap.Int("attempts", w.readAttempts),
			zap.Duration("backoff", backoff), zap.Error(err))
		if i == w.readAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("%s: all retry attempts failed: %w", op, err)
}

func (w *WallexBroker) PlaceOrder(ctx context.Context, req OrderRequest) (Placement, error) {
	select {
	case <-ctx.Done():
		w.logger.Warn("Exchange | PlaceOrder timeout", zap.String("security_id", req.SecurityID))
		return Placement{}, ctx.Err()
	default:
	}

	params := &wallex.OrderParams{
		Symbol:   NormalizeSymbol(req.SecurityID),
		Type:     strings.ToUpper(req.Kind),
		Side:     strings.ToUpper(string(req.Side)),
		Price:    wallex.Number(strconv.FormatFloat(req.Price, 'f', -1, 64)),
		Quantity: wallex.Number(strconv.Itoa(req.Quantity)),
	}
	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		w.notifier.SendWithRetry(fmt.Sprintf("Order placement failed for %s %s %d@%v: %v",
			req.SecurityID, req.Side, req.Quantity, req.Price, err))
		return Placement{}, fmt.Errorf("wallex place order: %w", err)
	}
	if resp == nil || resp.ClientOrderID == "" {
		return Placement{Accepted: false, Reason: "empty order id"}, nil
	}

	status := strings.ToUpper(resp.Status)
	if status == "REJECTED" {
		return Placement{OrderID: resp.ClientOrderID, OrderStatus: status, Reason: "rejected by exchange"}, nil
	}
	return Placement{OrderID: resp.ClientOrderID, OrderStatus: status, Accepted: true}, nil
}

func (w *WallexBroker) CancelOrder(ctx context.Context, orderID string) error {
	select {
	case <-ctx.Done():
		w.logger.Warn("Exchange | CancelOrder timeout", zap.String("order_id", orderID))
		return ctx.Err()
	default:
		return w.client.CancelOrder(orderID)
	}
}

func (w *WallexBroker) OrderStatus(ctx context.Context, orderID string) (market.Status, error) {
	var status string
	err := w.retry(ctx, "order status", func() error {
		resp, err := w.client.Order(orderID)
		if err != nil {
			return err
		}
		if resp == nil {
			return errors.New("wallex: empty order response")
		}
		status = resp.Status
		return nil
	})
	if err != nil {
		return "", err
	}
	return market.NormalizeStatus(status), nil
}

func (w *WallexBroker) LastTick(ctx context.Context, securityID string) (market.Tick, error) {
	var trades []*wallex.MarketTrade
	err := w.retry(ctx, "market trades", func() error {
		var err error
		trades, err = w.client.MarketTrades(NormalizeSymbol(securityID))
		return err
	})
	if err != nil {
		return market.Tick{}, err
	}
	if len(trades) == 0 {
		return market.Tick{}, fmt.Errorf("no trades found for %s", securityID)
	}
	t := trades[0]
	return market.Tick{
		SecurityID: securityID,
		Price:      float64Ptr(&t.Price),
		Quantity:   float64Ptr(&t.Quantity),
		Timestamp:  t.Timestamp.UTC(),
	}, nil
}

// NormalizeSymbol strips separators: "BTC-USDT" -> "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// Helper to safely dereference *wallex.Number
func float64Ptr(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	out, _ := strconv.ParseFloat(string(*n), 64)
	return out
}
