package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/utils"
	"go.uber.org/zap"
)

// PaperBroker accepts limit orders without touching an exchange and fills them
// once the last traded price crosses the limit.
type PaperBroker struct {
	mu           sync.Mutex
	prices       market.PriceFeed
	orders       map[string]*paperOrder
	orderCounter int64
	logger       *zap.Logger
}

type paperOrder struct {
	req    OrderRequest
	status market.Status
}

func NewPaperBroker(prices market.PriceFeed) *PaperBroker {
	return &PaperBroker{
		prices:       prices,
		orders:       make(map[string]*paperOrder),
		orderCounter: 1000,
		logger:       utils.GetLogger().Named("paper"),
	}
}

func (p *PaperBroker) Name() string {
	return "paper"
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (Placement, error) {
	select {
	case <-ctx.Done():
		return Placement{}, ctx.Err()
	default:
	}
	if req.Kind != KindLimit {
		return Placement{Reason: fmt.Sprintf("order kind %q not supported", req.Kind)}, nil
	}
	if req.Quantity <= 0 || req.Price <= 0 || !req.Side.Valid() {
		return Placement{Reason: "invalid order"}, nil
	}

	p.mu.Lock()
	p.orderCounter++
	id := fmt.Sprintf("paper_%d_%d", time.Now().Unix(), p.orderCounter)
	p.orders[id] = &paperOrder{req: req, status: market.StatusPending}
	p.mu.Unlock()

	p.logger.Info("PaperBroker | order accepted",
		zap.String("order_id", id), zap.String("security_id", req.SecurityID),
		zap.String("side", string(req.Side)), zap.Float64("price", req.Price), zap.Int("quantity", req.Quantity))
	return Placement{OrderID: id, OrderStatus: string(market.StatusPending), Accepted: true}, nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	if o.status == market.StatusTraded {
		return fmt.Errorf("paper: order %s already traded", orderID)
	}
	o.status = market.StatusCancelled
	return nil
}

// OrderStatus fills pending orders against the current last price.
func (p *PaperBroker) OrderStatus(ctx context.Context, orderID string) (market.Status, error) {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return "", fmt.Errorf("paper: unknown order %s", orderID)
	}
	status, req := o.status, o.req
	p.mu.Unlock()

	if status != market.StatusPending {
		return status, nil
	}
	ltp, ok, err := p.prices.LastPrice(ctx, req.SecurityID)
	if err != nil {
		return "", err
	}
	if !ok || !crosses(req.Side, req.Price, ltp) {
		return market.StatusPending, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if o.status == market.StatusPending {
		o.status = market.StatusTraded
	}
	return o.status, nil
}

func crosses(side Side, limit, ltp float64) bool {
	if side == Buy {
		return ltp <= limit
	}
	return ltp >= limit
}
