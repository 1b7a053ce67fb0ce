package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/ladder-trader/internal/exchange"
	"github.com/amirphl/ladder-trader/internal/journal"
	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const exitMarkup = 1.007

// ExitPrice is the reversing limit for a filled entry: entry x 1.007 rounded
// to one decimal. The product is rounded as the float64 it is, so
// 250 x 1.007 (251.74999...) gives 251.7.
func ExitPrice(entry float64) float64 {
	p, _ := strconv.ParseFloat(strconv.FormatFloat(entry*exitMarkup, 'f', 1, 64), 64)
	return p
}

// Spec is the immutable identity of an order.
type Spec struct {
	Account    string
	Instrument string
	SecurityID string
	Side       exchange.Side
	Quantity   int
	Kind       string
	Product    string
	Price      float64
}

// Record is one order and, for a filled entry, its linked exit. A record is
// owned by a single ladder and is not safe for concurrent use.
type Record struct {
	Spec
	id   string
	role Role

	state         State
	brokerOrderID string
	closeable     bool
	createdAt     time.Time
	submittedAt   time.Time
	deadline      time.Time
	graceDeadline time.Time

	parent *Record
	exit   *Record
}

// New creates an entry record in CREATED.
func New(spec Spec, createdAt time.Time) *Record {
	return newRecord(spec, Entry, createdAt)
}

func newRecord(spec Spec, role Role, createdAt time.Time) *Record {
	if spec.Kind == "" {
		spec.Kind = exchange.KindLimit
	}
	return &Record{
		Spec:      spec,
		id:        uuid.New().String(),
		role:      role,
		state:     Created,
		createdAt: createdAt,
	}
}

func (r *Record) ID() string            { return r.id }
func (r *Record) Role() Role            { return r.role }
func (r *Record) State() State          { return r.state }
func (r *Record) BrokerOrderID() string { return r.brokerOrderID }
func (r *Record) Closeable() bool       { return r.closeable }
func (r *Record) Deadline() time.Time   { return r.deadline }
func (r *Record) Exit() *Record         { return r.exit }
func (r *Record) Terminal() bool        { return r.state.Terminal() }

func (r *Record) log(env *Env) *zap.Logger {
	return env.Log().With(
		zap.String("record", r.id),
		zap.String("role", string(r.role)),
		zap.String("broker_order_id", r.brokerOrderID),
	)
}

func (r *Record) transition(ctx context.Context, env *Env, to State) error {
	from := r.state
	if err := canTransition(r.role, from, to); err != nil {
		r.log(env).Error("Order | rejected transition", zap.String("from", string(from)), zap.String("to", string(to)))
		return err
	}
	r.state = to
	r.log(env).Info("Order | transition", zap.String("from", string(from)), zap.String("to", string(to)))
	r.journal(ctx, env, from, to)
	return nil
}

func (r *Record) journal(ctx context.Context, env *Env, from, to State) {
	if env.Journal == nil {
		return
	}
	now := env.Now()
	parent := ""
	if r.parent != nil {
		parent = r.parent.id
	}
	err := env.Journal.LogEvent(ctx, journal.Event{
		Time:        now,
		Type:        "order",
		Description: fmt.Sprintf("%s->%s", from, to),
		Data: map[string]any{
			"record":          r.id,
			"role":            string(r.role),
			"broker_order_id": r.brokerOrderID,
			"account":         r.Account,
			"instrument":      r.Instrument,
		},
	})
	if err == nil {
		err = env.Journal.SaveOrder(ctx, journal.Order{
			RecordID:      r.id,
			BrokerOrderID: r.brokerOrderID,
			ParentID:      parent,
			Account:       r.Account,
			Instrument:    r.Instrument,
			SecurityID:    r.SecurityID,
			Role:          string(r.role),
			Side:          string(r.Side),
			Kind:          r.Kind,
			Product:       r.Product,
			Quantity:      r.Quantity,
			Price:         r.Price,
			State:         string(r.state),
			CreatedAt:     r.createdAt,
			UpdatedAt:     now,
		})
	}
	if err != nil {
		r.log(env).Warn("Order | journal write failed", zap.Error(err))
	}
}

func (r *Record) close(ctx context.Context, env *Env, to State) error {
	if err := r.transition(ctx, env, to); err != nil {
		return err
	}
	r.closeable = true
	return nil
}

func (r *Record) request() exchange.OrderRequest {
	return exchange.OrderRequest{
		SecurityID: r.SecurityID,
		Side:       r.Side,
		Quantity:   r.Quantity,
		Kind:       r.Kind,
		Product:    r.Product,
		Price:      r.Price,
	}
}

// Submit places the order. Without a broker the record is SKIPPED; a broker
// error or refusal makes it REJECTED. Both are closeable.
func (r *Record) Submit(ctx context.Context, env *Env) error {
	if err := r.transition(ctx, env, Submitting); err != nil {
		return err
	}
	if env.Broker == nil {
		return r.close(ctx, env, Skipped)
	}

	callCtx, cancel := env.Call(ctx)
	p, err := env.Broker.PlaceOrder(callCtx, r.request())
	cancel()
	if err != nil || !p.Accepted {
		metrics.OrdersRejected.WithLabelValues(string(r.role)).Inc()
		if cerr := r.close(ctx, env, Rejected); cerr != nil {
			return cerr
		}
		if err != nil {
			return fmt.Errorf("place %s order %s: %w", r.role, r.id, err)
		}
		return fmt.Errorf("place %s order %s: %w: %s", r.role, r.id, exchange.ErrOrderRejected, p.Reason)
	}

	now := env.Now()
	r.brokerOrderID = p.OrderID
	r.submittedAt = now
	r.deadline = now.Add(env.cancelAfter())
	if err := r.transition(ctx, env, Transit); err != nil {
		return err
	}
	metrics.OrdersPlaced.WithLabelValues(string(r.Side), string(r.role)).Inc()
	if env.Watcher != nil {
		env.Watcher.Watch(p.OrderID)
	}
	return nil
}

// Poll advances the record from the status cache. It is a no-op for records
// that are terminal or not yet submitted.
func (r *Record) Poll(ctx context.Context, env *Env) error {
	switch r.state {
	case Transit:
		return r.pollTransit(ctx, env)
	case Traded:
		return r.placeExit(ctx, env)
	case Exiting:
		return r.pollExiting(ctx, env)
	}
	return nil
}

func (r *Record) pollTransit(ctx context.Context, env *Env) error {
	callCtx, cancel := env.Call(ctx)
	status, ok, err := env.Statuses.Status(callCtx, r.brokerOrderID)
	cancel()
	if err != nil {
		return fmt.Errorf("status of %s: %w", r.brokerOrderID, err)
	}

	now := env.Now()
	if !ok {
		if r.role == Exit {
			return nil
		}
		if r.graceDeadline.IsZero() {
			r.graceDeadline = now.Add(env.abandonAfter())
			return nil
		}
		if now.After(r.graceDeadline) {
			r.log(env).Warn("Order | no status before grace deadline",
				zap.String("reason", "abandoned"), zap.Time("grace_deadline", r.graceDeadline))
			metrics.OrdersAbandoned.Inc()
			return r.close(ctx, env, Abandoned)
		}
		return nil
	}

	switch status {
	case market.StatusTraded:
		if r.role == Exit {
			metrics.ExitsTraded.Inc()
			return r.close(ctx, env, ExitTraded)
		}
		if err := r.transition(ctx, env, Traded); err != nil {
			return err
		}
		return r.placeExit(ctx, env)
	case market.StatusCancelled:
		metrics.OrdersCancelled.WithLabelValues(string(r.role)).Inc()
		r.log(env).Info("Order | cancelled", zap.String("reason", "cancelled"))
		if r.role == Exit {
			return r.close(ctx, env, ExitCancelled)
		}
		return r.close(ctx, env, Cancelled)
	}

	if r.role == Entry && !now.Before(r.deadline) {
		r.log(env).Info("Order | not confirmed before deadline, cancelling", zap.Time("deadline", r.deadline))
		return r.Cancel(ctx, env)
	}
	return nil
}

// placeExit submits the reversing order. Only an exit the broker accepted is
// linked; otherwise the entry stays TRADED and the next poll tries again.
func (r *Record) placeExit(ctx context.Context, env *Env) error {
	exit := newRecord(Spec{
		Account:    r.Account,
		Instrument: r.Instrument,
		SecurityID: r.SecurityID,
		Side:       r.Side.Opposite(),
		Quantity:   r.Quantity,
		Kind:       exchange.KindLimit,
		Product:    r.Product,
		Price:      ExitPrice(r.Price),
	}, Exit, env.Now())
	exit.parent = r

	if err := exit.Submit(ctx, env); err != nil {
		return fmt.Errorf("exit for %s: %w", r.id, err)
	}
	if exit.state != Transit {
		return fmt.Errorf("exit for %s: %w: exit ended %s", r.id, ErrInvalidTransition, exit.state)
	}
	r.exit = exit
	return r.transition(ctx, env, Exiting)
}

func (r *Record) pollExiting(ctx context.Context, env *Env) error {
	if err := r.exit.Poll(ctx, env); err != nil {
		return err
	}
	switch r.exit.state {
	case ExitTraded:
		if err := r.close(ctx, env, ExitTraded); err != nil {
			return err
		}
		if env.History != nil {
			env.History.Record(r.Price)
		}
	case ExitCancelled:
		return r.close(ctx, env, ExitCancelled)
	}
	return nil
}

// Cancel asks the broker to cancel a working entry. A failed call leaves the
// record untouched so the next tick retries.
func (r *Record) Cancel(ctx context.Context, env *Env) error {
	if r.brokerOrderID == "" {
		r.log(env).Warn("Order | cancel without broker order id", zap.String("state", string(r.state)))
		return ErrNoBrokerID
	}
	if r.state != Transit || r.role != Entry || env.Broker == nil {
		r.log(env).Warn("Order | cancel ignored", zap.String("state", string(r.state)))
		return fmt.Errorf("%w: %s", ErrNotCancellable, r.state)
	}

	callCtx, cancel := env.Call(ctx)
	err := env.Broker.CancelOrder(callCtx, r.brokerOrderID)
	cancel()
	if err != nil {
		r.log(env).Warn("Order | cancel failed, will retry", zap.Error(err))
		return fmt.Errorf("cancel %s: %w", r.brokerOrderID, err)
	}
	metrics.OrdersCancelled.WithLabelValues(string(r.role)).Inc()
	r.log(env).Info("Order | cancelled", zap.String("reason", "cancelled"))
	return r.close(ctx, env, Cancelled)
}

func (r *Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s{id=%s side=%s qty=%d price=%s state=%s", r.role, r.id, r.Side, r.Quantity,
		decimal.NewFromFloat(r.Price).String(), r.state)
	if r.brokerOrderID != "" {
		fmt.Fprintf(&b, " broker=%s", r.brokerOrderID)
	}
	if r.closeable {
		b.WriteString(" closeable")
	}
	if r.exit != nil {
		fmt.Fprintf(&b, " exit=%s", r.exit.String())
	}
	b.WriteString("}")
	return b.String()
}
