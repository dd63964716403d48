package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"slices"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	"smartshop/internal/metrics"
	cartrepo "smartshop/internal/repository/cart"
	orderrepo "smartshop/internal/repository/order"
	productrepo "smartshop/internal/repository/product"

	"github.com/google/uuid"
)

// TxRunner runs fn inside one storage transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps are the collaborators of a Service. Broker, Metrics and Logger are
// optional.
type Deps struct {
	Tx        TxRunner
	Carts     cartrepo.Repository
	Products  productrepo.Repository
	Orders    orderrepo.Repository
	Publisher feed.Publisher
	Broker    *feed.Broker
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// Service turns carts into orders.
type Service struct {
	tx        TxRunner
	carts     cartrepo.Repository
	products  productrepo.Repository
	orders    orderrepo.Repository
	publisher feed.Publisher
	broker    *feed.Broker
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		tx:        d.Tx,
		carts:     d.Carts,
		products:  d.Products,
		orders:    d.Orders,
		publisher: d.Publisher,
		broker:    d.Broker,
		metrics:   d.Metrics,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// PlaceOrder validates lines against current stock, then in one transaction
// deducts stock, removes the ordered lines, records the order and clears the
// rest of the user's cart. Lines already gone from the cart fail the order,
// so replaying the same lines never produces a second order. On any error
// nothing is written.
func (s *Service) PlaceOrder(ctx context.Context, userID string, lines []domain.CartLine) (orderID string, err error) {
	defer func() { s.metrics.ObserveOrder(err) }()

	if userID == "" {
		return "", domain.ErrUnauthenticated
	}
	if len(lines) == 0 {
		return "", domain.ErrEmptyCart
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return "", domain.ErrInvalidQuantity
		}
		if !line.ProductPrice.IsPositive() || !domain.IsCents(line.ProductPrice) {
			return "", fmt.Errorf("%w: line %s has price %s", domain.ErrInvalidProduct, line.ID, line.ProductPrice)
		}
	}
	need, ids := demand(lines)

	// Validation pass, no writes.
	for _, id := range ids {
		p, err := s.product(ctx, id)
		if err != nil {
			return "", domain.Storage("validate order", err)
		}
		if p.Quantity < need[id] {
			return "", insufficient(p, need[id])
		}
	}

	frozen := domain.FreezeLines(lines)
	order := domain.Order{
		ID:          s.newID(),
		UserID:      userID,
		Lines:       frozen,
		TotalAmount: domain.SumLines(frozen),
		PlacedAt:    s.now().UTC(),
		Status:      domain.OrderStatusCompleted,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		// Product id order keeps concurrent placements from deadlocking on
		// each other's row locks.
		for _, id := range ids {
			if _, err := s.products.DeductStock(ctx, id, need[id]); err != nil {
				if !errors.Is(err, domain.ErrConflict) {
					return err
				}
				p, err := s.product(ctx, id)
				if err != nil {
					return err
				}
				return insufficient(p, need[id])
			}
		}
		if err := s.claim(ctx, userID, lines); err != nil {
			return err
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		if _, err := s.carts.ClearByUser(ctx, userID); err != nil {
			return err
		}
		return s.publisher.Publish(ctx, feed.TopicCatalog, feed.CartTopic(userID), feed.OrdersTopic(userID))
	})
	if err != nil {
		s.logger.Printf("order: place user=%s lines=%d error=%v", userID, len(lines), err)
		return "", domain.Storage("place order", err)
	}
	s.logger.Printf("order: placed id=%s user=%s total=%s", order.ID, userID, order.TotalAmount.StringFixed(2))
	return order.ID, nil
}

// Checkout places an order for everything in the user's cart.
func (s *Service) Checkout(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", domain.ErrUnauthenticated
	}
	lines, err := s.carts.ListByUser(ctx, userID)
	if err != nil {
		return "", domain.Storage("read cart", err)
	}
	return s.PlaceOrder(ctx, userID, lines)
}

// GetOrders yields the user's orders, most recent first. Iteration stops
// after the first error.
func (s *Service) GetOrders(ctx context.Context, userID string) iter.Seq2[domain.Order, error] {
	return func(yield func(domain.Order, error) bool) {
		if userID == "" {
			yield(domain.Order{}, domain.ErrUnauthenticated)
			return
		}
		for o, err := range s.orders.StreamByUser(ctx, userID) {
			if err != nil {
				yield(domain.Order{}, domain.Storage("list orders", err))
				return
			}
			if !yield(o, nil) {
				return
			}
		}
	}
}

// GetOrder returns one of the user's orders.
func (s *Service) GetOrder(ctx context.Context, userID, id string) (*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	o, err := s.orders.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.Storage("get order", err)
	}
	return o, nil
}

func (s *Service) OrderCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.ErrUnauthenticated
	}
	n, err := s.orders.CountByUser(ctx, userID)
	if err != nil {
		return 0, domain.Storage("count orders", err)
	}
	return n, nil
}

// Watch streams the user's order history. The caller must Close the
// subscription.
func (s *Service) Watch(ctx context.Context, userID string) (*feed.Subscription[[]domain.Order], error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if s.broker == nil {
		return nil, errors.New("order: change feed not configured")
	}
	return feed.Watch(ctx, s.broker, feed.OrdersTopic(userID), func(ctx context.Context) ([]domain.Order, error) {
		orders, err := s.orders.ListByUser(ctx, userID)
		if err != nil {
			return nil, domain.Storage("list orders", err)
		}
		return orders, nil
	}, s.logger), nil
}

// claim deletes the ordered lines from the user's cart. A line that is no
// longer there was ordered or removed by a concurrent call.
func (s *Service) claim(ctx context.Context, userID string, lines []domain.CartLine) error {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ID == "" {
			return domain.ErrItemNotFound
		}
		if !slices.Contains(ids, line.ID) {
			ids = append(ids, line.ID)
		}
	}
	n, err := s.carts.DeleteLines(ctx, userID, ids)
	switch {
	case err != nil:
		return err
	case n == 0:
		return domain.ErrEmptyCart
	case n < int64(len(ids)):
		return domain.ErrItemNotFound
	}
	return nil
}

func (s *Service) product(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

// demand sums the requested quantity per product and returns the product
// ids in ascending order.
func demand(lines []domain.CartLine) (map[string]int, []string) {
	need := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := need[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		need[line.ProductID] += line.Quantity
	}
	slices.Sort(ids)
	return need, ids
}

func insufficient(p *domain.Product, requested int) error {
	return &domain.InsufficientStockError{
		ProductID:   p.ID,
		ProductName: p.Name,
		Available:   p.Quantity,
		Requested:   requested,
	}
}
