package cart

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	"smartshop/internal/metrics"
	cartrepo "smartshop/internal/repository/cart"
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
	Publisher feed.Publisher
	Broker    *feed.Broker
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// Service validates cart mutations against live product stock.
type Service struct {
	tx        TxRunner
	carts     cartrepo.Repository
	products  productrepo.Repository
	publisher feed.Publisher
	broker    *feed.Broker
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time
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
		publisher: d.Publisher,
		broker:    d.Broker,
		metrics:   d.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// View is a cart listing with its totals.
type View struct {
	Lines  []domain.CartLine `json:"lines"`
	Totals domain.CartTotals `json:"totals"`
}

// AddToCart adds qty of product to the user's cart. The request is checked
// against the product the caller saw and again against the locked live row;
// an existing line for the product is merged.
func (s *Service) AddToCart(ctx context.Context, userID string, product domain.Product, qty int) (err error) {
	defer func() { s.metrics.ObserveCart("add", err) }()

	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if qty > product.Quantity {
		return &domain.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Quantity,
			Requested:   qty,
		}
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		live, err := s.lockProduct(ctx, product.ID)
		if err != nil {
			return err
		}

		existing, err := s.carts.GetByUserAndProduct(ctx, userID, product.ID)
		switch {
		case err == nil:
			merged := existing.Quantity + qty
			if merged > live.Quantity {
				return insufficient(live, merged)
			}
			if err := s.carts.UpdateQuantity(ctx, existing.ID, merged); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrNotFound):
			if qty > live.Quantity {
				return insufficient(live, qty)
			}
			line := domain.CartLine{
				ID:           uuid.NewString(),
				UserID:       userID,
				ProductID:    live.ID,
				ProductName:  live.Name,
				ProductPrice: live.Price,
				ImageRef:     live.ImageRef,
				Quantity:     qty,
				AddedAt:      s.now().UTC(),
			}
			if err := s.carts.Insert(ctx, line); err != nil {
				return err
			}
		default:
			return err
		}
		return s.publisher.Publish(ctx, feed.CartTopic(userID))
	})
	if err != nil {
		s.logger.Printf("cart: add user=%s product=%s qty=%d error=%v", userID, product.ID, qty, err)
		return domain.Storage("add to cart", err)
	}
	return nil
}

// SetQuantity replaces the quantity of a cart line. Zero is rejected;
// removing a line goes through Remove.
func (s *Service) SetQuantity(ctx context.Context, userID, itemID string, newQty int, productID string) (err error) {
	defer func() { s.metrics.ObserveCart("set_quantity", err) }()

	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if newQty <= 0 {
		return domain.ErrInvalidQuantity
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		live, err := s.lockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if newQty > live.Quantity {
			return insufficient(live, newQty)
		}
		line, err := s.ownedLine(ctx, userID, itemID)
		if err != nil {
			return err
		}
		if line.ProductID != productID {
			return domain.ErrItemNotFound
		}
		if err := s.carts.UpdateQuantity(ctx, line.ID, newQty); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrItemNotFound
			}
			return err
		}
		return s.publisher.Publish(ctx, feed.CartTopic(userID))
	})
	return domain.Storage("set quantity", err)
}

// Remove deletes one line from the user's cart.
func (s *Service) Remove(ctx context.Context, userID, itemID string) (err error) {
	defer func() { s.metrics.ObserveCart("remove", err) }()

	if userID == "" {
		return domain.ErrUnauthenticated
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		line, err := s.ownedLine(ctx, userID, itemID)
		if err != nil {
			return err
		}
		if err := s.carts.Delete(ctx, line.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrItemNotFound
			}
			return err
		}
		return s.publisher.Publish(ctx, feed.CartTopic(userID))
	})
	return domain.Storage("remove from cart", err)
}

// Clear empties the user's cart. Clearing an empty cart succeeds.
func (s *Service) Clear(ctx context.Context, userID string) (err error) {
	defer func() { s.metrics.ObserveCart("clear", err) }()

	if userID == "" {
		return domain.ErrUnauthenticated
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		n, err := s.carts.ClearByUser(ctx, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		return s.publisher.Publish(ctx, feed.CartTopic(userID))
	})
	return domain.Storage("clear cart", err)
}

// Totals is recomputed from the store on every call.
func (s *Service) Totals(ctx context.Context, userID string) (domain.CartTotals, error) {
	if userID == "" {
		return domain.CartTotals{}, domain.ErrUnauthenticated
	}
	totals, err := s.carts.Totals(ctx, userID)
	if err != nil {
		return domain.CartTotals{}, domain.Storage("cart totals", err)
	}
	return totals, nil
}

// Lines lists the user's cart, most recently added first.
func (s *Service) Lines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	lines, err := s.carts.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.Storage("list cart", err)
	}
	return lines, nil
}

// Watch streams the user's cart. The caller must Close the subscription.
func (s *Service) Watch(ctx context.Context, userID string) (*feed.Subscription[View], error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if s.broker == nil {
		return nil, errors.New("cart: change feed not configured")
	}
	return feed.Watch(ctx, s.broker, feed.CartTopic(userID), func(ctx context.Context) (View, error) {
		lines, err := s.Lines(ctx, userID)
		if err != nil {
			return View{}, err
		}
		return View{Lines: lines, Totals: domain.TotalsOf(lines)}, nil
	}, s.logger), nil
}

func (s *Service) lockProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := s.products.GetForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) ownedLine(ctx context.Context, userID, itemID string) (*domain.CartLine, error) {
	line, err := s.carts.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	if line.UserID != userID {
		return nil, domain.ErrItemNotFound
	}
	return line, nil
}

func insufficient(p *domain.Product, requested int) error {
	return &domain.InsufficientStockError{
		ProductID:   p.ID,
		ProductName: p.Name,
		Available:   p.Quantity,
		Requested:   requested,
	}
}
