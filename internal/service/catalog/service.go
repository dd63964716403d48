package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	productrepo "smartshop/internal/repository/product"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxRunner runs fn inside one storage transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pusher forwards committed catalog edits to the remote catalog.
type Pusher interface {
	PushUpsert(ctx context.Context, userID string, p domain.Product) error
	PushDelete(ctx context.Context, userID, productID string) error
}

// Service edits the local catalog and pushes each committed change outward.
type Service struct {
	tx        TxRunner
	repo      productrepo.Repository
	publisher feed.Publisher
	broker    *feed.Broker
	pusher    Pusher
	logger    *log.Logger
}

// New builds a Service. pusher and broker may be nil.
func New(tx TxRunner, repo productrepo.Repository, publisher feed.Publisher, broker *feed.Broker, pusher Pusher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{tx: tx, repo: repo, publisher: publisher, broker: broker, pusher: pusher, logger: logger}
}

// ProductInput is the editable part of a product.
type ProductInput struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	ImageRef *string         `json:"imageRef,omitempty"`
}

func (in ProductInput) product(id string) domain.Product {
	var image *string
	if in.ImageRef != nil && strings.TrimSpace(*in.ImageRef) != "" {
		v := strings.TrimSpace(*in.ImageRef)
		image = &v
	}
	return domain.Product{
		ID:       id,
		Name:     strings.TrimSpace(in.Name),
		Quantity: in.Quantity,
		Price:    in.Price,
		ImageRef: image,
	}
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.List(ctx)
	if err != nil {
		return nil, domain.Storage("list products", err)
	}
	return products, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, domain.Storage("get product", err)
	}
	return p, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, domain.Storage("count products", err)
	}
	return n, nil
}

// Summary returns the product count and the value of stock on hand.
func (s *Service) Summary(ctx context.Context) (domain.CatalogSummary, error) {
	summary, err := s.repo.Summary(ctx)
	if err != nil {
		return domain.CatalogSummary{}, domain.Storage("summarize products", err)
	}
	return summary, nil
}

// Create adds a product. A missing id is generated.
func (s *Service) Create(ctx context.Context, userID string, in ProductInput) (*domain.Product, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	p := in.product(id)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var created *domain.Product
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.repo.Create(ctx, p)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("%w: id %s already exists", domain.ErrInvalidProduct, id)
			}
			return err
		}
		return s.publisher.Publish(ctx, feed.TopicCatalog)
	})
	if err != nil {
		return nil, domain.Storage("create product", err)
	}
	s.pushUpsert(ctx, userID, *created)
	return created, nil
}

// Update replaces the editable fields of an existing product.
func (s *Service) Update(ctx context.Context, userID, id string, in ProductInput) (*domain.Product, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	p := in.product(id)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var updated *domain.Product
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.Update(ctx, p)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrProductNotFound
			}
			return err
		}
		return s.publisher.Publish(ctx, feed.TopicCatalog)
	})
	if err != nil {
		return nil, domain.Storage("update product", err)
	}
	s.pushUpsert(ctx, userID, *updated)
	return updated, nil
}

// Save creates or replaces p.
func (s *Service) Save(ctx context.Context, userID string, p domain.Product) (*domain.Product, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: id cannot be empty", domain.ErrInvalidProduct)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var saved *domain.Product
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		saved, err = s.repo.Upsert(ctx, p)
		if err != nil {
			return err
		}
		return s.publisher.Publish(ctx, feed.TopicCatalog)
	})
	if err != nil {
		return nil, domain.Storage("save product", err)
	}
	s.pushUpsert(ctx, userID, *saved)
	return saved, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrProductNotFound
			}
			return err
		}
		return s.publisher.Publish(ctx, feed.TopicCatalog)
	})
	if err != nil {
		return domain.Storage("delete product", err)
	}
	if s.pusher != nil {
		if err := s.pusher.PushDelete(ctx, userID, id); err != nil {
			s.logger.Printf("catalog: push delete id=%s user=%s error=%v", id, userID, err)
		}
	}
	return nil
}

// Watch streams the catalog. The caller must Close the subscription.
func (s *Service) Watch(ctx context.Context) (*feed.Subscription[[]domain.Product], error) {
	if s.broker == nil {
		return nil, errors.New("catalog: change feed not configured")
	}
	return feed.Watch(ctx, s.broker, feed.TopicCatalog, s.List, s.logger), nil
}

// pushUpsert reports remote failures through the sync status only.
func (s *Service) pushUpsert(ctx context.Context, userID string, p domain.Product) {
	if s.pusher == nil {
		return
	}
	if err := s.pusher.PushUpsert(ctx, userID, p); err != nil {
		s.logger.Printf("catalog: push upsert id=%s user=%s error=%v", p.ID, userID, err)
	}
}
