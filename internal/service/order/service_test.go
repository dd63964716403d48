package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	cartrepo "smartshop/internal/repository/cart"
	"smartshop/internal/repository/memory"
	orderrepo "smartshop/internal/repository/order"
	productrepo "smartshop/internal/repository/product"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	store *memory.Store
}

type overrides struct {
	carts    cartrepo.Repository
	products productrepo.Repository
	orders   orderrepo.Repository
}

func newFixture(t *testing.T, o overrides, products ...domain.Product) fixture {
	t.Helper()
	store := memory.NewStore()
	for _, p := range products {
		_, err := store.Products().Create(context.Background(), p)
		require.NoError(t, err)
	}
	return newFixtureOn(t, store, o)
}

func product(id string, qty int, price string) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func (f fixture) addLine(t *testing.T, userID, productID string, qty int, price string) domain.CartLine {
	t.Helper()
	line := domain.CartLine{
		ID:           userID + "-" + productID,
		UserID:       userID,
		ProductID:    productID,
		ProductName:  "Product " + productID,
		ProductPrice: decimal.RequireFromString(price),
		Quantity:     qty,
		AddedAt:      time.Now(),
	}
	require.NoError(t, f.store.Carts().Insert(context.Background(), line))
	return line
}

func (f fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.Products().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func (f fixture) cartSize(t *testing.T, userID string) int {
	t.Helper()
	lines, err := f.store.Carts().ListByUser(context.Background(), userID)
	require.NoError(t, err)
	return len(lines)
}

func (f fixture) orderCount(t *testing.T, userID string) int {
	t.Helper()
	n, err := f.store.Orders().CountByUser(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestPlaceOrder_DeductsFreezesAndClears(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 2, "10.00"), product("p2", 1, "5.00"))
	ctx := context.Background()
	l1 := f.addLine(t, "u1", "p1", 2, "10.00")
	l2 := f.addLine(t, "u1", "p2", 1, "5.00")

	id, err := f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{l1, l2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	o, err := f.svc.GetOrder(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "25", o.TotalAmount.String())
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "p1", o.Lines[0].ProductID)
	assert.True(t, o.TotalAmount.Equal(domain.SumLines(o.Lines)))

	assert.Equal(t, 0, f.stock(t, "p1"))
	assert.Equal(t, 0, f.stock(t, "p2"))
	assert.Equal(t, 0, f.cartSize(t, "u1"))
	assert.Equal(t, 1, f.orderCount(t, "u1"))
}

func TestPlaceOrder_InsufficientStockWritesNothing(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 2, "10.00"), product("p2", 0, "5.00"))
	ctx := context.Background()
	l1 := f.addLine(t, "u1", "p1", 2, "10.00")
	l2 := f.addLine(t, "u1", "p2", 1, "5.00")

	_, err := f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{l1, l2})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.Equal(t, 0, stockErr.Available)

	assert.Equal(t, 2, f.stock(t, "p1"))
	assert.Equal(t, 2, f.cartSize(t, "u1"))
	assert.Equal(t, 0, f.orderCount(t, "u1"))
}

func TestPlaceOrder_Preconditions(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 2, "1.00"))
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, "", []domain.CartLine{{ProductID: "p1", Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.svc.PlaceOrder(ctx, "u1", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	_, err = f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{{ProductID: "gone", Quantity: 1, ProductPrice: decimal.NewFromInt(1)}})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.svc.Checkout(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

// raceProducts lowers a product's stock right before the first deduction,
// after the validation pass has already seen the old value.
type raceProducts struct {
	productrepo.Repository
	once  sync.Once
	apply func(ctx context.Context)
}

func (r *raceProducts) DeductStock(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	r.once.Do(func() { r.apply(ctx) })
	return r.Repository.DeductStock(ctx, id, quantity)
}

func TestPlaceOrder_RevalidatesAtCommit(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for _, p := range []domain.Product{product("p1", 3, "1.00"), product("p2", 3, "1.00")} {
		_, err := store.Products().Create(ctx, p)
		require.NoError(t, err)
	}
	race := &raceProducts{Repository: store.Products()}
	race.apply = func(ctx context.Context) {
		_, err := store.Products().DeductStock(ctx, "p2", 2)
		require.NoError(t, err)
	}
	f := newFixtureOn(t, store, overrides{products: race})
	l1 := f.addLine(t, "u1", "p1", 2, "1.00")
	l2 := f.addLine(t, "u1", "p2", 2, "1.00")

	_, err := f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{l1, l2})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)

	// The p1 deduction made earlier in the transaction is rolled back, and
	// so is the concurrent change that ran inside it.
	assert.Equal(t, 3, f.stock(t, "p1"))
	assert.Equal(t, 2, f.cartSize(t, "u1"))
	assert.Equal(t, 0, f.orderCount(t, "u1"))
}

func newFixtureOn(t *testing.T, store *memory.Store, o overrides) fixture {
	t.Helper()
	if o.carts == nil {
		o.carts = store.Carts()
	}
	if o.products == nil {
		o.products = store.Products()
	}
	if o.orders == nil {
		o.orders = store.Orders()
	}
	broker := feed.NewBroker()
	return fixture{
		svc: New(Deps{
			Tx:        store,
			Carts:     o.carts,
			Products:  o.products,
			Orders:    o.orders,
			Publisher: broker,
			Broker:    broker,
		}),
		store: store,
	}
}

type failingOrders struct {
	orderrepo.Repository
	err error
}

func (f failingOrders) Create(context.Context, domain.Order) error { return f.err }

type failingClear struct {
	cartrepo.Repository
	err error
}

func (f failingClear) ClearByUser(context.Context, string) (int64, error) { return 0, f.err }

func TestPlaceOrder_StorageFailureRollsBack(t *testing.T) {
	boom := errors.New("write failed")
	cases := []struct {
		name string
		o    func(store *memory.Store) overrides
	}{
		{"order write", func(s *memory.Store) overrides {
			return overrides{orders: failingOrders{Repository: s.Orders(), err: boom}}
		}},
		{"cart clear", func(s *memory.Store) overrides {
			return overrides{carts: failingClear{Repository: s.Carts(), err: boom}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewStore()
			ctx := context.Background()
			_, err := store.Products().Create(ctx, product("p1", 5, "2.00"))
			require.NoError(t, err)
			f := newFixtureOn(t, store, tc.o(store))
			line := f.addLine(t, "u1", "p1", 3, "2.00")

			_, err = f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{line})
			require.ErrorIs(t, err, domain.ErrStorage)
			require.ErrorIs(t, err, boom)

			assert.Equal(t, 5, f.stock(t, "p1"))
			assert.Equal(t, 1, f.cartSize(t, "u1"))
			assert.Equal(t, 0, f.orderCount(t, "u1"))
		})
	}
}

func TestPlaceOrder_ConcurrentNeverOversells(t *testing.T) {
	const stock = 7
	f := newFixture(t, overrides{}, product("p1", stock, "3.00"))
	ctx := context.Background()

	const buyers = 20
	lines := make([]domain.CartLine, buyers)
	for i := range buyers {
		lines[i] = f.addLine(t, fmt.Sprintf("u%d", i), "p1", 1, "3.00")
	}

	var (
		wg      sync.WaitGroup
		placed  atomic.Int32
		refused atomic.Int32
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(ctx, lines[i].UserID, []domain.CartLine{lines[i]})
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, placed.Load())
	assert.EqualValues(t, buyers-stock, refused.Load())
	assert.Equal(t, 0, f.stock(t, "p1"))
}

func TestPlaceOrder_TotalIsExact(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 100, "0.10"), product("p2", 100, "0.20"))
	ctx := context.Background()
	l1 := f.addLine(t, "u1", "p1", 7, "0.10")
	l2 := f.addLine(t, "u1", "p2", 3, "0.20")

	id, err := f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{l1, l2})
	require.NoError(t, err)
	o, err := f.svc.GetOrder(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("1.30")), "got %s", o.TotalAmount)
}

func TestPlaceOrder_UsesCartSnapshotPrice(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 5, "99.00"))
	line := f.addLine(t, "u1", "p1", 2, "10.00")

	id, err := f.svc.PlaceOrder(context.Background(), "u1", []domain.CartLine{line})
	require.NoError(t, err)
	o, err := f.svc.GetOrder(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(20)))
}

func TestCheckoutAndHistory(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 10, "1.00"))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	f.addLine(t, "u1", "p1", 1, "1.00")
	first, err := f.svc.Checkout(ctx, "u1")
	require.NoError(t, err)
	f.addLine(t, "u1", "p1", 2, "1.00")
	second, err := f.svc.Checkout(ctx, "u1")
	require.NoError(t, err)

	var ids []string
	for o, err := range f.svc.GetOrders(ctx, "u1") {
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{second, first}, ids)

	n, err := f.svc.OrderCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.svc.GetOrder(ctx, "u2", first)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	for _, err := range f.svc.GetOrders(ctx, "") {
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	}
}

func TestWatch_SeesNewOrder(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 10, "1.00"))
	ctx := context.Background()

	sub, err := f.svc.Watch(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	f.addLine(t, "u1", "p1", 1, "1.00")
	_, err = f.svc.Checkout(ctx, "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case orders := <-sub.Updates():
			return len(orders) == 1
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestPlaceOrder_ReplayedLinesDoNotOrderTwice(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 10, "1.00"))
	ctx := context.Background()
	line := f.addLine(t, "u1", "p1", 2, "1.00")

	_, err := f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{line})
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{line})
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	assert.Equal(t, 1, f.orderCount(t, "u1"))
	assert.Equal(t, 8, f.stock(t, "p1"))
}

func TestPlaceOrder_PartlyRemovedCartRollsBack(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 10, "1.00"), product("p2", 10, "1.00"))
	ctx := context.Background()
	l1 := f.addLine(t, "u1", "p1", 1, "1.00")
	l2 := f.addLine(t, "u1", "p2", 1, "1.00")
	require.NoError(t, f.store.Carts().Delete(ctx, l2.ID))

	_, err := f.svc.PlaceOrder(ctx, "u1", []domain.CartLine{l1, l2})
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	assert.Equal(t, 10, f.stock(t, "p1"))
	assert.Equal(t, 10, f.stock(t, "p2"))
	assert.Equal(t, 1, f.cartSize(t, "u1"))
	assert.Equal(t, 0, f.orderCount(t, "u1"))
}

func TestPlaceOrder_OtherUsersLinesAreNotClaimed(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 10, "1.00"))
	ctx := context.Background()
	line := f.addLine(t, "u1", "p1", 1, "1.00")

	_, err := f.svc.PlaceOrder(ctx, "u2", []domain.CartLine{line})
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, 1, f.cartSize(t, "u1"))
	assert.Equal(t, 10, f.stock(t, "p1"))
}

// slowCarts delays cart reads so concurrent checkouts see the same lines.
type slowCarts struct {
	cartrepo.Repository
	delay time.Duration
}

func (s slowCarts) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	lines, err := s.Repository.ListByUser(ctx, userID)
	time.Sleep(s.delay)
	return lines, err
}

func TestCheckout_DoubleTapPlacesOneOrder(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_, err := store.Products().Create(ctx, product("p1", 10, "1.00"))
	require.NoError(t, err)
	f := newFixtureOn(t, store, overrides{carts: slowCarts{Repository: store.Carts(), delay: 5 * time.Millisecond}})
	f.addLine(t, "u1", "p1", 2, "1.00")

	const taps = 2
	var (
		wg     sync.WaitGroup
		placed atomic.Int32
	)
	for range taps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(ctx, "u1")
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, domain.ErrEmptyCart):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, placed.Load())
	assert.Equal(t, 1, f.orderCount(t, "u1"))
	assert.Equal(t, 8, f.stock(t, "p1"))
}

func TestPlaceOrder_RejectsSubCentLinePrice(t *testing.T) {
	f := newFixture(t, overrides{}, product("p1", 10, "10.00"))
	line := f.addLine(t, "u1", "p1", 1, "10.005")

	_, err := f.svc.PlaceOrder(context.Background(), "u1", []domain.CartLine{line})
	require.ErrorIs(t, err, domain.ErrInvalidProduct)
	assert.Equal(t, 10, f.stock(t, "p1"))
	assert.Equal(t, 1, f.cartSize(t, "u1"))
}
