package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCartFixture(t *testing.T) (*CartService, *memStore, *redisclient.Client) {
	t.Helper()
	db := newMemStore()
	rc, _ := newTestRedis(t)
	return NewCartService(db, db, rc, 10*time.Minute), db, rc
}

func currentCartKey(t *testing.T, rc *redisclient.Client, userID int64) string {
	t.Helper()
	v, err := rc.CartVersion(context.Background(), userID)
	require.NoError(t, err)
	return redisclient.CartKey(userID, v)
}

func TestAddItemIncrementsExistingLine(t *testing.T) {
	svc, db, _ := newCartFixture(t)
	ctx := context.Background()
	p := db.addProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10)})

	qty, err := svc.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)

	qty, err = svc.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, qty)

	lines, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestAddItemUnknownProduct(t *testing.T) {
	svc, _, _ := newCartFixture(t)

	_, err := svc.AddItem(context.Background(), 1, 404)

	var notFound *ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(404), notFound.ProductID)
}

func TestConcurrentAddsNeverLoseIncrements(t *testing.T) {
	svc, db, _ := newCartFixture(t)
	ctx := context.Background()
	p := db.addProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10)})

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, 1, p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, workers, lines[0].Quantity)
}

func TestSetQuantity(t *testing.T) {
	svc, db, _ := newCartFixture(t)
	ctx := context.Background()
	p := db.addProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10)})
	_, err := svc.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)

	require.NoError(t, svc.SetQuantity(ctx, 1, p.ID, 5))
	lines, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)

	var invalidQty *InvalidQuantityError
	assert.ErrorAs(t, svc.SetQuantity(ctx, 1, p.ID, -1), &invalidQty)

	var notInCart *NotInCartError
	assert.ErrorAs(t, svc.SetQuantity(ctx, 1, 999, 3), &notInCart)
}

func TestSetQuantityZeroEqualsRemove(t *testing.T) {
	ctx := context.Background()

	run := func(mutate func(svc *CartService, productID int64) error) ([]models.CartLine, error) {
		svc, db, _ := newCartFixture(t)
		a := db.addProduct(models.Product{Name: "A", Price: decimal.NewFromInt(1)})
		b := db.addProduct(models.Product{Name: "B", Price: decimal.NewFromInt(2)})
		_, _ = svc.AddItem(ctx, 1, a.ID)
		_, _ = svc.AddItem(ctx, 1, b.ID)
		err := mutate(svc, a.ID)
		lines, listErr := svc.List(ctx, 1)
		require.NoError(t, listErr)
		return lines, err
	}

	viaSet, errSet := run(func(svc *CartService, id int64) error { return svc.SetQuantity(ctx, 1, id, 0) })
	viaRemove, errRemove := run(func(svc *CartService, id int64) error { return svc.RemoveItem(ctx, 1, id) })

	require.NoError(t, errSet)
	require.NoError(t, errRemove)
	assert.Equal(t, viaRemove, viaSet)
	require.Len(t, viaSet, 1)
	assert.Equal(t, "B", viaSet[0].Product.Name)
}

func TestRemoveItemNotInCartLeavesCartUnchanged(t *testing.T) {
	svc, db, _ := newCartFixture(t)
	ctx := context.Background()
	p := db.addProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10)})
	_, err := svc.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)

	before, err := svc.List(ctx, 1)
	require.NoError(t, err)

	err = svc.RemoveItem(ctx, 1, 777)
	var notInCart *NotInCartError
	require.ErrorAs(t, err, &notInCart)
	assert.Equal(t, int64(777), notInCart.ProductID)

	after, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, quantities(before), quantities(after))
}

func quantities(lines []models.CartLine) map[int64]int {
	out := make(map[int64]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] = l.Quantity
	}
	return out
}

func TestClearIsIdempotent(t *testing.T) {
	svc, db, _ := newCartFixture(t)
	ctx := context.Background()
	p := db.addProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10)})
	_, err := svc.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, 1))
	require.NoError(t, svc.Clear(ctx, 1))

	lines, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestListDropsVanishedProducts(t *testing.T) {
	svc, db, _ := newCartFixture(t)
	ctx := context.Background()
	keep := db.addProduct(models.Product{Name: "Keep", Price: decimal.NewFromInt(10)})
	gone := db.addProduct(models.Product{Name: "Gone", Price: decimal.NewFromInt(10)})
	_, _ = svc.AddItem(ctx, 1, keep.ID)
	_, _ = svc.AddItem(ctx, 1, gone.ID)

	require.NoError(t, db.DeleteProduct(ctx, gone.ID))
	svc.Invalidate(ctx, 1)

	lines, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, keep.ID, lines[0].ProductID)
}

func TestListIsCachedAndMutationsInvalidate(t *testing.T) {
	svc, db, rc := newCartFixture(t)
	ctx := context.Background()
	p := db.addProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10)})
	_, err := svc.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)

	_, err = svc.List(ctx, 1)
	require.NoError(t, err)

	listedKey := currentCartKey(t, rc, 1)
	var cached []models.CartLine
	require.NoError(t, rc.GetJSON(ctx, listedKey, &cached))
	require.Len(t, cached, 1)

	// a write behind the service's back is invisible until a mutation invalidates
	_, _ = db.AddCartItem(ctx, 1, p.ID)
	lines, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, lines[0].Quantity)

	require.NoError(t, svc.SetQuantity(ctx, 1, p.ID, 7))
	assert.ErrorIs(t, rc.GetJSON(ctx, listedKey, &cached), redisclient.ErrCacheMiss)
	assert.NotEqual(t, listedKey, currentCartKey(t, rc, 1))

	lines, err = svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, lines[0].Quantity)
}

// pausingCache holds the first cache write until released, widening the gap
// between a listing's database read and its cache fill.
type pausingCache struct {
	*redisclient.Client
	once    sync.Once
	writing chan struct{}
	release chan struct{}
}

func (c *pausingCache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	c.once.Do(func() {
		close(c.writing)
		<-c.release
	})
	return c.Client.SetJSON(ctx, key, v, ttl)
}

func TestListRacingMutationDoesNotCacheStaleCart(t *testing.T) {
	db := newMemStore()
	rc, _ := newTestRedis(t)
	cache := &pausingCache{Client: rc, writing: make(chan struct{}), release: make(chan struct{})}
	svc := NewCartService(db, db, cache, 10*time.Minute)
	ctx := context.Background()

	p := db.addProduct(models.Product{Name: "Mug", Price: decimal.NewFromInt(10)})
	_, err := svc.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)

	done := make(chan []models.CartLine, 1)
	go func() {
		lines, err := svc.List(ctx, 1)
		assert.NoError(t, err)
		done <- lines
	}()

	<-cache.writing
	require.NoError(t, svc.SetQuantity(ctx, 1, p.ID, 5))
	close(cache.release)

	stale := <-done
	require.Len(t, stale, 1)
	assert.Equal(t, 1, stale[0].Quantity)

	lines, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
}
