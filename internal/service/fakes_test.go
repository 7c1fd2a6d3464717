package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type cartKey struct{ user, product int64 }

// memStore is an in-memory implementation of the repositories. A single
// mutex makes every method atomic, matching the single-statement guarantees
// of the SQL store.
type memStore struct {
	mu        sync.Mutex
	products  map[int64]*models.Product
	cart      map[cartKey]int
	cartOrder []cartKey
	users     map[int64]*models.User
	orders    map[string]*models.Order
	items     map[int64][]models.OrderItem
	favorites map[cartKey]bool
	processed map[string]bool
	coupons   []models.Coupon
	nextID    int64

	transitions int
	createErr   error
}

func newMemStore() *memStore {
	return &memStore{
		products:  make(map[int64]*models.Product),
		cart:      make(map[cartKey]int),
		users:     make(map[int64]*models.User),
		orders:    make(map[string]*models.Order),
		items:     make(map[int64][]models.OrderItem),
		favorites: make(map[cartKey]bool),
		processed: make(map[string]bool),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addProduct(p models.Product) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	m.products[p.ID] = &p
	return &p
}

func (m *memStore) addUser(u models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.users[u.ID] = &u
	return &u
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) order(ref string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[ref]
}

func (m *memStore) putOrder(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		o.ID = m.id()
	}
	m.orders[o.PaymentRef] = &o
}

// products

func (m *memStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListProducts(_ context.Context, search string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.sortedProducts() {
		if search == "" || strings.Contains(strings.ToLower(p.Name), strings.ToLower(search)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListFeaturedProducts(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.sortedProducts() {
		if p.IsFeatured {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListProductsByCategory(_ context.Context, category string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.sortedProducts() {
		if p.Category == strings.ToLower(category) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) RandomProducts(_ context.Context, n int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedProducts()
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *memStore) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) ToggleFeatured(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.IsFeatured = !p.IsFeatured
	cp := *p
	return &cp, nil
}

func (m *memStore) DeleteProduct(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *memStore) sortedProducts() []models.Product {
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// cart

func (m *memStore) AddCartItem(_ context.Context, userID, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cartKey{userID, productID}
	if _, ok := m.cart[k]; !ok {
		m.cartOrder = append(m.cartOrder, k)
	}
	m.cart[k]++
	return m.cart[k], nil
}

func (m *memStore) SetCartItemQuantity(_ context.Context, userID, productID int64, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cartKey{userID, productID}
	if _, ok := m.cart[k]; !ok {
		return false, nil
	}
	m.cart[k] = quantity
	return true, nil
}

func (m *memStore) RemoveCartItem(_ context.Context, userID, productID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cartKey{userID, productID}
	if _, ok := m.cart[k]; !ok {
		return false, nil
	}
	delete(m.cart, k)
	return true, nil
}

func (m *memStore) ClearCart(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.cart {
		if k.user == userID {
			delete(m.cart, k)
		}
	}
	return nil
}

func (m *memStore) ListCartLines(_ context.Context, userID int64) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := []models.CartLine{}
	for _, k := range m.cartOrder {
		qty, ok := m.cart[k]
		if !ok || k.user != userID {
			continue
		}
		line := models.CartLine{ProductID: k.product, Quantity: qty}
		if p, ok := m.products[k.product]; ok {
			cp := *p
			line.Product = &cp
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// orders

func (m *memStore) CreateOrderWithItems(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, dup := m.orders[order.PaymentRef]; dup {
		return store.ErrConflict
	}
	if order.IdempotencyKey != nil {
		for _, o := range m.orders {
			if o.UserID == order.UserID && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return store.ErrConflict
			}
		}
	}
	order.ID = m.id()
	order.CreatedAt = time.Now()
	cp := *order
	m.orders[order.PaymentRef] = &cp
	for i := range items {
		items[i].OrderID = order.ID
		items[i].ID = m.id()
	}
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (m *memStore) SetCheckoutURL(_ context.Context, orderID int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == orderID {
			o.CheckoutURL = url
		}
	}
	return nil
}

func (m *memStore) GetOrderByPaymentRef(_ context.Context, ref string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", ref, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) TransitionOrderStatus(_ context.Context, ref, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.PaymentStatus = status
	m.transitions++
	return true, nil
}

func (m *memStore) ListOrdersByUser(_ context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) ListStalePendingOrders(_ context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.PaymentStatus == models.PaymentStatusPending && o.CreatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// users

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return store.ErrConflict
		}
	}
	u.ID = m.id()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *memStore) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) UpdateUserRole(_ context.Context, id int64, role string) error {
	return m.updateUser(id, func(u *models.User) { u.Role = role })
}

func (m *memStore) UpdateUserProfile(_ context.Context, id int64, name, phone string) error {
	return m.updateUser(id, func(u *models.User) { u.Name, u.Phone = name, phone })
}

func (m *memStore) UpdateUserPassword(_ context.Context, id int64, hash string) error {
	return m.updateUser(id, func(u *models.User) { u.PasswordHash = hash })
}

func (m *memStore) updateUser(id int64, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(u)
	return nil
}

// favorites

func (m *memStore) ToggleFavorite(_ context.Context, userID, productID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cartKey{userID, productID}
	if m.favorites[k] {
		delete(m.favorites, k)
		return false, nil
	}
	m.favorites[k] = true
	return true, nil
}

func (m *memStore) ListFavoriteProducts(_ context.Context, userID int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.sortedProducts() {
		if m.favorites[cartKey{userID, p.ID}] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) FavoriteProductIDs(_ context.Context, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int64{}
	for k := range m.favorites {
		if k.user == userID {
			ids = append(ids, k.product)
		}
	}
	return ids, nil
}

// analytics

func (m *memStore) AnalyticsTotals(_ context.Context) (*models.AnalyticsData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := &models.AnalyticsData{
		Users:        int64(len(m.users)),
		Products:     int64(len(m.products)),
		TotalRevenue: decimal.Zero,
	}
	for _, o := range m.orders {
		if o.PaymentStatus == models.PaymentStatusPaid {
			data.TotalSales++
			data.TotalRevenue = data.TotalRevenue.Add(o.TotalAmount)
		}
	}
	return data, nil
}

func (m *memStore) DailySales(_ context.Context, from, to time.Time) ([]models.DailySales, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate := map[string]*models.DailySales{}
	for _, o := range m.orders {
		if o.PaymentStatus != models.PaymentStatusPaid || o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		date := o.CreatedAt.UTC().Format(time.DateOnly)
		d, ok := byDate[date]
		if !ok {
			d = &models.DailySales{Date: date, Revenue: decimal.Zero}
			byDate[date] = d
		}
		d.Sales++
		d.Revenue = d.Revenue.Add(o.TotalAmount)
	}
	out := []models.DailySales{}
	for _, d := range byDate {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// fulfillment

func (m *memStore) ApplyFulfillment(_ context.Context, req store.FulfillmentRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[req.EventID] {
		return false, nil
	}
	m.processed[req.EventID] = true
	for _, item := range req.Items {
		if p, ok := m.products[item.ProductID]; ok {
			p.Stock -= item.Quantity
			if p.Stock < 0 {
				p.Stock = 0
			}
		}
	}
	if req.CouponCode != "" {
		for i := range m.coupons {
			if m.coupons[i].Code == req.CouponCode && m.coupons[i].UserID == req.UserID {
				m.coupons[i].IsActive = false
			}
		}
	}
	if req.Reward != nil {
		c := *req.Reward
		c.IsActive = true
		m.coupons = append(m.coupons, c)
	}
	return true, nil
}

// fakeGateway is a scriptable payment gateway.
type fakeGateway struct {
	mu          sync.Mutex
	initiateErr error
	checkoutURL string
	verdict     *gateway.Verification
	verifyErr   error
	verifyDelay time.Duration
	initiated   []gateway.InitiateRequest
	verifyCalls int

	// blockInitiate makes Initiate wait for its context to end.
	blockInitiate bool
	initiateDelay time.Duration
}

func (g *fakeGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (string, error) {
	g.mu.Lock()
	g.initiated = append(g.initiated, req)
	err, url := g.initiateErr, g.checkoutURL
	block, delay := g.blockInitiate, g.initiateDelay
	g.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

func (g *fakeGateway) Verify(ctx context.Context, txRef string) (*gateway.Verification, error) {
	g.mu.Lock()
	g.verifyCalls++
	delay, verdict, err := g.verifyDelay, g.verdict, g.verifyErr
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	v := *verdict
	if v.TxRef == "" {
		v.TxRef = txRef
	}
	return &v, nil
}

func (g *fakeGateway) initiations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initiated)
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	paid    []*models.OrderPaidEvent
	failed  []*models.OrderFailedEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return nil
}

func (p *recordingPublisher) PublishOrderFailed(_ context.Context, e *models.OrderFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

func (p *recordingPublisher) counts() (int, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created), len(p.paid), len(p.failed)
}

func newTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}
