// Package memory implements store.Repository with in-process maps. It backs
// tests and local runs without a database. The single store mutex doubles as
// the per-product serialization point for ledger operations: every
// availability check and counter update happens under the same lock, so
// concurrent reservations can never act on a stale read.
package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gudangin/backend/internal/domain"
	"gudangin/backend/internal/store"
	"gudangin/backend/internal/xid"
)

type Store struct {
	mu sync.RWMutex

	products       map[string]domain.Product
	customers      map[string]domain.Customer
	suppliers      map[string]domain.Supplier
	inventory      map[string]domain.InventoryRecord
	movements      map[string][]domain.StockMovement
	orders         map[string]domain.Order
	purchaseOrders map[string]domain.PurchaseOrder
	payments       map[string]domain.Payment
	auditLogs      []domain.AuditLog
	users          map[string]domain.UserAccount

	orderSeq int
	poSeq    int
}

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		customers:      make(map[string]domain.Customer),
		suppliers:      make(map[string]domain.Supplier),
		inventory:      make(map[string]domain.InventoryRecord),
		movements:      make(map[string][]domain.StockMovement),
		orders:         make(map[string]domain.Order),
		purchaseOrders: make(map[string]domain.PurchaseOrder),
		payments:       make(map[string]domain.Payment),
		users:          make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small catalog, customers for
// every tier, one supplier and the default user accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seedProducts := []struct {
		product  domain.Product
		onHand   int
		reorder  int
		reorderQ int
	}{
		{domain.Product{ID: "prod-kopi-01", SKU: "SKU-KOPI-01", Name: "Kopi Bubuk 250g", Category: "beverage", PriceCents: 2500, Active: true}, 100, 20, 50},
		{domain.Product{ID: "prod-gula-01", SKU: "SKU-GULA-01", Name: "Gula Pasir 1kg", Category: "staple", PriceCents: 1800, Active: true}, 50, 10, 40},
		{domain.Product{ID: "prod-beras-01", SKU: "SKU-BERAS-01", Name: "Beras Premium 5kg", Category: "staple", PriceCents: 12000, Active: true}, 3, 5, 25},
	}
	for _, seed := range seedProducts {
		p := seed.product
		p.Stock = seed.onHand
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.inventory[p.ID] = domain.InventoryRecord{
			ID:                xid.New("inv"),
			ProductID:         p.ID,
			QuantityOnHand:    seed.onHand,
			QuantityAvailable: seed.onHand,
			ReorderPoint:      seed.reorder,
			ReorderQuantity:   seed.reorderQ,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	seedCustomers := []domain.Customer{
		{ID: "cust-budi", Name: "Budi Santoso", Email: "budi@example.com", Phone: "0812000001", Tier: domain.TierWholesale, CreatedAt: now},
		{ID: "cust-sinta", Name: "Sinta Dewi", Email: "sinta@example.com", Phone: "0812000002", Tier: domain.TierVIP, CreatedAt: now},
		{ID: "cust-agus", Name: "Agus Wijaya", Email: "agus@example.com", Phone: "0812000003", Tier: domain.TierRetail, CreatedAt: now},
	}
	for _, c := range seedCustomers {
		s.customers[c.ID] = c
	}

	s.suppliers["sup-maju-01"] = domain.Supplier{
		ID:        "sup-maju-01",
		Name:      "CV Maju Bersama",
		Email:     "sales@majubersama.example.com",
		Phone:     "021555001",
		Address:   "Jl. Industri No. 4, Bekasi",
		Active:    true,
		CreatedAt: now,
	}

	s.seedUsers(now)

	return s
}

func (s *Store) seedUsers(now time.Time) {
	seeds := []struct {
		username string
		envVar   string
		fallback string
		role     string
	}{
		{"admin", "ADMIN_PASSWORD", "admin123", "admin"},
		{"staff", "STAFF_PASSWORD", "staff123", "staff"},
	}
	for _, seed := range seeds {
		password := os.Getenv(seed.envVar)
		if password == "" {
			password = seed.fallback
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			continue
		}
		s.users[seed.username] = domain.UserAccount{
			Username:  seed.username,
			Password:  string(hashed),
			Role:      seed.role,
			Active:    true,
			CreatedAt: now,
		}
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// --- Products ---

func (s *Store) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmpString(a.Category, b.Category); c != 0 {
			return c
		}
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := p
	return &clone, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, store.ErrInvalidInput
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Active = true
	s.products[product.ID] = product

	clone := product
	return &clone, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Category == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.SKU = existing.SKU
	product.Stock = existing.Stock
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product

	clone := product
	return &clone, nil
}

// --- Customers ---

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if strings.ToLower(c.Email) == email {
			clone := c
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Email == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.customers {
		if strings.EqualFold(existing.Email, customer.Email) {
			return nil, store.ErrInvalidInput
		}
	}

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	customer.CreatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer

	clone := customer
	return &clone, nil
}

// --- Suppliers ---

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sup, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := sup
	return &clone, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	supplier.Active = true
	supplier.CreatedAt = time.Now().UTC()
	s.suppliers[supplier.ID] = supplier

	clone := supplier
	return &clone, nil
}

// --- Inventory ledger ---

func (s *Store) GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.inventory[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := record
	return &clone, nil
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.InventoryRecord, 0, len(s.inventory))
	for _, record := range s.inventory {
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b domain.InventoryRecord) int {
		return cmpString(a.ProductID, b.ProductID)
	})
	return records, nil
}

// ensureInventoryLocked returns the ledger record for productID, creating it
// lazily with zero counters. Caller must hold the write lock.
func (s *Store) ensureInventoryLocked(productID string) (domain.InventoryRecord, error) {
	if _, ok := s.products[productID]; !ok {
		return domain.InventoryRecord{}, store.ErrNotFound
	}
	record, ok := s.inventory[productID]
	if !ok {
		now := time.Now().UTC()
		record = domain.InventoryRecord{
			ID:        xid.New("inv"),
			ProductID: productID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return record, nil
}

// commitInventoryLocked recomputes the available counter, persists the record,
// appends the movement and refreshes the product stock mirror in one step.
// Caller must hold the write lock.
func (s *Store) commitInventoryLocked(record domain.InventoryRecord, mvType string, qty int, ref domain.MovementRef) domain.InventoryRecord {
	now := time.Now().UTC()
	record.QuantityAvailable = record.QuantityOnHand - record.QuantityReserved
	record.UpdatedAt = now
	s.inventory[record.ProductID] = record

	s.movements[record.ProductID] = append(s.movements[record.ProductID], domain.StockMovement{
		ID:            xid.New("mv"),
		ProductID:     record.ProductID,
		Type:          mvType,
		Quantity:      qty,
		Reason:        ref.Reason,
		ReferenceType: ref.ReferenceType,
		ReferenceID:   ref.ReferenceID,
		PerformedBy:   ref.PerformedBy,
		Notes:         ref.Notes,
		OccurredAt:    now,
	})

	if product, ok := s.products[record.ProductID]; ok {
		product.Stock = record.QuantityOnHand
		product.UpdatedAt = now
		s.products[record.ProductID] = product
	}

	return record
}

func (s *Store) ReserveStock(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.ensureInventoryLocked(productID)
	if err != nil {
		return nil, err
	}
	if record.QuantityOnHand-record.QuantityReserved < qty {
		return nil, fmt.Errorf("%w: requested %d, available %d", store.ErrInsufficientStock, qty, record.QuantityOnHand-record.QuantityReserved)
	}

	record.QuantityReserved += qty
	record = s.commitInventoryLocked(record, domain.MovementReserved, qty, ref)

	clone := record
	return &clone, nil
}

func (s *Store) ReleaseStock(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.inventory[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if record.QuantityReserved < qty {
		return nil, fmt.Errorf("%w: requested %d, reserved %d", store.ErrOverRelease, qty, record.QuantityReserved)
	}

	record.QuantityReserved -= qty
	record = s.commitInventoryLocked(record, domain.MovementReleased, qty, ref)

	clone := record
	return &clone, nil
}

func (s *Store) StockIn(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.ensureInventoryLocked(productID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record.QuantityOnHand += qty
	record.LastRestocked = &now
	record = s.commitInventoryLocked(record, domain.MovementIn, qty, ref)

	clone := record
	return &clone, nil
}

func (s *Store) StockOut(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.inventory[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if record.QuantityOnHand < qty {
		return nil, fmt.Errorf("%w: requested %d, on hand %d", store.ErrInsufficientStock, qty, record.QuantityOnHand)
	}

	now := time.Now().UTC()
	record.QuantityOnHand -= qty
	// The shipment consumes the reservation; without this the released units
	// would be double-counted back into the available pool.
	if record.QuantityReserved >= qty {
		record.QuantityReserved -= qty
	}
	record.LastSold = &now
	record = s.commitInventoryLocked(record, domain.MovementOut, qty, ref)

	clone := record
	return &clone, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, newOnHand int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if newOnHand < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.ensureInventoryLocked(productID)
	if err != nil {
		return nil, err
	}

	delta := newOnHand - record.QuantityOnHand
	record.QuantityOnHand = newOnHand
	record = s.commitInventoryLocked(record, domain.MovementAdjustment, delta, ref)

	clone := record
	return &clone, nil
}

func (s *Store) UpdateReorderSettings(ctx context.Context, productID string, reorderPoint int, reorderQty int) (*domain.InventoryRecord, error) {
	if reorderPoint < 0 || reorderQty < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.ensureInventoryLocked(productID)
	if err != nil {
		return nil, err
	}
	record.ReorderPoint = reorderPoint
	record.ReorderQuantity = reorderQty
	record.QuantityAvailable = record.QuantityOnHand - record.QuantityReserved
	record.UpdatedAt = time.Now().UTC()
	s.inventory[productID] = record

	clone := record
	return &clone, nil
}

func (s *Store) ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.inventory[productID]; !ok {
		return nil, store.ErrNotFound
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	history := s.movements[productID]
	result := make([]domain.StockMovement, 0, limit)
	// Newest first.
	for i := len(history) - 1; i >= 0 && len(result) < limit; i-- {
		mv := history[i]
		if filter.Type != "" && mv.Type != filter.Type {
			continue
		}
		if filter.PerformedBy != "" && mv.PerformedBy != filter.PerformedBy {
			continue
		}
		if !filter.From.IsZero() && mv.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && mv.OccurredAt.After(filter.To) {
			continue
		}
		result = append(result, mv)
	}
	return result, nil
}

// --- Orders ---

func (s *Store) NextOrderNumber(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq++
	return fmt.Sprintf("ORD-%d-%06d", time.Now().UTC().Year(), s.orderSeq), nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.OrderNumber == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	s.orders[order.ID] = cloneOrder(order)

	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		// Newest first, order number as tie-break.
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return cmpString(b.OrderNumber, a.OrderNumber)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[order.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.CreatedAt = existing.CreatedAt
	order.UpdatedAt = time.Now().UTC()
	s.orders[order.ID] = cloneOrder(order)

	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

// --- Purchase orders ---

func (s *Store) NextPurchaseOrderNumber(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.poSeq++
	return fmt.Sprintf("PO%d%06d", time.Now().UTC().Year(), s.poSeq), nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.PONumber == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[po.SupplierID]; !ok {
		return nil, store.ErrNotFound
	}

	if po.ID == "" {
		po.ID = xid.New("po")
	}
	now := time.Now().UTC()
	po.CreatedAt = now
	po.UpdatedAt = now
	s.purchaseOrders[po.ID] = clonePurchaseOrder(po)

	clone := clonePurchaseOrder(po)
	return &clone, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := clonePurchaseOrder(po)
	return &clone, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.PurchaseOrder, 0, len(s.purchaseOrders))
	for _, po := range s.purchaseOrders {
		if status != "" && po.Status != status {
			continue
		}
		orders = append(orders, clonePurchaseOrder(po))
	}
	slices.SortFunc(orders, func(a, b domain.PurchaseOrder) int {
		return cmpString(b.PONumber, a.PONumber)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) UpdatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.purchaseOrders[po.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	po.CreatedAt = existing.CreatedAt
	po.UpdatedAt = time.Now().UTC()
	s.purchaseOrders[po.ID] = clonePurchaseOrder(po)

	clone := clonePurchaseOrder(po)
	return &clone, nil
}

// --- Payments ---

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if payment.AmountCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if payment.OrderID == "" && payment.PurchaseOrderID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	s.payments[payment.ID] = payment

	clone := payment
	return &clone, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := payment
	return &clone, nil
}

func (s *Store) ListPayments(ctx context.Context, paymentType string, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(s.payments))
	for _, payment := range s.payments {
		if paymentType != "" && payment.PaymentType != paymentType {
			continue
		}
		payments = append(payments, payment)
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	if len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, 4)
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			payments = append(payments, payment)
		}
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		return cmpString(a.ID, b.ID)
	})
	return payments, nil
}

func (s *Store) UpdatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.payments[payment.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	payment.CreatedAt = existing.CreatedAt
	payment.UpdatedAt = time.Now().UTC()
	s.payments[payment.ID] = payment

	clone := payment
	return &clone, nil
}

// --- Audit logs ---

func (s *Store) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.auditLogs) - limit
	if start < 0 {
		start = 0
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= start; i-- {
		result = append(result, s.auditLogs[i])
	}
	return result, nil
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidInput
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

// --- clone helpers ---

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Items = make([]domain.OrderItem, len(order.Items))
	copy(clone.Items, order.Items)
	return clone
}

func clonePurchaseOrder(po domain.PurchaseOrder) domain.PurchaseOrder {
	clone := po
	clone.Items = make([]domain.PurchaseOrderItem, len(po.Items))
	copy(clone.Items, po.Items)
	return clone
}
