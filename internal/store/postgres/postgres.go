package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gudangin/backend/internal/domain"
	"gudangin/backend/internal/store"
	"gudangin/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Products ---

func (s *Store) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category, price_cents, stock, active, created_at, updated_at
		FROM products
		WHERE ($1 = '' OR category = $1)
		ORDER BY category, name
	`, strings.TrimSpace(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, category, price_cents, stock, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, price_cents, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.SKU, product.Name, product.Category, product.PriceCents, product.Stock, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidInput, product.SKU)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	product.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_cents = $4, active = $5, updated_at = $6
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.PriceCents, product.Active, product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

// --- Customers ---

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, phone, tier, created_at
		FROM customers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Tier, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, tier, created_at
		FROM customers
		WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Tier, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Email == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, phone, tier, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Email, customer.Phone, customer.Tier, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email %s already registered", store.ErrInvalidInput, customer.Email)
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

// --- Suppliers ---

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, phone, address, active, created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sp domain.Supplier
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Email, &sp.Phone, &sp.Address, &sp.Active, &sp.CreatedAt); err != nil {
			return nil, err
		}
		sp.CreatedAt = sp.CreatedAt.UTC()
		suppliers = append(suppliers, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var sp domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, active, created_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&sp.ID, &sp.Name, &sp.Email, &sp.Phone, &sp.Address, &sp.Active, &sp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sp.CreatedAt = sp.CreatedAt.UTC()
	return &sp, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	supplier.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, email, phone, address, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, supplier.ID, supplier.Name, supplier.Email, supplier.Phone, supplier.Address, supplier.Active, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := supplier
	return &created, nil
}

// --- Inventory ledger ---

func (s *Store) GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	record, err := scanInventory(s.db.QueryRowContext(ctx, `
		SELECT id, product_id, quantity_on_hand, quantity_reserved, quantity_available,
			reorder_point, reorder_quantity, last_restocked, last_sold, created_at, updated_at
		FROM inventory_records
		WHERE product_id = $1
	`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity_on_hand, quantity_reserved, quantity_available,
			reorder_point, reorder_quantity, last_restocked, last_sold, created_at, updated_at
		FROM inventory_records
		ORDER BY product_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 128)
	for rows.Next() {
		var rec domain.InventoryRecord
		var lastRestocked, lastSold sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.QuantityOnHand, &rec.QuantityReserved, &rec.QuantityAvailable,
			&rec.ReorderPoint, &rec.ReorderQuantity, &lastRestocked, &lastSold, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		applyInventoryNulls(&rec, lastRestocked, lastSold)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ledgerOp runs one atomic ledger mutation: it locks the product's inventory
// row, applies the counter change, recomputes the available quantity, appends
// the movement and refreshes the product stock mirror, all inside a single
// serializable transaction. lazyCreate controls whether a missing inventory
// row is created on the fly (stock-in, reserve, adjust) or treated as
// ErrNotFound (release, stock-out).
func (s *Store) ledgerOp(ctx context.Context, productID string, movementType string, ref domain.MovementRef, lazyCreate bool, apply func(rec *domain.InventoryRecord) (int, error)) (*domain.InventoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productExists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&productExists); err != nil {
		return nil, err
	}
	if !productExists {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	record, err := scanInventory(tx.QueryRowContext(ctx, `
		SELECT id, product_id, quantity_on_hand, quantity_reserved, quantity_available,
			reorder_point, reorder_quantity, last_restocked, last_sold, created_at, updated_at
		FROM inventory_records
		WHERE product_id = $1
		FOR UPDATE
	`, productID))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if !lazyCreate {
			return nil, store.ErrNotFound
		}
		record = &domain.InventoryRecord{
			ID:        xid.New("inv"),
			ProductID: productID,
			CreatedAt: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_records (
				id, product_id, quantity_on_hand, quantity_reserved, quantity_available,
				reorder_point, reorder_quantity, created_at, updated_at
			)
			VALUES ($1,$2,0,0,0,0,0,$3,$3)
		`, record.ID, record.ProductID, now); err != nil {
			return nil, err
		}
	}

	movementQty, err := apply(record)
	if err != nil {
		return nil, err
	}

	record.QuantityAvailable = record.QuantityOnHand - record.QuantityReserved
	record.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_records
		SET quantity_on_hand = $2, quantity_reserved = $3, quantity_available = $4,
			last_restocked = $5, last_sold = $6, updated_at = $7
		WHERE product_id = $1
	`, productID, record.QuantityOnHand, record.QuantityReserved, record.QuantityAvailable,
		nullTime(record.LastRestocked), nullTime(record.LastSold), record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, product_id, type, quantity, reason, reference_type, reference_id,
			performed_by, notes, occurred_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, xid.New("mv"), productID, movementType, movementQty, ref.Reason, nullIfEmpty(ref.ReferenceType),
		nullIfEmpty(ref.ReferenceID), ref.PerformedBy, strings.TrimSpace(ref.Notes), now)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET stock = $2, updated_at = $3
		WHERE id = $1
	`, productID, record.QuantityOnHand, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) ReserveStock(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	return s.ledgerOp(ctx, productID, domain.MovementReserved, ref, true, func(rec *domain.InventoryRecord) (int, error) {
		available := rec.QuantityOnHand - rec.QuantityReserved
		if available < qty {
			return 0, fmt.Errorf("%w: requested %d, available %d", store.ErrInsufficientStock, qty, available)
		}
		rec.QuantityReserved += qty
		return qty, nil
	})
}

func (s *Store) ReleaseStock(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	return s.ledgerOp(ctx, productID, domain.MovementReleased, ref, false, func(rec *domain.InventoryRecord) (int, error) {
		if rec.QuantityReserved < qty {
			return 0, fmt.Errorf("%w: requested %d, reserved %d", store.ErrOverRelease, qty, rec.QuantityReserved)
		}
		rec.QuantityReserved -= qty
		return qty, nil
	})
}

func (s *Store) StockIn(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	return s.ledgerOp(ctx, productID, domain.MovementIn, ref, true, func(rec *domain.InventoryRecord) (int, error) {
		now := time.Now().UTC()
		rec.QuantityOnHand += qty
		rec.LastRestocked = &now
		return qty, nil
	})
}

func (s *Store) StockOut(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	return s.ledgerOp(ctx, productID, domain.MovementOut, ref, false, func(rec *domain.InventoryRecord) (int, error) {
		if rec.QuantityOnHand < qty {
			return 0, fmt.Errorf("%w: requested %d, on hand %d", store.ErrInsufficientStock, qty, rec.QuantityOnHand)
		}
		now := time.Now().UTC()
		rec.QuantityOnHand -= qty
		// The shipment consumes the reservation; without this the released
		// units would be double-counted back into the available pool.
		if rec.QuantityReserved >= qty {
			rec.QuantityReserved -= qty
		}
		rec.LastSold = &now
		return qty, nil
	})
}

func (s *Store) AdjustStock(ctx context.Context, productID string, newOnHand int, ref domain.MovementRef) (*domain.InventoryRecord, error) {
	if newOnHand < 0 {
		return nil, store.ErrInvalidInput
	}
	return s.ledgerOp(ctx, productID, domain.MovementAdjustment, ref, true, func(rec *domain.InventoryRecord) (int, error) {
		delta := newOnHand - rec.QuantityOnHand
		rec.QuantityOnHand = newOnHand
		return delta, nil
	})
}

func (s *Store) UpdateReorderSettings(ctx context.Context, productID string, reorderPoint int, reorderQty int) (*domain.InventoryRecord, error) {
	if reorderPoint < 0 || reorderQty < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productExists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&productExists); err != nil {
		return nil, err
	}
	if !productExists {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	record, err := scanInventory(tx.QueryRowContext(ctx, `
		SELECT id, product_id, quantity_on_hand, quantity_reserved, quantity_available,
			reorder_point, reorder_quantity, last_restocked, last_sold, created_at, updated_at
		FROM inventory_records
		WHERE product_id = $1
		FOR UPDATE
	`, productID))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		// A product can carry reorder settings before its first stock-in, so
		// the ledger row is created lazily here just like the ledger ops do.
		record = &domain.InventoryRecord{
			ID:        xid.New("inv"),
			ProductID: productID,
			CreatedAt: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_records (
				id, product_id, quantity_on_hand, quantity_reserved, quantity_available,
				reorder_point, reorder_quantity, created_at, updated_at
			)
			VALUES ($1,$2,0,0,0,0,0,$3,$3)
		`, record.ID, record.ProductID, now); err != nil {
			return nil, err
		}
	}

	record.ReorderPoint = reorderPoint
	record.ReorderQuantity = reorderQty
	record.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_records
		SET reorder_point = $2, reorder_quantity = $3, updated_at = $4
		WHERE product_id = $1
	`, productID, reorderPoint, reorderQty, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	if _, err := s.GetInventory(ctx, productID); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, product_id, type, quantity, reason, COALESCE(reference_type,''),
			COALESCE(reference_id,''), performed_by, notes, occurred_at
		FROM stock_movements
		WHERE product_id = $1
			AND ($2 = '' OR type = $2)
			AND ($3 = '' OR performed_by = $3)
	`
	args := []any{productID, filter.Type, filter.PerformedBy}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var mv domain.StockMovement
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.Type, &mv.Quantity, &mv.Reason, &mv.ReferenceType,
			&mv.ReferenceID, &mv.PerformedBy, &mv.Notes, &mv.OccurredAt); err != nil {
			return nil, err
		}
		mv.OccurredAt = mv.OccurredAt.UTC()
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// --- Orders ---

func (s *Store) NextOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.nextCounter(ctx, "order")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%06d", time.Now().UTC().Year(), seq), nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.OrderNumber == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_name, customer_email, customer_id, customer_tier,
			delivery_type, items, subtotal_cents, discount_cents, shipping_fee_cents,
			tax_cents, total_cents, status, payment_status, notes, cancel_reason,
			shipped_at, delivered_at, cancelled_at, paid_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, order.ID, order.OrderNumber, order.CustomerName, order.CustomerEmail, nullIfEmpty(order.CustomerID),
		order.CustomerTier, order.DeliveryType, itemsJSON, order.SubtotalCents, order.DiscountCents,
		order.ShippingFeeCents, order.TaxCents, order.TotalCents, order.Status, order.PaymentStatus,
		order.Notes, order.CancelReason, nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
		nullTime(order.CancelledAt), nullTime(order.PaidAt), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order number %s already exists", store.ErrInvalidInput, order.OrderNumber)
		}
		return nil, err
	}

	created := order
	return &created, nil
}

const orderColumns = `
	id, order_number, customer_name, customer_email, COALESCE(customer_id,''), customer_tier,
	delivery_type, items, subtotal_cents, discount_cents, shipping_fee_cents,
	tax_cents, total_cents, status, payment_status, notes, cancel_reason,
	shipped_at, delivered_at, cancelled_at, paid_at, created_at, updated_at
`

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, strings.TrimSpace(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		return nil, store.ErrInvalidInput
	}
	order.UpdatedAt = time.Now().UTC()

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET items = $2, subtotal_cents = $3, discount_cents = $4, shipping_fee_cents = $5,
			tax_cents = $6, total_cents = $7, status = $8, payment_status = $9, notes = $10,
			cancel_reason = $11, shipped_at = $12, delivered_at = $13, cancelled_at = $14,
			paid_at = $15, updated_at = $16
		WHERE id = $1
	`, order.ID, itemsJSON, order.SubtotalCents, order.DiscountCents, order.ShippingFeeCents,
		order.TaxCents, order.TotalCents, order.Status, order.PaymentStatus, order.Notes,
		order.CancelReason, nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
		nullTime(order.CancelledAt), nullTime(order.PaidAt), order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := order
	return &updated, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Purchase orders ---

func (s *Store) NextPurchaseOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.nextCounter(ctx, "purchase_order")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PO%d%06d", time.Now().UTC().Year(), seq), nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.PONumber == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, err := s.GetSupplier(ctx, po.SupplierID); err != nil {
		return nil, err
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	now := time.Now().UTC()
	po.CreatedAt = now
	po.UpdatedAt = now

	itemsJSON, err := json.Marshal(po.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO purchase_orders (
			id, po_number, supplier_id, items, total_cents, paid_amount_cents,
			payment_status, status, notes, approved_by, approved_at, received_at,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, po.ID, po.PONumber, po.SupplierID, itemsJSON, po.TotalCents, po.PaidAmountCents,
		po.PaymentStatus, po.Status, po.Notes, po.ApprovedBy, nullTime(po.ApprovedAt),
		nullTime(po.ReceivedAt), po.CreatedAt, po.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: po number %s already exists", store.ErrInvalidInput, po.PONumber)
		}
		return nil, err
	}

	created := po
	return &created, nil
}

const purchaseOrderColumns = `
	id, po_number, supplier_id, items, total_cents, paid_amount_cents,
	payment_status, status, notes, approved_by, approved_at, received_at,
	created_at, updated_at
`

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, strings.TrimSpace(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.ID == "" {
		return nil, store.ErrInvalidInput
	}
	po.UpdatedAt = time.Now().UTC()

	itemsJSON, err := json.Marshal(po.Items)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET items = $2, total_cents = $3, paid_amount_cents = $4, payment_status = $5,
			status = $6, notes = $7, approved_by = $8, approved_at = $9, received_at = $10,
			updated_at = $11
		WHERE id = $1
	`, po.ID, itemsJSON, po.TotalCents, po.PaidAmountCents, po.PaymentStatus, po.Status,
		po.Notes, po.ApprovedBy, nullTime(po.ApprovedAt), nullTime(po.ReceivedAt), po.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := po
	return &updated, nil
}

// --- Payments ---

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if payment.AmountCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, payment_type, order_id, purchase_order_id, amount_cents,
			refunded_amount_cents, method, reference, status, refund_reason,
			completed_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, payment.ID, payment.PaymentType, nullIfEmpty(payment.OrderID), nullIfEmpty(payment.PurchaseOrderID),
		payment.AmountCents, payment.RefundedAmountCents, payment.Method, payment.Reference,
		payment.Status, payment.RefundReason, nullTime(payment.CompletedAt), payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		return nil, err
	}

	created := payment
	return &created, nil
}

const paymentColumns = `
	id, payment_type, COALESCE(order_id,''), COALESCE(purchase_order_id,''), amount_cents,
	refunded_amount_cents, method, reference, status, refund_reason,
	completed_at, created_at, updated_at
`

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return payment, nil
}

func (s *Store) ListPayments(ctx context.Context, paymentType string, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE ($1 = '' OR payment_type = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, strings.TrimSpace(paymentType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) UpdatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if payment.ID == "" {
		return nil, store.ErrInvalidInput
	}
	payment.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET amount_cents = $2, refunded_amount_cents = $3, method = $4, reference = $5,
			status = $6, refund_reason = $7, completed_at = $8, updated_at = $9
		WHERE id = $1
	`, payment.ID, payment.AmountCents, payment.RefundedAmountCents, payment.Method,
		payment.Reference, payment.Status, payment.RefundReason, nullTime(payment.CompletedAt), payment.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := payment
	return &updated, nil
}

// --- Audit trail ---

func (s *Store) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// --- User accounts ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s already exists", store.ErrInvalidInput, username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Helpers ---

// nextCounter atomically bumps a named sequence. The counters table keeps
// numbering stable across restarts, unlike the in-memory store.
func (s *Store) nextCounter(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, name).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventory(row rowScanner) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	var lastRestocked, lastSold sql.NullTime
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.QuantityOnHand, &rec.QuantityReserved, &rec.QuantityAvailable,
		&rec.ReorderPoint, &rec.ReorderQuantity, &lastRestocked, &lastSold, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	applyInventoryNulls(&rec, lastRestocked, lastSold)
	return &rec, nil
}

func applyInventoryNulls(rec *domain.InventoryRecord, lastRestocked sql.NullTime, lastSold sql.NullTime) {
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if lastRestocked.Valid {
		at := lastRestocked.Time.UTC()
		rec.LastRestocked = &at
	}
	if lastSold.Valid {
		at := lastSold.Time.UTC()
		rec.LastSold = &at
	}
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON []byte
	var shippedAt, deliveredAt, cancelledAt, paidAt sql.NullTime
	err := row.Scan(&order.ID, &order.OrderNumber, &order.CustomerName, &order.CustomerEmail, &order.CustomerID,
		&order.CustomerTier, &order.DeliveryType, &itemsJSON, &order.SubtotalCents, &order.DiscountCents,
		&order.ShippingFeeCents, &order.TaxCents, &order.TotalCents, &order.Status, &order.PaymentStatus,
		&order.Notes, &order.CancelReason, &shippedAt, &deliveredAt, &cancelledAt, &paidAt,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.ShippedAt = timePtr(shippedAt)
	order.DeliveredAt = timePtr(deliveredAt)
	order.CancelledAt = timePtr(cancelledAt)
	order.PaidAt = timePtr(paidAt)
	return &order, nil
}

func scanPurchaseOrder(row rowScanner) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var itemsJSON []byte
	var approvedAt, receivedAt sql.NullTime
	err := row.Scan(&po.ID, &po.PONumber, &po.SupplierID, &itemsJSON, &po.TotalCents, &po.PaidAmountCents,
		&po.PaymentStatus, &po.Status, &po.Notes, &po.ApprovedBy, &approvedAt, &receivedAt,
		&po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &po.Items); err != nil {
		return nil, err
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.UpdatedAt = po.UpdatedAt.UTC()
	po.ApprovedAt = timePtr(approvedAt)
	po.ReceivedAt = timePtr(receivedAt)
	return &po, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var completedAt sql.NullTime
	err := row.Scan(&payment.ID, &payment.PaymentType, &payment.OrderID, &payment.PurchaseOrderID,
		&payment.AmountCents, &payment.RefundedAmountCents, &payment.Method, &payment.Reference,
		&payment.Status, &payment.RefundReason, &completedAt, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, err
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	payment.UpdatedAt = payment.UpdatedAt.UTC()
	payment.CompletedAt = timePtr(completedAt)
	return &payment, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}
