package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"gudangin/backend/internal/domain"
	"gudangin/backend/internal/store"
)

func TestLedgerReserveShipRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("GUDANGIN_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GUDANGIN_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-ledger-it-%d", stamp)
	sku := fmt.Sprintf("SKU-LEDGER-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, price_cents, stock, active, created_at, updated_at)
		VALUES ($1, $2, 'Produk Ledger IT', 'staple', 5000, 0, true, now(), now())
	`, productID, sku); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	ref := domain.MovementRef{Reason: "integration test", PerformedBy: "tester"}

	// The ledger row is created lazily by the first stock-in.
	rec, err := s.StockIn(ctx, productID, 10, ref)
	if err != nil {
		t.Fatalf("stock in: %v", err)
	}
	if rec.QuantityOnHand != 10 || rec.QuantityAvailable != 10 {
		t.Fatalf("unexpected record after stock in: %+v", rec)
	}

	if _, err := s.ReserveStock(ctx, productID, 4, ref); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := s.ReserveStock(ctx, productID, 7, ref); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	rec, err = s.StockOut(ctx, productID, 4, ref)
	if err != nil {
		t.Fatalf("stock out: %v", err)
	}
	if rec.QuantityOnHand != 6 || rec.QuantityReserved != 0 || rec.QuantityAvailable != 6 {
		t.Fatalf("shipment must consume the reservation: %+v", rec)
	}

	// The denormalized product stock mirror follows the ledger.
	var mirror int
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&mirror); err != nil {
		t.Fatalf("query product stock: %v", err)
	}
	if mirror != 6 {
		t.Fatalf("expected product stock mirror 6, got %d", mirror)
	}

	movements, err := s.ListMovements(ctx, productID, domain.MovementFilter{})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 3 {
		t.Fatalf("expected 3 movements (in, reserved, out), got %d", len(movements))
	}
}

func TestUpdateReorderSettingsBeforeFirstStockIn(t *testing.T) {
	databaseURL := os.Getenv("GUDANGIN_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GUDANGIN_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-reorder-it-%d", stamp)
	sku := fmt.Sprintf("SKU-REORDER-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, price_cents, stock, active, created_at, updated_at)
		VALUES ($1, $2, 'Produk Reorder IT', 'staple', 5000, 0, true, now(), now())
	`, productID, sku); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	// No stock-in has run; the ledger row must be created lazily here too.
	rec, err := s.UpdateReorderSettings(ctx, productID, 5, 24)
	if err != nil {
		t.Fatalf("update reorder settings: %v", err)
	}
	if rec.ReorderPoint != 5 || rec.ReorderQuantity != 24 || rec.QuantityOnHand != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// The row survives and is picked up by the regular ledger path.
	after, err := s.StockIn(ctx, productID, 3, domain.MovementRef{Reason: "integration test", PerformedBy: "tester"})
	if err != nil {
		t.Fatalf("stock in: %v", err)
	}
	if after.ReorderPoint != 5 || after.QuantityOnHand != 3 {
		t.Fatalf("expected settings retained after stock in: %+v", after)
	}

	if _, err := s.UpdateReorderSettings(ctx, "prod-missing", 1, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
}
