package store

import (
	"context"
	"errors"

	"gudangin/backend/internal/domain"
)

var (
	// ErrNotFound is returned when a referenced record does not resolve.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for requests that fail validation before
	// touching any state.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientStock is returned when a reservation exceeds the
	// available quantity or a stock-out exceeds the on-hand quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOverRelease is returned when a release exceeds the reserved
	// quantity. This indicates a data-integrity problem, not user error.
	ErrOverRelease = errors.New("release exceeds reserved quantity")

	// ErrOverReceive is returned when a purchase-order receive exceeds the
	// outstanding ordered quantity on a line.
	ErrOverReceive = errors.New("receive exceeds outstanding quantity")

	// ErrInvalidTransition is returned when a state-machine transition is
	// attempted from a terminal or incompatible state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Repository is the persistence contract. Two implementations exist:
// store/postgres for production and store/memory for tests and local runs.
//
// The ledger operations (ReserveStock through AdjustStock) are atomic per
// product: the counter change, the movement append and the product stock
// mirror refresh happen in one persistence unit, and two concurrent
// reservations can never both pass the availability check against a stale
// read.
type Repository interface {
	// Products.
	ListProducts(ctx context.Context, category string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// Customers.
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	// Suppliers.
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)

	// Inventory ledger. The record is created lazily by StockIn and
	// ReserveStock when a product has no ledger entry yet.
	GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error)
	ListInventory(ctx context.Context) ([]domain.InventoryRecord, error)
	ReserveStock(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error)
	ReleaseStock(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error)
	StockIn(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error)
	StockOut(ctx context.Context, productID string, qty int, ref domain.MovementRef) (*domain.InventoryRecord, error)
	AdjustStock(ctx context.Context, productID string, newOnHand int, ref domain.MovementRef) (*domain.InventoryRecord, error)
	UpdateReorderSettings(ctx context.Context, productID string, reorderPoint int, reorderQty int) (*domain.InventoryRecord, error)
	ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.StockMovement, error)

	// Orders.
	NextOrderNumber(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id string) error

	// Purchase orders.
	NextPurchaseOrderNumber(ctx context.Context) (string, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)

	// Payments.
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, paymentType string, limit int) ([]domain.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	UpdatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)

	// Audit trail.
	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	// User accounts, consumed by the auth layer.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
