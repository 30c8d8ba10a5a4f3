package domain

import "time"

// Actor identifies the authenticated user performing an operation. It is
// carried through context and stamped into movement records and audit logs.
type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Product struct {
	ID       string `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Category string `json:"category"`

	PriceCents int64 `json:"price_cents"`

	// Stock mirrors the inventory record's on-hand quantity. It is refreshed
	// synchronously after every ledger mutation but the ledger stays
	// authoritative.
	Stock int `json:"stock"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	TierRetail    = "retail"
	TierWholesale = "wholesale"
	TierVIP       = "vip"
)

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementAdjustment = "adjustment"
	MovementReserved   = "reserved"
	MovementReleased   = "released"
)

const (
	ReferenceOrder         = "order"
	ReferencePurchaseOrder = "purchase_order"
	ReferenceManual        = "manual"
)

// StockMovement is one immutable ledger entry. For adjustments Quantity holds
// the signed delta against the previous on-hand count.
type StockMovement struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	Type          string    `json:"type"`
	Quantity      int       `json:"quantity"`
	Reason        string    `json:"reason"`
	ReferenceType string    `json:"reference_type,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	PerformedBy   string    `json:"performed_by"`
	Notes         string    `json:"notes,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// MovementRef carries the caller-supplied attribution for a ledger operation.
// The store fills in type, quantity and timestamp.
type MovementRef struct {
	Reason        string
	ReferenceType string
	ReferenceID   string
	PerformedBy   string
	Notes         string
}

type InventoryRecord struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`

	QuantityOnHand   int `json:"quantity_on_hand"`
	QuantityReserved int `json:"quantity_reserved"`
	// QuantityAvailable is always recomputed as on-hand minus reserved before
	// the record is persisted; it is never written independently.
	QuantityAvailable int `json:"quantity_available"`

	ReorderPoint    int `json:"reorder_point"`
	ReorderQuantity int `json:"reorder_quantity"`

	LastRestocked *time.Time `json:"last_restocked,omitempty"`
	LastSold      *time.Time `json:"last_sold,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r InventoryRecord) IsLowStock() bool {
	return r.QuantityAvailable <= r.ReorderPoint
}

const (
	AlertSeverityCritical = "critical"
	AlertSeverityHigh     = "high"
	AlertSeverityMedium   = "medium"
)

type InventoryAlert struct {
	ProductID         string `json:"product_id"`
	ProductName       string `json:"product_name"`
	Severity          string `json:"severity"`
	QuantityAvailable int    `json:"quantity_available"`
	ReorderPoint      int    `json:"reorder_point"`
	ReorderQuantity   int    `json:"reorder_quantity"`
}

type InventoryAlertsResponse struct {
	Alerts      []InventoryAlert `json:"alerts"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type MovementFilter struct {
	Type        string
	PerformedBy string
	From        time.Time
	To          time.Time
	Limit       int
}

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipping   = "shipping"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPartial  = "partial"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	DeliveryTypeDelivery = "delivery"
	DeliveryTypePickup   = "pickup"
)

// OrderItem is a snapshot of the product at order-creation time. Price and
// name are deliberately decoupled from the live product record.
type OrderItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	PriceCents    int64  `json:"price_cents"`
	Quantity      int    `json:"quantity"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerTier  string `json:"customer_tier"`
	DeliveryType  string `json:"delivery_type"`

	Items []OrderItem `json:"items"`

	SubtotalCents    int64 `json:"subtotal_cents"`
	DiscountCents    int64 `json:"discount_cents"`
	ShippingFeeCents int64 `json:"shipping_fee_cents"`
	TaxCents         int64 `json:"tax_cents"`
	TotalCents       int64 `json:"total_cents"`

	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`

	Notes        string `json:"notes,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderCreateRequest struct {
	CustomerName  string             `json:"customer_name"`
	CustomerEmail string             `json:"customer_email"`
	DeliveryType  string             `json:"delivery_type"`
	Notes         string             `json:"notes"`
	Items         []OrderItemRequest `json:"items"`
}

type OrderUpdateItemsRequest struct {
	Items []OrderItemRequest `json:"items"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderCancelRequest struct {
	Reason string `json:"reason"`
}

type OrderStatusCount struct {
	Status       string `json:"status"`
	Count        int    `json:"count"`
	RevenueCents int64  `json:"revenue_cents"`
}

type OrderStats struct {
	Total             int                `json:"total"`
	TotalRevenueCents int64              `json:"total_revenue_cents"`
	ByStatus          []OrderStatusCount `json:"by_status"`
}

const (
	POStatusPending   = "pending"
	POStatusApproved  = "approved"
	POStatusReceived  = "received"
	POStatusCancelled = "cancelled"
)

const (
	POPaymentUnpaid  = "unpaid"
	POPaymentPartial = "partial"
	POPaymentPaid    = "paid"
)

type PurchaseOrderItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	OrderedQty    int    `json:"ordered_qty"`
	ReceivedQty   int    `json:"received_qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

type PurchaseOrder struct {
	ID         string `json:"id"`
	PONumber   string `json:"po_number"`
	SupplierID string `json:"supplier_id"`

	Items []PurchaseOrderItem `json:"items"`

	TotalCents      int64  `json:"total_cents"`
	PaidAmountCents int64  `json:"paid_amount_cents"`
	PaymentStatus   string `json:"payment_status"`
	Status          string `json:"status"`

	Notes string `json:"notes,omitempty"`

	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PurchaseOrderItemRequest struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID string                     `json:"supplier_id"`
	Notes      string                     `json:"notes"`
	Items      []PurchaseOrderItemRequest `json:"items"`
}

type POReceiveItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type PurchaseOrderReceiveRequest struct {
	Items []POReceiveItem `json:"items"`
}

type PurchaseOrderPaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
}

type PurchaseOrderStats struct {
	Total            int   `json:"total"`
	Pending          int   `json:"pending"`
	Approved         int   `json:"approved"`
	Received         int   `json:"received"`
	Cancelled        int   `json:"cancelled"`
	TotalValueCents  int64 `json:"total_value_cents"`
	OutstandingCents int64 `json:"outstanding_cents"`
}

const (
	PaymentTypeSales    = "sales"
	PaymentTypePurchase = "purchase"
)

const (
	PayStatusPending   = "pending"
	PayStatusCompleted = "completed"
	PayStatusFailed    = "failed"
	PayStatusCancelled = "cancelled"
	PayStatusRefunded  = "refunded"
)

type Payment struct {
	ID          string `json:"id"`
	PaymentType string `json:"payment_type"`

	OrderID         string `json:"order_id,omitempty"`
	PurchaseOrderID string `json:"purchase_order_id,omitempty"`

	AmountCents         int64 `json:"amount_cents"`
	RefundedAmountCents int64 `json:"refunded_amount_cents"`

	Method       string `json:"method"`
	Reference    string `json:"reference,omitempty"`
	Status       string `json:"status"`
	RefundReason string `json:"refund_reason,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (p Payment) NetAmountCents() int64 {
	return p.AmountCents - p.RefundedAmountCents
}

type PaymentRefundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

type ProductCreateRequest struct {
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	PriceCents      int64  `json:"price_cents"`
	InitialStock    int    `json:"initial_stock"`
	ReorderPoint    int    `json:"reorder_point"`
	ReorderQuantity int    `json:"reorder_quantity"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Tier  string `json:"tier"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type StockAdjustRequest struct {
	NewOnHand int    `json:"new_on_hand"`
	Reason    string `json:"reason"`
}

type ReorderSettingsRequest struct {
	ReorderPoint    *int `json:"reorder_point,omitempty"`
	ReorderQuantity *int `json:"reorder_quantity,omitempty"`
}

type StockInItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type BulkStockInRequest struct {
	Reason string        `json:"reason"`
	Items  []StockInItem `json:"items"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
