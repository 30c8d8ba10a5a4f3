package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"gudangin/backend/internal/cache"
	"gudangin/backend/internal/domain"
	"gudangin/backend/internal/store"
	"gudangin/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Pricing policy applied at order creation. Totals are computed once and
// stored on the order; they are never recalculated from live product prices.
const (
	shippingFeeCents = 1000
	taxRatePercent   = 10
)

var tierDiscountPercent = map[string]int64{
	domain.TierRetail:    0,
	domain.TierWholesale: 10,
	domain.TierVIP:       15,
}

type Service struct {
	repo     store.Repository
	alerts   cache.AlertCache
	alertTTL time.Duration
}

func New(repo store.Repository, alerts cache.AlertCache, alertTTL time.Duration) *Service {
	if alerts == nil {
		alerts = cache.NoopAlertCache{}
	}
	if alertTTL <= 0 {
		alertTTL = 30 * time.Second
	}
	return &Service{
		repo:     repo,
		alerts:   alerts,
		alertTTL: alertTTL,
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actorName := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		actorName = actor.Username
	}
	err := s.repo.AppendAuditLog(ctx, domain.AuditLog{
		Actor:      actorName,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to append audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%s role required", strings.Join(roles, " or "))
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%s role required", strings.Join(roles, " or "))
}

// --- Products ---

func (s *Service) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, strings.TrimSpace(category))
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.PriceCents < 1 || req.InitialStock < 0 || req.ReorderPoint < 0 || req.ReorderQuantity < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		Category:   req.Category,
		PriceCents: req.PriceCents,
		Active:     true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		_, err := s.repo.StockIn(ctx, created.ID, req.InitialStock, domain.MovementRef{
			Reason:        "initial_stock",
			ReferenceType: domain.ReferenceManual,
			PerformedBy:   actorName(ctx),
		})
		if err != nil {
			return domain.Product{}, err
		}
	}
	if req.ReorderPoint > 0 || req.ReorderQuantity > 0 {
		if _, err := s.repo.UpdateReorderSettings(ctx, created.ID, req.ReorderPoint, req.ReorderQuantity); err != nil {
			log.Printf("[service] WARN: failed to set reorder settings product=%s: %v", created.ID, err)
		}
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.PriceCents, req.InitialStock))

	final, err := s.repo.GetProduct(ctx, created.ID)
	if err != nil {
		return *created, nil
	}
	return *final, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Category = category
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%d", saved.Active, saved.PriceCents))

	return *saved, nil
}

// --- Customers ---

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if err := requireRole(ctx, "admin", "staff"); err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	if req.Tier == "" {
		req.Tier = domain.TierRetail
	}
	if req.Name == "" || req.Email == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}
	if _, ok := tierDiscountPercent[req.Tier]; !ok {
		return domain.Customer{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  req.Name,
		Email: req.Email,
		Phone: strings.TrimSpace(req.Phone),
		Tier:  req.Tier,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("email=%s,tier=%s", created.Email, created.Tier))

	return *created, nil
}

// --- Suppliers ---

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:    req.Name,
		Email:   strings.TrimSpace(req.Email),
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, created.Name)

	return *created, nil
}

// --- Inventory ---

func (s *Service) GetInventory(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	record, err := s.repo.GetInventory(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return *record, nil
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	return s.repo.ListInventory(ctx)
}

func (s *Service) ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListMovements(ctx, productID, filter)
}

func (s *Service) ListLowStock(ctx context.Context) ([]domain.InventoryRecord, error) {
	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.InventoryRecord, 0, len(records))
	for _, record := range records {
		if record.IsLowStock() {
			low = append(low, record)
		}
	}
	return low, nil
}

func (s *Service) ListOutOfStock(ctx context.Context) ([]domain.InventoryRecord, error) {
	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InventoryRecord, 0, len(records))
	for _, record := range records {
		if record.QuantityAvailable <= 0 {
			out = append(out, record)
		}
	}
	return out, nil
}

var alertSeverityRank = map[string]int{
	domain.AlertSeverityCritical: 0,
	domain.AlertSeverityHigh:     1,
	domain.AlertSeverityMedium:   2,
}

// InventoryAlerts derives restock alerts from the ledger, ranked by severity.
// Results are cached for a short TTL because the view is read far more often
// than stock changes.
func (s *Service) InventoryAlerts(ctx context.Context) (domain.InventoryAlertsResponse, error) {
	const cacheKey = "inventory:alerts"

	if cached, ok, err := s.alerts.Get(ctx, cacheKey); err == nil && ok && cached != nil {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: alert cache get failed: %v", err)
	}

	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return domain.InventoryAlertsResponse{}, err
	}

	alerts := make([]domain.InventoryAlert, 0, len(records))
	for _, record := range records {
		if !record.IsLowStock() {
			continue
		}
		severity := domain.AlertSeverityMedium
		switch {
		case record.QuantityAvailable <= 0:
			severity = domain.AlertSeverityCritical
		case record.QuantityAvailable*2 <= record.ReorderPoint:
			severity = domain.AlertSeverityHigh
		}

		alert := domain.InventoryAlert{
			ProductID:         record.ProductID,
			Severity:          severity,
			QuantityAvailable: record.QuantityAvailable,
			ReorderPoint:      record.ReorderPoint,
			ReorderQuantity:   record.ReorderQuantity,
		}
		if product, err := s.repo.GetProduct(ctx, record.ProductID); err == nil {
			alert.ProductName = product.Name
		}
		alerts = append(alerts, alert)
	}

	slices.SortFunc(alerts, func(a, b domain.InventoryAlert) int {
		if d := alertSeverityRank[a.Severity] - alertSeverityRank[b.Severity]; d != 0 {
			return d
		}
		return strings.Compare(a.ProductName, b.ProductName)
	})

	resp := domain.InventoryAlertsResponse{
		Alerts:      alerts,
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.alerts.Set(ctx, cacheKey, &resp, s.alertTTL); err != nil {
		log.Printf("[service] WARN: alert cache set failed: %v", err)
	}

	return resp, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustRequest) (domain.InventoryRecord, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.InventoryRecord{}, err
	}
	if req.NewOnHand < 0 {
		return domain.InventoryRecord{}, store.ErrInvalidInput
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.InventoryRecord{}, store.ErrInvalidInput
	}

	record, err := s.repo.AdjustStock(ctx, strings.TrimSpace(productID), req.NewOnHand, domain.MovementRef{
		Reason:        reason,
		ReferenceType: domain.ReferenceManual,
		PerformedBy:   actorName(ctx),
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logAudit(ctx, "stock_adjust", "inventory", record.ProductID, fmt.Sprintf("on_hand=%d,reason=%s", req.NewOnHand, reason))

	return *record, nil
}

func (s *Service) UpdateReorderSettings(ctx context.Context, productID string, req domain.ReorderSettingsRequest) (domain.InventoryRecord, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.InventoryRecord{}, err
	}

	existing, err := s.repo.GetInventory(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	point := existing.ReorderPoint
	qty := existing.ReorderQuantity
	if req.ReorderPoint != nil {
		point = *req.ReorderPoint
	}
	if req.ReorderQuantity != nil {
		qty = *req.ReorderQuantity
	}
	if point < 0 || qty < 0 {
		return domain.InventoryRecord{}, store.ErrInvalidInput
	}

	record, err := s.repo.UpdateReorderSettings(ctx, existing.ProductID, point, qty)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logAudit(ctx, "reorder_settings_update", "inventory", record.ProductID, fmt.Sprintf("point=%d,qty=%d", point, qty))

	return *record, nil
}

func (s *Service) BulkStockIn(ctx context.Context, req domain.BulkStockInRequest) ([]domain.InventoryRecord, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "bulk_stock_in"
	}

	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}

	performer := actorName(ctx)
	records := make([]domain.InventoryRecord, 0, len(req.Items))
	for _, item := range req.Items {
		record, err := s.repo.StockIn(ctx, strings.TrimSpace(item.ProductID), item.Quantity, domain.MovementRef{
			Reason:        reason,
			ReferenceType: domain.ReferenceManual,
			PerformedBy:   performer,
		})
		if err != nil {
			return nil, fmt.Errorf("stock in product %s: %w", item.ProductID, err)
		}
		records = append(records, *record)
	}

	s.logAudit(ctx, "bulk_stock_in", "inventory", "", fmt.Sprintf("items=%d,reason=%s", len(req.Items), reason))

	return records, nil
}

// --- Orders ---

// undoFn reverses one completed step of a multi-step workflow. Undo actions
// accumulate as steps succeed and run in reverse order on failure.
type undoFn func()

func runUndo(undo []undoFn) {
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// CreateOrder snapshots the requested items, prices the order, reserves stock
// per item and creates the linked payment stub. The store has no multi-record
// transactions, so each completed step registers a compensating action; a
// failure at any point unwinds everything done so far before the error is
// surfaced.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if err := requireRole(ctx, "admin", "staff"); err != nil {
		return domain.Order{}, err
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.DeliveryType = strings.ToLower(strings.TrimSpace(req.DeliveryType))
	if req.DeliveryType == "" {
		req.DeliveryType = domain.DeliveryTypePickup
	}
	if req.DeliveryType != domain.DeliveryTypeDelivery && req.DeliveryType != domain.DeliveryTypePickup {
		return domain.Order{}, store.ErrInvalidInput
	}
	if req.CustomerName == "" || len(req.Items) == 0 {
		return domain.Order{}, store.ErrInvalidInput
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 1 {
			return domain.Order{}, store.ErrInvalidInput
		}
	}

	items, subtotal, err := s.snapshotItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	tier, customerID, walkIn := s.resolveCustomer(ctx, req.CustomerEmail)
	discount := subtotal * tierDiscountPercent[tier] / 100
	shipping := int64(0)
	if req.DeliveryType == domain.DeliveryTypeDelivery && walkIn {
		shipping = shippingFeeCents
	}
	tax := subtotal * taxRatePercent / 100

	number, err := s.repo.NextOrderNumber(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:               xid.New("ord"),
		OrderNumber:      number,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		CustomerID:       customerID,
		CustomerTier:     tier,
		DeliveryType:     req.DeliveryType,
		Items:            items,
		SubtotalCents:    subtotal,
		DiscountCents:    discount,
		ShippingFeeCents: shipping,
		TaxCents:         tax,
		TotalCents:       subtotal - discount + shipping + tax,
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		Notes:            strings.TrimSpace(req.Notes),
	}

	performer := actorName(ctx)
	undo := make([]undoFn, 0, len(items)+1)

	for _, item := range items {
		item := item
		_, err := s.repo.ReserveStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
			Reason:        "order_reservation",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   order.ID,
			PerformedBy:   performer,
		})
		if err != nil {
			runUndo(undo)
			return domain.Order{}, fmt.Errorf("reserve %s: %w", item.ProductID, err)
		}
		undo = append(undo, func() {
			_, releaseErr := s.repo.ReleaseStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
				Reason:        "order_create_rollback",
				ReferenceType: domain.ReferenceOrder,
				ReferenceID:   order.ID,
				PerformedBy:   performer,
			})
			if releaseErr != nil {
				log.Printf("[service] WARN: rollback release failed order=%s product=%s: %v", order.ID, item.ProductID, releaseErr)
			}
		})
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		runUndo(undo)
		return domain.Order{}, err
	}
	undo = append(undo, func() {
		if deleteErr := s.repo.DeleteOrder(ctx, created.ID); deleteErr != nil {
			log.Printf("[service] WARN: rollback delete failed order=%s: %v", created.ID, deleteErr)
		}
	})

	_, err = s.repo.CreatePayment(ctx, domain.Payment{
		PaymentType: domain.PaymentTypeSales,
		OrderID:     created.ID,
		AmountCents: created.TotalCents,
		Method:      "unspecified",
		Status:      domain.PayStatusPending,
	})
	if err != nil {
		runUndo(undo)
		return domain.Order{}, fmt.Errorf("create payment stub: %w", err)
	}

	s.logAudit(ctx, "order_create", "order", created.ID, fmt.Sprintf("number=%s,total=%d,items=%d", created.OrderNumber, created.TotalCents, len(created.Items)))

	return *created, nil
}

func (s *Service) snapshotItems(ctx context.Context, reqs []domain.OrderItemRequest) ([]domain.OrderItem, int64, error) {
	items := make([]domain.OrderItem, 0, len(reqs))
	var subtotal int64
	for _, req := range reqs {
		product, err := s.repo.GetProduct(ctx, strings.TrimSpace(req.ProductID))
		if err != nil {
			return nil, 0, fmt.Errorf("product %s: %w", req.ProductID, err)
		}
		if !product.Active {
			return nil, 0, fmt.Errorf("product %s: %w", req.ProductID, store.ErrInvalidInput)
		}
		lineSubtotal := product.PriceCents * int64(req.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:     product.ID,
			ProductName:   product.Name,
			PriceCents:    product.PriceCents,
			Quantity:      req.Quantity,
			SubtotalCents: lineSubtotal,
		})
		subtotal += lineSubtotal
	}
	return items, subtotal, nil
}

// resolveCustomer maps an email to a discount tier. Unknown emails are
// walk-ins and price at the retail tier.
func (s *Service) resolveCustomer(ctx context.Context, email string) (tier string, customerID string, walkIn bool) {
	if email == "" {
		return domain.TierRetail, "", true
	}
	customer, err := s.repo.GetCustomerByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: customer lookup failed email=%s: %v", email, err)
		}
		return domain.TierRetail, "", true
	}
	if _, ok := tierDiscountPercent[customer.Tier]; !ok {
		return domain.TierRetail, customer.ID, false
	}
	return customer.Tier, customer.ID, false
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx, strings.TrimSpace(status), limit)
}

// UpdateOrderItems swaps the item set of a pending or processing order. All
// existing reservations are released first, then the new set is reserved; if
// the re-reservation fails partway the new reservations are unwound and the
// original ones restored, so the ledger never keeps a partial state.
func (s *Service) UpdateOrderItems(ctx context.Context, id string, req domain.OrderUpdateItemsRequest) (domain.Order, error) {
	if err := requireRole(ctx, "admin", "staff"); err != nil {
		return domain.Order{}, err
	}
	if len(req.Items) == 0 {
		return domain.Order{}, store.ErrInvalidInput
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 1 {
			return domain.Order{}, store.ErrInvalidInput
		}
	}

	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, store.ErrInvalidTransition)
	}

	items, subtotal, err := s.snapshotItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	performer := actorName(ctx)

	for _, item := range order.Items {
		_, err := s.repo.ReleaseStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
			Reason:        "order_update",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   order.ID,
			PerformedBy:   performer,
		})
		if err != nil {
			return domain.Order{}, fmt.Errorf("release %s: %w", item.ProductID, err)
		}
	}

	undo := make([]undoFn, 0, len(items))
	for _, item := range items {
		item := item
		_, err := s.repo.ReserveStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
			Reason:        "order_update",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   order.ID,
			PerformedBy:   performer,
		})
		if err != nil {
			runUndo(undo)
			s.restoreReservations(ctx, *order, performer)
			return domain.Order{}, fmt.Errorf("reserve %s: %w", item.ProductID, err)
		}
		undo = append(undo, func() {
			_, releaseErr := s.repo.ReleaseStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
				Reason:        "order_update_rollback",
				ReferenceType: domain.ReferenceOrder,
				ReferenceID:   order.ID,
				PerformedBy:   performer,
			})
			if releaseErr != nil {
				log.Printf("[service] WARN: rollback release failed order=%s product=%s: %v", order.ID, item.ProductID, releaseErr)
			}
		})
	}

	discount := subtotal * tierDiscountPercent[order.CustomerTier] / 100
	tax := subtotal * taxRatePercent / 100

	updated := *order
	updated.Items = items
	updated.SubtotalCents = subtotal
	updated.DiscountCents = discount
	updated.TaxCents = tax
	updated.TotalCents = subtotal - discount + updated.ShippingFeeCents + tax

	saved, err := s.repo.UpdateOrder(ctx, updated)
	if err != nil {
		runUndo(undo)
		s.restoreReservations(ctx, *order, performer)
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_update_items", "order", saved.ID, fmt.Sprintf("items=%d,total=%d", len(saved.Items), saved.TotalCents))

	return *saved, nil
}

// restoreReservations re-reserves the original item set after a failed order
// update. The units were just released, so this normally succeeds; when it
// does not (a concurrent sale claimed them) the failure is logged and the
// order keeps its pre-update item list without a reservation.
func (s *Service) restoreReservations(ctx context.Context, order domain.Order, performer string) {
	for _, item := range order.Items {
		_, err := s.repo.ReserveStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
			Reason:        "order_update_restore",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   order.ID,
			PerformedBy:   performer,
		})
		if err != nil {
			log.Printf("[service] WARN: failed to restore reservation order=%s product=%s: %v", order.ID, item.ProductID, err)
		}
	}
}

// orderTransitions enumerates the legal forward transitions. Cancellation is
// handled by CancelOrder.
var orderTransitions = map[string][]string{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusShipping},
	domain.OrderStatusProcessing: {domain.OrderStatusShipping},
	domain.OrderStatusShipping:   {domain.OrderStatusDelivered},
}

func transitionAllowed(from string, to string) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *Service) TransitionOrder(ctx context.Context, id string, newStatus string) (domain.Order, error) {
	if err := requireRole(ctx, "admin", "staff"); err != nil {
		return domain.Order{}, err
	}

	newStatus = strings.ToLower(strings.TrimSpace(newStatus))
	if newStatus == domain.OrderStatusCancelled {
		return s.CancelOrder(ctx, id, domain.OrderCancelRequest{})
	}

	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	if !transitionAllowed(order.Status, newStatus) {
		return domain.Order{}, fmt.Errorf("order %s cannot go from %s to %s: %w", order.ID, order.Status, newStatus, store.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	updated := *order
	updated.Status = newStatus

	var shipUndo []undoFn
	switch newStatus {
	case domain.OrderStatusShipping:
		undo, err := s.shipOrderItems(ctx, *order)
		if err != nil {
			return domain.Order{}, err
		}
		shipUndo = undo
		updated.ShippedAt = &now
	case domain.OrderStatusDelivered:
		// Business rule: delivery implies payment collected.
		updated.DeliveredAt = &now
		updated.PaymentStatus = domain.PaymentStatusPaid
		updated.PaidAt = &now
	}

	saved, err := s.repo.UpdateOrder(ctx, updated)
	if err != nil {
		// The order record still says pending/processing; put the shipped
		// units back so stock and status agree.
		runUndo(shipUndo)
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_status", "order", saved.ID, fmt.Sprintf("%s->%s", order.Status, newStatus))

	return *saved, nil
}

// shipOrderItems converts every item's reservation into a real stock
// decrement. A failure partway restores the already-shipped lines: the units
// go back on hand and the reservation is re-acquired. On success the undo
// stack is returned so the caller can unwind if persisting the order fails.
func (s *Service) shipOrderItems(ctx context.Context, order domain.Order) ([]undoFn, error) {
	performer := actorName(ctx)
	undo := make([]undoFn, 0, len(order.Items))

	for _, item := range order.Items {
		item := item
		_, err := s.repo.StockOut(ctx, item.ProductID, item.Quantity, domain.MovementRef{
			Reason:        "order_shipment",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   order.ID,
			PerformedBy:   performer,
		})
		if err != nil {
			runUndo(undo)
			return nil, fmt.Errorf("ship %s: %w", item.ProductID, err)
		}
		undo = append(undo, func() {
			_, inErr := s.repo.StockIn(ctx, item.ProductID, item.Quantity, domain.MovementRef{
				Reason:        "shipment_rollback",
				ReferenceType: domain.ReferenceOrder,
				ReferenceID:   order.ID,
				PerformedBy:   performer,
			})
			if inErr != nil {
				log.Printf("[service] WARN: shipment rollback stock-in failed order=%s product=%s: %v", order.ID, item.ProductID, inErr)
				return
			}
			_, resErr := s.repo.ReserveStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
				Reason:        "shipment_rollback",
				ReferenceType: domain.ReferenceOrder,
				ReferenceID:   order.ID,
				PerformedBy:   performer,
			})
			if resErr != nil {
				log.Printf("[service] WARN: shipment rollback re-reserve failed order=%s product=%s: %v", order.ID, item.ProductID, resErr)
			}
		})
	}

	return undo, nil
}

func (s *Service) CancelOrder(ctx context.Context, id string, req domain.OrderCancelRequest) (domain.Order, error) {
	if err := requireRole(ctx, "admin", "staff"); err != nil {
		return domain.Order{}, err
	}

	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, store.ErrInvalidTransition)
	}

	performer := actorName(ctx)
	for _, item := range order.Items {
		_, err := s.repo.ReleaseStock(ctx, item.ProductID, item.Quantity, domain.MovementRef{
			Reason:        "order_cancelled",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   order.ID,
			PerformedBy:   performer,
		})
		if err != nil {
			return domain.Order{}, fmt.Errorf("release %s: %w", item.ProductID, err)
		}
	}

	now := time.Now().UTC()
	updated := *order
	updated.Status = domain.OrderStatusCancelled
	updated.CancelledAt = &now
	updated.CancelReason = strings.TrimSpace(req.Reason)

	saved, err := s.repo.UpdateOrder(ctx, updated)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_cancel", "order", saved.ID, saved.CancelReason)

	return *saved, nil
}

func (s *Service) OrderStats(ctx context.Context) (domain.OrderStats, error) {
	orders, err := s.repo.ListOrders(ctx, "", 10000)
	if err != nil {
		return domain.OrderStats{}, err
	}

	counts := make(map[string]*domain.OrderStatusCount)
	stats := domain.OrderStats{}
	for _, order := range orders {
		stats.Total++
		if order.Status != domain.OrderStatusCancelled {
			stats.TotalRevenueCents += order.TotalCents
		}
		entry, ok := counts[order.Status]
		if !ok {
			entry = &domain.OrderStatusCount{Status: order.Status}
			counts[order.Status] = entry
		}
		entry.Count++
		entry.RevenueCents += order.TotalCents
	}

	for _, status := range []string{
		domain.OrderStatusPending,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipping,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		if entry, ok := counts[status]; ok {
			stats.ByStatus = append(stats.ByStatus, *entry)
		}
	}

	return stats, nil
}

// --- Purchase orders ---

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if strings.TrimSpace(req.SupplierID) == "" || len(req.Items) == 0 {
		return domain.PurchaseOrder{}, store.ErrInvalidInput
	}

	if _, err := s.repo.GetSupplier(ctx, strings.TrimSpace(req.SupplierID)); err != nil {
		return domain.PurchaseOrder{}, fmt.Errorf("supplier %s: %w", req.SupplierID, err)
	}

	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	var total int64
	for _, item := range req.Items {
		if item.Quantity < 1 || item.UnitCostCents < 0 {
			return domain.PurchaseOrder{}, store.ErrInvalidInput
		}
		product, err := s.repo.GetProduct(ctx, strings.TrimSpace(item.ProductID))
		if err != nil {
			return domain.PurchaseOrder{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		lineSubtotal := item.UnitCostCents * int64(item.Quantity)
		items = append(items, domain.PurchaseOrderItem{
			ProductID:     product.ID,
			ProductName:   product.Name,
			OrderedQty:    item.Quantity,
			UnitCostCents: item.UnitCostCents,
			SubtotalCents: lineSubtotal,
		})
		total += lineSubtotal
	}

	number, err := s.repo.NextPurchaseOrderNumber(ctx)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		PONumber:      number,
		SupplierID:    strings.TrimSpace(req.SupplierID),
		Items:         items,
		TotalCents:    total,
		PaymentStatus: domain.POPaymentUnpaid,
		Status:        domain.POStatusPending,
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, "po_create", "purchase_order", created.ID, fmt.Sprintf("number=%s,total=%d", created.PONumber, created.TotalCents))

	return *created, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx, strings.TrimSpace(status), limit)
}

func (s *Service) ApprovePurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.PurchaseOrder{}, err
	}

	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if po.Status != domain.POStatusPending {
		return domain.PurchaseOrder{}, fmt.Errorf("purchase order %s is %s: %w", po.ID, po.Status, store.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	updated := *po
	updated.Status = domain.POStatusApproved
	updated.ApprovedBy = actorName(ctx)
	updated.ApprovedAt = &now

	saved, err := s.repo.UpdatePurchaseOrder(ctx, updated)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, "po_approve", "purchase_order", saved.ID, saved.PONumber)

	return *saved, nil
}

// ReceivePurchaseOrderItems records a partial or full delivery against an
// approved purchase order. Every line is validated before any ledger mutation
// so an over-receive rejects the whole call. The order flips to received only
// once every line is fully received.
func (s *Service) ReceivePurchaseOrderItems(ctx context.Context, id string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrder, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if len(req.Items) == 0 {
		return domain.PurchaseOrder{}, store.ErrInvalidInput
	}

	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if po.Status != domain.POStatusApproved {
		return domain.PurchaseOrder{}, fmt.Errorf("purchase order %s is %s: %w", po.ID, po.Status, store.ErrInvalidTransition)
	}

	updated := *po
	updated.Items = make([]domain.PurchaseOrderItem, len(po.Items))
	copy(updated.Items, po.Items)

	lineIndex := make(map[string]int, len(updated.Items))
	for i, line := range updated.Items {
		lineIndex[line.ProductID] = i
	}

	// Validate all lines before touching the ledger.
	for _, receive := range req.Items {
		idx, ok := lineIndex[strings.TrimSpace(receive.ProductID)]
		if !ok {
			return domain.PurchaseOrder{}, fmt.Errorf("product %s not on purchase order: %w", receive.ProductID, store.ErrNotFound)
		}
		if receive.Quantity < 1 {
			return domain.PurchaseOrder{}, store.ErrInvalidInput
		}
		line := updated.Items[idx]
		outstanding := line.OrderedQty - line.ReceivedQty
		if receive.Quantity > outstanding {
			return domain.PurchaseOrder{}, fmt.Errorf("product %s: requested %d, outstanding %d: %w", line.ProductID, receive.Quantity, outstanding, store.ErrOverReceive)
		}
	}

	performer := actorName(ctx)
	undo := make([]undoFn, 0, len(req.Items))
	for _, receive := range req.Items {
		idx := lineIndex[strings.TrimSpace(receive.ProductID)]
		line := &updated.Items[idx]
		productID := line.ProductID
		qty := receive.Quantity

		_, err := s.repo.StockIn(ctx, productID, qty, domain.MovementRef{
			Reason:        "purchase_order_receive",
			ReferenceType: domain.ReferencePurchaseOrder,
			ReferenceID:   po.ID,
			PerformedBy:   performer,
		})
		if err != nil {
			runUndo(undo)
			return domain.PurchaseOrder{}, fmt.Errorf("stock in %s: %w", productID, err)
		}
		// The inverse of a stock-in is an adjustment back down: it must not
		// consume reservations the way a stock-out would.
		undo = append(undo, func() {
			rec, getErr := s.repo.GetInventory(ctx, productID)
			if getErr != nil {
				log.Printf("[service] WARN: receive rollback lookup failed po=%s product=%s: %v", po.ID, productID, getErr)
				return
			}
			_, adjErr := s.repo.AdjustStock(ctx, productID, rec.QuantityOnHand-qty, domain.MovementRef{
				Reason:        "purchase_receive_rollback",
				ReferenceType: domain.ReferencePurchaseOrder,
				ReferenceID:   po.ID,
				PerformedBy:   performer,
			})
			if adjErr != nil {
				log.Printf("[service] WARN: receive rollback failed po=%s product=%s: %v", po.ID, productID, adjErr)
			}
		})
		line.ReceivedQty += qty
	}

	fullyReceived := true
	for _, line := range updated.Items {
		if line.ReceivedQty < line.OrderedQty {
			fullyReceived = false
			break
		}
	}
	if fullyReceived {
		now := time.Now().UTC()
		updated.Status = domain.POStatusReceived
		updated.ReceivedAt = &now
	}

	saved, err := s.repo.UpdatePurchaseOrder(ctx, updated)
	if err != nil {
		runUndo(undo)
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, "po_receive", "purchase_order", saved.ID, fmt.Sprintf("lines=%d,status=%s", len(req.Items), saved.Status))

	return *saved, nil
}

func (s *Service) AddPurchaseOrderPayment(ctx context.Context, id string, req domain.PurchaseOrderPaymentRequest) (domain.PurchaseOrder, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if req.AmountCents < 1 {
		return domain.PurchaseOrder{}, store.ErrInvalidInput
	}

	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if po.Status == domain.POStatusCancelled {
		return domain.PurchaseOrder{}, fmt.Errorf("purchase order %s is cancelled: %w", po.ID, store.ErrInvalidTransition)
	}
	if po.PaidAmountCents+req.AmountCents > po.TotalCents {
		return domain.PurchaseOrder{}, fmt.Errorf("payment %d exceeds outstanding %d: %w", req.AmountCents, po.TotalCents-po.PaidAmountCents, store.ErrInvalidInput)
	}

	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = "transfer"
	}

	now := time.Now().UTC()
	created, err := s.repo.CreatePayment(ctx, domain.Payment{
		PaymentType:     domain.PaymentTypePurchase,
		PurchaseOrderID: po.ID,
		AmountCents:     req.AmountCents,
		Method:          method,
		Status:          domain.PayStatusCompleted,
		CompletedAt:     &now,
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	updated := *po
	updated.PaidAmountCents += req.AmountCents
	switch {
	case updated.PaidAmountCents >= updated.TotalCents:
		updated.PaymentStatus = domain.POPaymentPaid
	case updated.PaidAmountCents > 0:
		updated.PaymentStatus = domain.POPaymentPartial
	default:
		updated.PaymentStatus = domain.POPaymentUnpaid
	}

	saved, err := s.repo.UpdatePurchaseOrder(ctx, updated)
	if err != nil {
		// The payment record already exists; void it so the running balance
		// and the payment log stay consistent.
		void := *created
		void.Status = domain.PayStatusCancelled
		if _, cancelErr := s.repo.UpdatePayment(ctx, void); cancelErr != nil {
			log.Printf("[service] WARN: payment rollback failed po=%s payment=%s: %v", po.ID, created.ID, cancelErr)
		}
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, "po_payment", "purchase_order", saved.ID, fmt.Sprintf("amount=%d,paid=%d", req.AmountCents, saved.PaidAmountCents))

	return *saved, nil
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.PurchaseOrder{}, err
	}

	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if po.Status == domain.POStatusReceived || po.Status == domain.POStatusCancelled {
		return domain.PurchaseOrder{}, fmt.Errorf("purchase order %s is %s: %w", po.ID, po.Status, store.ErrInvalidTransition)
	}

	updated := *po
	updated.Status = domain.POStatusCancelled

	saved, err := s.repo.UpdatePurchaseOrder(ctx, updated)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, "po_cancel", "purchase_order", saved.ID, saved.PONumber)

	return *saved, nil
}

func (s *Service) PurchaseOrderStats(ctx context.Context) (domain.PurchaseOrderStats, error) {
	orders, err := s.repo.ListPurchaseOrders(ctx, "", 10000)
	if err != nil {
		return domain.PurchaseOrderStats{}, err
	}

	stats := domain.PurchaseOrderStats{}
	for _, po := range orders {
		stats.Total++
		switch po.Status {
		case domain.POStatusPending:
			stats.Pending++
		case domain.POStatusApproved:
			stats.Approved++
		case domain.POStatusReceived:
			stats.Received++
		case domain.POStatusCancelled:
			stats.Cancelled++
		}
		if po.Status != domain.POStatusCancelled {
			stats.TotalValueCents += po.TotalCents
			stats.OutstandingCents += po.TotalCents - po.PaidAmountCents
		}
	}

	return stats, nil
}

// --- Payments ---

func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Payment{}, err
	}
	return *payment, nil
}

func (s *Service) ListPayments(ctx context.Context, paymentType string, limit int) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, strings.TrimSpace(paymentType), limit)
}

func (s *Service) CompletePayment(ctx context.Context, id string, method string, reference string) (domain.Payment, error) {
	if err := requireRole(ctx, "admin", "staff"); err != nil {
		return domain.Payment{}, err
	}

	payment, err := s.repo.GetPayment(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.Status != domain.PayStatusPending {
		return domain.Payment{}, fmt.Errorf("payment %s is %s: %w", payment.ID, payment.Status, store.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	updated := *payment
	updated.Status = domain.PayStatusCompleted
	updated.CompletedAt = &now
	if method = strings.TrimSpace(method); method != "" {
		updated.Method = method
	}
	if reference = strings.TrimSpace(reference); reference != "" {
		updated.Reference = reference
	}

	saved, err := s.repo.UpdatePayment(ctx, updated)
	if err != nil {
		return domain.Payment{}, err
	}

	if saved.PaymentType == domain.PaymentTypeSales && saved.OrderID != "" {
		if err := s.reconcileOrderPayments(ctx, saved.OrderID); err != nil {
			log.Printf("[service] WARN: payment reconciliation failed order=%s: %v", saved.OrderID, err)
		}
	}

	s.logAudit(ctx, "payment_complete", "payment", saved.ID, fmt.Sprintf("amount=%d,method=%s", saved.AmountCents, saved.Method))

	return *saved, nil
}

func (s *Service) RefundPayment(ctx context.Context, id string, req domain.PaymentRefundRequest) (domain.Payment, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Payment{}, err
	}
	if req.AmountCents < 1 {
		return domain.Payment{}, store.ErrInvalidInput
	}

	payment, err := s.repo.GetPayment(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.Status != domain.PayStatusCompleted {
		return domain.Payment{}, fmt.Errorf("payment %s is %s: %w", payment.ID, payment.Status, store.ErrInvalidTransition)
	}
	refundable := payment.AmountCents - payment.RefundedAmountCents
	if req.AmountCents > refundable {
		return domain.Payment{}, fmt.Errorf("refund %d exceeds refundable %d: %w", req.AmountCents, refundable, store.ErrInvalidInput)
	}

	updated := *payment
	updated.RefundedAmountCents += req.AmountCents
	updated.RefundReason = strings.TrimSpace(req.Reason)
	if updated.RefundedAmountCents >= updated.AmountCents {
		updated.Status = domain.PayStatusRefunded
	}

	saved, err := s.repo.UpdatePayment(ctx, updated)
	if err != nil {
		return domain.Payment{}, err
	}

	switch {
	case saved.PaymentType == domain.PaymentTypeSales && saved.OrderID != "":
		if err := s.reconcileOrderPayments(ctx, saved.OrderID); err != nil {
			log.Printf("[service] WARN: payment reconciliation failed order=%s: %v", saved.OrderID, err)
		}
	case saved.PaymentType == domain.PaymentTypePurchase && saved.PurchaseOrderID != "":
		if err := s.reconcilePurchaseOrderBalance(ctx, saved.PurchaseOrderID, req.AmountCents); err != nil {
			log.Printf("[service] WARN: purchase balance reconciliation failed po=%s: %v", saved.PurchaseOrderID, err)
		}
	}

	s.logAudit(ctx, "payment_refund", "payment", saved.ID, fmt.Sprintf("amount=%d,reason=%s", req.AmountCents, saved.RefundReason))

	return *saved, nil
}

func (s *Service) CancelPayment(ctx context.Context, id string) (domain.Payment, error) {
	return s.closePendingPayment(ctx, id, domain.PayStatusCancelled)
}

func (s *Service) FailPayment(ctx context.Context, id string) (domain.Payment, error) {
	return s.closePendingPayment(ctx, id, domain.PayStatusFailed)
}

func (s *Service) closePendingPayment(ctx context.Context, id string, terminal string) (domain.Payment, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Payment{}, err
	}

	payment, err := s.repo.GetPayment(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.Status != domain.PayStatusPending {
		return domain.Payment{}, fmt.Errorf("payment %s is %s: %w", payment.ID, payment.Status, store.ErrInvalidTransition)
	}

	updated := *payment
	updated.Status = terminal

	saved, err := s.repo.UpdatePayment(ctx, updated)
	if err != nil {
		return domain.Payment{}, err
	}

	if terminal == domain.PayStatusFailed && saved.PaymentType == domain.PaymentTypeSales && saved.OrderID != "" {
		if order, err := s.repo.GetOrder(ctx, saved.OrderID); err == nil {
			if order.PaymentStatus == domain.PaymentStatusPending {
				order.PaymentStatus = domain.PaymentStatusFailed
				if _, err := s.repo.UpdateOrder(ctx, *order); err != nil {
					log.Printf("[service] WARN: failed to mark order payment failed order=%s: %v", order.ID, err)
				}
			}
		}
	}

	s.logAudit(ctx, "payment_"+terminal, "payment", saved.ID, fmt.Sprintf("amount=%d", saved.AmountCents))

	return *saved, nil
}

// reconcilePurchaseOrderBalance walks a refunded amount back out of the
// purchase order's running paid balance and rederives its payment status.
func (s *Service) reconcilePurchaseOrderBalance(ctx context.Context, poID string, refundCents int64) error {
	po, err := s.repo.GetPurchaseOrder(ctx, poID)
	if err != nil {
		return err
	}

	updated := *po
	updated.PaidAmountCents -= refundCents
	if updated.PaidAmountCents < 0 {
		updated.PaidAmountCents = 0
	}
	switch {
	case updated.PaidAmountCents >= updated.TotalCents && updated.TotalCents > 0:
		updated.PaymentStatus = domain.POPaymentPaid
	case updated.PaidAmountCents > 0:
		updated.PaymentStatus = domain.POPaymentPartial
	default:
		updated.PaymentStatus = domain.POPaymentUnpaid
	}

	_, err = s.repo.UpdatePurchaseOrder(ctx, updated)
	return err
}

// reconcileOrderPayments rederives an order's payment status from the
// aggregate of its payments, counting completed and refunded payments net of
// refunds.
func (s *Service) reconcileOrderPayments(ctx context.Context, orderID string) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	payments, err := s.repo.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	var net int64
	var refunded int64
	for _, payment := range payments {
		switch payment.Status {
		case domain.PayStatusCompleted, domain.PayStatusRefunded:
			net += payment.NetAmountCents()
			refunded += payment.RefundedAmountCents
		}
	}

	status := domain.PaymentStatusPending
	switch {
	case net >= order.TotalCents && order.TotalCents > 0:
		status = domain.PaymentStatusPaid
	case net > 0:
		status = domain.PaymentStatusPartial
	case refunded > 0:
		status = domain.PaymentStatusRefunded
	}

	if status == order.PaymentStatus {
		return nil
	}

	updated := *order
	updated.PaymentStatus = status
	if status == domain.PaymentStatusPaid && updated.PaidAt == nil {
		now := time.Now().UTC()
		updated.PaidAt = &now
	}
	_, err = s.repo.UpdateOrder(ctx, updated)
	return err
}

// --- Audit logs ---

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, limit)
}
