package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/1129Aliasgar/Billing-system/internal/cache"
	"github.com/1129Aliasgar/Billing-system/internal/domain"
	"github.com/1129Aliasgar/Billing-system/internal/invoice"
	"github.com/1129Aliasgar/Billing-system/internal/store"
	"github.com/1129Aliasgar/Billing-system/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	reports  cache.ReportCache
	cacheTTL time.Duration
	seller   domain.SellerInfo
}

func New(repo store.Repository, reports cache.ReportCache, cacheTTL time.Duration, seller domain.SellerInfo) *Service {
	if reports == nil {
		reports = cache.NewNoop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	return &Service{
		repo:     repo,
		reports:  reports,
		cacheTTL: cacheTTL,
		seller:   seller,
	}
}

func (s *Service) Seller() domain.SellerInfo {
	return s.seller
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListBillableProducts(ctx)
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateBill prices the cart, resolves the payment intent and persists
// the bill through the repository's atomic CreateBill. Validation
// failures surface before any stock moves; a StockError names the
// first product that cannot be reserved.
func (s *Service) CreateBill(ctx context.Context, req domain.CreateBillRequest) (domain.Bill, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		return domain.Bill{}, fmt.Errorf("customer name required: %w", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.Bill{}, fmt.Errorf("empty cart: %w", store.ErrValidation)
	}
	if req.GstPercent < 0 || req.GstPercent > 100 {
		return domain.Bill{}, fmt.Errorf("gst percent out of range: %w", store.ErrValidation)
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return domain.Bill{}, fmt.Errorf("quantity must be positive: %w", store.ErrValidation)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Bill{}, err
	}

	requested := make(map[string]int, len(ids))
	for _, item := range req.Items {
		requested[item.ProductID] += item.Quantity
	}

	lines := make([]domain.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		product, exists := products[item.ProductID]
		if !exists || !product.Billable {
			return domain.Bill{}, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		if product.InStock < requested[item.ProductID] {
			return domain.Bill{}, &store.StockError{
				ProductID: product.ID,
				Name:      product.Name,
				Available: product.InStock,
				Requested: requested[item.ProductID],
			}
		}
		// The request's price and tax rate win when supplied: billers
		// negotiate per-bill prices at the counter. The catalog fills
		// whatever the request leaves out.
		price := product.Price
		if item.Price > 0 {
			price = item.Price
		}
		rate := product.GstRate
		if item.GstRate > 0 {
			rate = item.GstRate
		}
		hsn := product.HsnCode
		if item.HsnCode != "" {
			hsn = item.HsnCode
		}
		lines = append(lines, domain.LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     price,
			Quantity:  item.Quantity,
			GstRate:   rate,
			HsnCode:   hsn,
		})
	}

	totals := invoice.Calculate(lines, invoice.Options{
		ApplyTax:   req.Gst,
		TaxPercent: req.GstPercent,
		SplitTax:   req.CgstSgst,
	})

	paid, due, capped := resolvePayment(req, totals.TotalAmount)
	status := domain.BillStatusCompleted
	if due > 0 {
		status = domain.BillStatusDue
	}

	bill := domain.Bill{
		CustomerName:   req.CustomerName,
		BuyerName:      strings.TrimSpace(req.BuyerName),
		BuyerAddress:   strings.TrimSpace(req.BuyerAddress),
		BuyerPhone:     strings.TrimSpace(req.BuyerPhone),
		BuyerGstNumber: strings.TrimSpace(req.BuyerGstNumber),
		VehicleNumber:  strings.TrimSpace(req.VehicleNumber),
		Delivery:       strings.TrimSpace(req.Delivery),
		Items:          lines,
		BillAmount:     totals.BillAmount,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		UserPaid:       paid,
		UserDue:        due,
		Gst:            req.Gst,
		GstPercent:     req.GstPercent,
		CgstSgst:       req.CgstSgst,
		IsDebit:        due > 0,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := s.repo.CreateBill(ctx, bill)
	if err != nil {
		return domain.Bill{}, err
	}

	detail := fmt.Sprintf("total=%.2f,paid=%.2f,due=%.2f,items=%d", created.TotalAmount, created.UserPaid, created.UserDue, len(created.Items))
	if capped {
		detail += ",overpayment_capped=true"
	}
	s.logAudit(ctx, "bill_create", "bill", created.BillNumber, detail)

	return *created, nil
}

// resolvePayment turns the request's optional paid/due hints into a
// consistent pair: paid + due always equals the bill total, negatives
// clamp to zero, and overpayment is capped at the total. The explicit
// paid value wins when the pair disagrees with the total.
func resolvePayment(req domain.CreateBillRequest, total float64) (paid float64, due float64, capped bool) {
	if req.IsDebit {
		paid, due = 0, total
	} else {
		paid, due = total, 0
	}
	if req.UserPaid != nil {
		paid = *req.UserPaid
	}
	if req.UserDue != nil {
		due = *req.UserDue
	}
	if paid < 0 {
		paid = 0
	}
	if due < 0 {
		due = 0
	}
	if math.Abs(paid+due-total) > 0.005 {
		due = total - paid
	}
	if due < 0 {
		due = 0
		paid = total
		capped = true
	}
	return round2(paid), round2(due), capped
}

// UpdatePayment records an installment. The arithmetic runs inside the
// repository under the bill's row lock so concurrent payments on one
// bill never lose an update.
func (s *Service) UpdatePayment(ctx context.Context, id string, req domain.UpdatePaymentRequest) (domain.Bill, error) {
	if req.Amount <= 0 {
		return domain.Bill{}, fmt.Errorf("payment amount must be positive: %w", store.ErrValidation)
	}

	updated, err := s.repo.ApplyPayment(ctx, id, req.Amount)
	if err != nil {
		return domain.Bill{}, err
	}

	detail := fmt.Sprintf("amount=%.2f,paid=%.2f,due=%.2f", req.Amount, updated.UserPaid, updated.UserDue)
	s.logAudit(ctx, "bill_payment", "bill", updated.BillNumber, detail)

	return *updated, nil
}

func (s *Service) UpdateBillInfo(ctx context.Context, id string, req domain.UpdateBillInfoRequest) (domain.Bill, error) {
	if req.CustomerName != nil && strings.TrimSpace(*req.CustomerName) == "" {
		return domain.Bill{}, fmt.Errorf("customer name cannot be blank: %w", store.ErrValidation)
	}

	updated, err := s.repo.UpdateBillBuyer(ctx, id, req)
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, "bill_update", "bill", updated.BillNumber, "buyer info edited")
	return *updated, nil
}

// DeleteBill removes the bill for good. Sales aggregates are reversed
// by the store; stock is deliberately not restored, since the goods
// already left with the buyer.
func (s *Service) DeleteBill(ctx context.Context, id string) error {
	bill, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteBill(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "bill_delete", "bill", bill.BillNumber, fmt.Sprintf("total=%.2f", bill.TotalAmount))
	return nil
}

func (s *Service) ListBills(ctx context.Context, filter domain.BillListFilter) ([]domain.Bill, error) {
	if filter.Status != "" && filter.Status != domain.BillStatusCompleted && filter.Status != domain.BillStatusDue {
		return nil, fmt.Errorf("unknown status %q: %w", filter.Status, store.ErrValidation)
	}
	return s.repo.ListBills(ctx, filter)
}

func (s *Service) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	bill, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

func (s *Service) GetBillByNumber(ctx context.Context, billNumber string) (domain.Bill, error) {
	bill, err := s.repo.GetBillByNumber(ctx, billNumber)
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

// DebitBills lists every bill still carrying an outstanding balance,
// whether flagged as debit or merely partially paid.
func (s *Service) DebitBills(ctx context.Context) ([]domain.Bill, error) {
	bills, err := s.repo.ListBills(ctx, domain.BillListFilter{})
	if err != nil {
		return nil, err
	}

	debits := make([]domain.Bill, 0, len(bills))
	for _, bill := range bills {
		if bill.Status == domain.BillStatusDue || bill.UserDue > 0 {
			debits = append(debits, bill)
		}
	}
	return debits, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SalesFilter) ([]domain.SalesRecord, error) {
	if filter.Month < 0 || filter.Month > 12 {
		return nil, fmt.Errorf("month out of range: %w", store.ErrValidation)
	}
	return s.repo.ListSalesRecords(ctx, filter)
}

func (s *Service) SalesByProduct(ctx context.Context, productID string) ([]domain.SalesRecord, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id required: %w", store.ErrValidation)
	}
	return s.repo.ListSalesRecords(ctx, domain.SalesFilter{ProductID: productID})
}

func (s *Service) MonthlySales(ctx context.Context, month int, year int) ([]domain.SalesRecord, error) {
	if month < 1 || month > 12 || year < 1 {
		return nil, fmt.Errorf("invalid month/year: %w", store.ErrValidation)
	}
	return s.repo.ListSalesRecords(ctx, domain.SalesFilter{Month: month, Year: year})
}

// SalesSummary builds the per-product sales dashboard: lifetime sold,
// current-month sold and full history for every billable product.
// Served from the report cache when a fresh copy exists.
func (s *Service) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	const cacheKey = "report:sales-summary"

	var summary domain.SalesSummary
	if s.readReport(ctx, cacheKey, &summary) {
		return summary, nil
	}

	now := time.Now().UTC()
	currentMonth := int(now.Month())
	currentYear := now.Year()

	products, err := s.repo.ListBillableProducts(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	records, err := s.repo.ListSalesRecords(ctx, domain.SalesFilter{})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	historyByProduct := make(map[string][]domain.SalesRecord, len(products))
	for _, record := range records {
		historyByProduct[record.ProductID] = append(historyByProduct[record.ProductID], record)
	}

	summary = domain.SalesSummary{
		CurrentMonth:  currentMonth,
		CurrentYear:   currentYear,
		TotalProducts: len(products),
		SalesData:     make([]domain.ProductSalesData, 0, len(products)),
	}
	for _, product := range products {
		data := domain.ProductSalesData{
			ProductID:    product.ID,
			ProductName:  product.Name,
			Category:     product.Category,
			SalesHistory: historyByProduct[product.ID],
		}
		for _, record := range data.SalesHistory {
			data.TotalSold += record.QuantitySold
			if record.Month == currentMonth && record.Year == currentYear {
				data.CurrentMonthSold += record.QuantitySold
			}
		}
		summary.SalesData = append(summary.SalesData, data)
	}

	s.writeReport(ctx, cacheKey, summary)
	return summary, nil
}

// MonthlySalesByCategory rolls one month of bills up by product
// category. Revenue is tax-exclusive line revenue; products without a
// category land in "Uncategorized". Ties in quantity keep first-seen
// order.
func (s *Service) MonthlySalesByCategory(ctx context.Context, month int, year int) (domain.MonthlyCategoryReport, error) {
	if month < 1 || month > 12 || year < 1 {
		return domain.MonthlyCategoryReport{}, fmt.Errorf("invalid month/year: %w", store.ErrValidation)
	}

	cacheKey := fmt.Sprintf("report:monthly-category:%04d-%02d", year, month)
	var report domain.MonthlyCategoryReport
	if s.readReport(ctx, cacheKey, &report) {
		return report, nil
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	bills, err := s.repo.ListBillsInRange(ctx, from, to)
	if err != nil {
		return domain.MonthlyCategoryReport{}, err
	}

	productIDs := make([]string, 0, 32)
	seen := make(map[string]struct{}, 32)
	for _, bill := range bills {
		for _, item := range bill.Items {
			if _, ok := seen[item.ProductID]; ok {
				continue
			}
			seen[item.ProductID] = struct{}{}
			productIDs = append(productIDs, item.ProductID)
		}
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.MonthlyCategoryReport{}, err
	}

	type bucket struct {
		quantity int
		revenue  float64
	}
	buckets := make(map[string]*bucket, 16)
	order := make([]string, 0, 16)
	totalItems := 0
	totalRevenue := 0.0
	for _, bill := range bills {
		for _, item := range bill.Items {
			category := "Uncategorized"
			if product, ok := products[item.ProductID]; ok && product.Category != "" {
				category = product.Category
			}
			b, ok := buckets[category]
			if !ok {
				b = &bucket{}
				buckets[category] = b
				order = append(order, category)
			}
			lineRevenue := item.Price * float64(item.Quantity)
			b.quantity += item.Quantity
			b.revenue += lineRevenue
			totalItems += item.Quantity
			totalRevenue += lineRevenue
		}
	}

	report = domain.MonthlyCategoryReport{
		Month:        month,
		Year:         year,
		TotalItems:   totalItems,
		TotalRevenue: round2(totalRevenue),
		BillCount:    len(bills),
		CategoryData: make([]domain.CategorySales, 0, len(order)),
	}
	for _, category := range order {
		b := buckets[category]
		report.CategoryData = append(report.CategoryData, domain.CategorySales{
			Category: category,
			Quantity: b.quantity,
			Revenue:  round2(b.revenue),
		})
	}
	sort.SliceStable(report.CategoryData, func(i, j int) bool {
		return report.CategoryData[i].Quantity > report.CategoryData[j].Quantity
	})
	if len(report.CategoryData) > 0 {
		report.MostSoldCategory = report.CategoryData[0].Category
	}

	s.writeReport(ctx, cacheKey, report)
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -7)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) readReport(ctx context.Context, key string, dest any) bool {
	payload, ok, err := s.reports.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache payload unreadable")
		return false
	}
	return true
}

func (s *Service) writeReport(ctx context.Context, key string, report any) {
	payload, err := json.Marshal(report)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache marshal failed")
		return
	}
	if err := s.reports.Set(ctx, key, payload, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache write failed")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("audit log write failed")
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
