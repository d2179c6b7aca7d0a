package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/1129Aliasgar/Billing-system/internal/domain"
	"github.com/1129Aliasgar/Billing-system/internal/store"
	"github.com/1129Aliasgar/Billing-system/internal/xid"
)

type salesKey struct {
	productID string
	month     int
	year      int
}

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	categories      []domain.Category
	billsByID       map[string]*domain.Bill
	billIDByNumber  map[string]string
	salesRecords    map[salesKey]*domain.SalesRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	billSeq         int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_BILLER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	billerPwd := envOr("SEED_BILLER_PASSWORD", "biller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_BILLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_BILLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"biller", billerPwd, domain.RoleBiller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewWithCatalog builds a store over the given catalog. Tests use it
// to control prices and stock; NewSeeded wraps it with the demo
// catalog.
func NewWithCatalog(products []domain.Product, categories []domain.Category) *Store {
	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		products:        productMap,
		categories:      categories,
		billsByID:       make(map[string]*domain.Bill),
		billIDByNumber:  make(map[string]string),
		salesRecords:    make(map[salesKey]*domain.SalesRecord),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-cement-50", Name: "UltraTech Cement 50kg", Category: "Cement", Price: 390, InStock: 120, GstRate: 28, HsnCode: "2523", Billable: true},
		{ID: "prod-tmt-12", Name: "TMT Steel Bar 12mm", Category: "Steel", Price: 720, InStock: 80, GstRate: 18, HsnCode: "7214", Billable: true},
		{ID: "prod-sand-ton", Name: "River Sand (per ton)", Category: "Aggregates", Price: 1450, InStock: 35, GstRate: 5, HsnCode: "2505", Billable: true},
		{ID: "prod-stone-20", Name: "Crushed Stone 20mm (per ton)", Category: "Aggregates", Price: 1300, InStock: 40, GstRate: 5, HsnCode: "2517", Billable: true},
		{ID: "prod-bricks-100", Name: "Red Clay Bricks (per 100)", Category: "Bricks", Price: 650, InStock: 200, GstRate: 5, HsnCode: "6904", Billable: true},
		{ID: "prod-pvc-4in", Name: "PVC Pipe 4in", Category: "Plumbing", Price: 310, InStock: 150, GstRate: 18, HsnCode: "3917", Billable: true},
		{ID: "prod-putty-20", Name: "Wall Putty 20kg", Category: "Paint", Price: 540, InStock: 60, GstRate: 18, HsnCode: "3214", Billable: true},
		{ID: "prod-wire-1kg", Name: "Binding Wire 1kg", Category: "", Price: 85, InStock: 90, GstRate: 18, HsnCode: "7217", Billable: true},
	}

	categories := []domain.Category{
		{ID: "cat-cement", Name: "Cement"},
		{ID: "cat-steel", Name: "Steel"},
		{ID: "cat-aggregates", Name: "Aggregates"},
		{ID: "cat-bricks", Name: "Bricks"},
		{ID: "cat-plumbing", Name: "Plumbing"},
		{ID: "cat-paint", Name: "Paint"},
	}

	return NewWithCatalog(products, categories)
}

func (s *Store) ListBillableProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Billable {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, exists := s.products[id]; exists {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, len(s.categories))
	copy(categories, s.categories)
	return categories, nil
}

// CreateBill validates the whole cart before touching anything, then
// applies every mutation under the same lock: stock decrements, the
// sequence number, the bill itself and the sales upserts. A failed line
// leaves the store exactly as it was.
func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(bill.Items) == 0 {
		return nil, store.ErrValidation
	}

	requested := make(map[string]int, len(bill.Items))
	for _, item := range bill.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if product, exists := s.products[item.ProductID]; !exists || !product.Billable {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		requested[item.ProductID] += item.Quantity
	}
	checked := make(map[string]struct{}, len(requested))
	for _, item := range bill.Items {
		if _, done := checked[item.ProductID]; done {
			continue
		}
		checked[item.ProductID] = struct{}{}
		product := s.products[item.ProductID]
		if qty := requested[item.ProductID]; product.InStock < qty {
			return nil, &store.StockError{
				ProductID: product.ID,
				Name:      product.Name,
				Available: product.InStock,
				Requested: qty,
			}
		}
	}

	for _, item := range bill.Items {
		product := s.products[item.ProductID]
		product.InStock -= item.Quantity
		s.products[item.ProductID] = product
	}

	s.billSeq++
	bill.BillNumber = fmt.Sprintf("BLI%05d", s.billSeq)
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	// Each record gains exactly one reference to this bill even when
	// the cart carries the same product on several lines; the delete
	// path counts on the reference being unique per bill.
	month := int(bill.CreatedAt.Month())
	year := bill.CreatedAt.Year()
	referenced := make(map[string]struct{}, len(requested))
	for _, item := range bill.Items {
		key := salesKey{productID: item.ProductID, month: month, year: year}
		record, exists := s.salesRecords[key]
		if !exists {
			record = &domain.SalesRecord{
				ID:          xid.New("sale"),
				ProductID:   item.ProductID,
				ProductName: item.Name,
				Month:       month,
				Year:        year,
			}
			s.salesRecords[key] = record
		}
		record.QuantitySold += item.Quantity
		record.Revenue += item.Price * float64(item.Quantity)
		if _, seen := referenced[item.ProductID]; !seen {
			referenced[item.ProductID] = struct{}{}
			record.BillRefs = append(record.BillRefs, bill.ID)
		}
		record.UpdatedAt = bill.CreatedAt
	}

	stored := bill
	s.billsByID[bill.ID] = &stored
	s.billIDByNumber[bill.BillNumber] = bill.ID

	created := stored
	created.Items = cloneItems(stored.Items)
	return &created, nil
}

func (s *Store) GetBill(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.billsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneBill(bill), nil
}

func (s *Store) GetBillByNumber(_ context.Context, billNumber string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.billIDByNumber[billNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneBill(s.billsByID[id]), nil
}

func (s *Store) ListBills(_ context.Context, filter domain.BillListFilter) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.billsByID))
	for _, bill := range s.billsByID {
		if filter.Status != "" && bill.Status != filter.Status {
			continue
		}
		if filter.IsDebit != nil && bill.IsDebit != *filter.IsDebit {
			continue
		}
		bills = append(bills, *cloneBill(bill))
	}

	sortBillsNewestFirst(bills)
	return bills, nil
}

func (s *Store) ListBillsInRange(_ context.Context, from time.Time, to time.Time) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.billsByID))
	for _, bill := range s.billsByID {
		if bill.CreatedAt.Before(from) || !bill.CreatedAt.Before(to) {
			continue
		}
		bills = append(bills, *cloneBill(bill))
	}

	sortBillsNewestFirst(bills)
	return bills, nil
}

func (s *Store) UpdateBillBuyer(_ context.Context, id string, req domain.UpdateBillInfoRequest) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, exists := s.billsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	if req.CustomerName != nil {
		bill.CustomerName = *req.CustomerName
	}
	if req.BuyerName != nil {
		bill.BuyerName = *req.BuyerName
	}
	if req.BuyerAddress != nil {
		bill.BuyerAddress = *req.BuyerAddress
	}
	if req.BuyerPhone != nil {
		bill.BuyerPhone = *req.BuyerPhone
	}
	if req.BuyerGstNumber != nil {
		bill.BuyerGstNumber = *req.BuyerGstNumber
	}
	if req.VehicleNumber != nil {
		bill.VehicleNumber = *req.VehicleNumber
	}
	if req.Delivery != nil {
		bill.Delivery = *req.Delivery
	}

	return cloneBill(bill), nil
}

func (s *Store) ApplyPayment(_ context.Context, id string, amount float64) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, exists := s.billsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	store.SettlePayment(bill, amount)

	return cloneBill(bill), nil
}

// DeleteBill removes the bill and reverses its contribution to the
// sales index. Stock is not restored: sold goods left the yard.
// Records are matched by bill reference first; the bill-number fallback
// only runs when the reference matched nothing, so a record is never
// decremented twice for one deletion.
func (s *Store) DeleteBill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, exists := s.billsByID[id]
	if !exists {
		return store.ErrNotFound
	}

	month := int(bill.CreatedAt.Month())
	year := bill.CreatedAt.Year()
	type salesDelta struct {
		quantity int
		revenue  float64
	}
	deltas := make(map[string]salesDelta, len(bill.Items))
	for _, item := range bill.Items {
		delta := deltas[item.ProductID]
		delta.quantity += item.Quantity
		delta.revenue += item.Price * float64(item.Quantity)
		deltas[item.ProductID] = delta
	}
	for productID, delta := range deltas {
		key := salesKey{productID: productID, month: month, year: year}
		record, ok := s.salesRecords[key]
		if !ok {
			continue
		}
		matched := removeRef(record, bill.ID)
		if !matched {
			matched = removeRef(record, bill.BillNumber)
		}
		if !matched {
			continue
		}
		record.QuantitySold -= delta.quantity
		record.Revenue -= delta.revenue
		record.UpdatedAt = time.Now().UTC()
	}

	delete(s.billIDByNumber, bill.BillNumber)
	delete(s.billsByID, id)
	return nil
}

func (s *Store) ListSalesRecords(_ context.Context, filter domain.SalesFilter) ([]domain.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.SalesRecord, 0, len(s.salesRecords))
	for _, record := range s.salesRecords {
		if filter.ProductID != "" && record.ProductID != filter.ProductID {
			continue
		}
		if filter.Month != 0 && record.Month != filter.Month {
			continue
		}
		if filter.Year != 0 && record.Year != filter.Year {
			continue
		}
		records = append(records, cloneSalesRecord(record))
	}

	slices.SortFunc(records, func(a, b domain.SalesRecord) int {
		if a.Year != b.Year {
			return b.Year - a.Year
		}
		if a.Month != b.Month {
			return b.Month - a.Month
		}
		return cmpString(a.ProductID, b.ProductID)
	})

	return records, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
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

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}

	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func removeRef(record *domain.SalesRecord, ref string) bool {
	for i, r := range record.BillRefs {
		if r == ref {
			record.BillRefs = append(record.BillRefs[:i], record.BillRefs[i+1:]...)
			return true
		}
	}
	return false
}

func cloneBill(bill *domain.Bill) *domain.Bill {
	copyBill := *bill
	copyBill.Items = cloneItems(bill.Items)
	return &copyBill
}

func cloneItems(items []domain.LineItem) []domain.LineItem {
	copied := make([]domain.LineItem, len(items))
	copy(copied, items)
	return copied
}

func cloneSalesRecord(record *domain.SalesRecord) domain.SalesRecord {
	copied := *record
	copied.BillRefs = append([]string(nil), record.BillRefs...)
	return copied
}

func sortBillsNewestFirst(bills []domain.Bill) {
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.BillNumber, a.BillNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
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
