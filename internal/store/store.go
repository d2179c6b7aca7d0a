package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/1129Aliasgar/Billing-system/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid request")
	ErrConflict          = errors.New("conflict, retry")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockError reports which product could not be reserved and how much
// of it was available at the time. It matches ErrInsufficientStock
// through errors.Is so callers can branch without unpacking it.
type StockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): %d available, %d requested",
		e.Name, e.ProductID, e.Available, e.Requested)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// SettlePayment applies a payment amount to the bill in place: paid
// rises and due falls by the amount, due clamps at zero with paid
// capped at the total, and the debit flag and status follow the
// remaining due. Stores call it while holding the bill's lock.
func SettlePayment(bill *domain.Bill, amount float64) {
	paid := round2(bill.UserPaid + amount)
	due := round2(bill.UserDue - amount)
	if due < 0 {
		due = 0
	}
	if paid > bill.TotalAmount {
		paid = bill.TotalAmount
	}

	bill.UserPaid = paid
	bill.UserDue = due
	bill.IsDebit = due > 0
	bill.Status = domain.BillStatusCompleted
	if due > 0 {
		bill.Status = domain.BillStatusDue
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Repository is the storage contract shared by the postgres and memory
// implementations. CreateBill is the atomic unit: stock reservation,
// sequence assignment, bill persistence and sales upserts all commit or
// all roll back. ApplyPayment settles the amount against the stored
// balance under the bill's lock. DeleteBill reverses sales aggregates
// but never restores stock.
type Repository interface {
	ListBillableProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)

	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	GetBillByNumber(ctx context.Context, billNumber string) (*domain.Bill, error)
	ListBills(ctx context.Context, filter domain.BillListFilter) ([]domain.Bill, error)
	ListBillsInRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Bill, error)
	UpdateBillBuyer(ctx context.Context, id string, req domain.UpdateBillInfoRequest) (*domain.Bill, error)
	ApplyPayment(ctx context.Context, id string, amount float64) (*domain.Bill, error)
	DeleteBill(ctx context.Context, id string) error

	ListSalesRecords(ctx context.Context, filter domain.SalesFilter) ([]domain.SalesRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
