package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/1129Aliasgar/Billing-system/internal/domain"
	"github.com/1129Aliasgar/Billing-system/internal/store"
	"github.com/1129Aliasgar/Billing-system/internal/xid"
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

func (s *Store) ListBillableProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, in_stock, gst_rate, hsn_code, billable
		FROM products
		WHERE billable = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.InStock, &p.GstRate, &p.HsnCode, &p.Billable); err != nil {
			return nil, err
		}
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
		SELECT id, name, category, price, in_stock, gst_rate, hsn_code, billable
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.InStock, &p.GstRate, &p.HsnCode, &p.Billable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, in_stock, gst_rate, hsn_code, billable
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.InStock, &p.GstRate, &p.HsnCode, &p.Billable); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return categories, nil
}

// CreateBill runs the whole bill as one serializable transaction:
// lock the products, reserve stock with conditional decrements, take
// the next bill number from the sequence row, write the bill and its
// items, and fold the items into the sales index. Any failed line
// rolls the entire transaction back.
func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueProductIDs(bill.Items)
	if len(ids) == 0 {
		return nil, store.ErrValidation
	}

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, in_stock
		FROM products
		WHERE billable = true AND id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, asStoreErr(err)
	}
	type productState struct {
		name    string
		inStock int
	}
	productMap := make(map[string]productState, len(ids))
	for productRows.Next() {
		var id, name string
		var inStock int
		if err := productRows.Scan(&id, &name, &inStock); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		productMap[id] = productState{name: name, inStock: inStock}
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	requested := make(map[string]int, len(ids))
	for _, item := range bill.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if _, exists := productMap[item.ProductID]; !exists {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		requested[item.ProductID] += item.Quantity
	}

	for _, id := range ids {
		qty := requested[id]
		state := productMap[id]
		if state.inStock < qty {
			return nil, &store.StockError{
				ProductID: id,
				Name:      state.name,
				Available: state.inStock,
				Requested: qty,
			}
		}
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET in_stock = in_stock - $1
			WHERE id = $2 AND in_stock >= $1
		`, qty, id)
		if err != nil {
			return nil, asStoreErr(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, &store.StockError{
				ProductID: id,
				Name:      state.name,
				Available: state.inStock,
				Requested: qty,
			}
		}
	}

	var seq int64
	if err := pgTx.QueryRowContext(ctx, `
		UPDATE bill_sequence
		SET value = value + 1
		WHERE id = 1
		RETURNING value
	`).Scan(&seq); err != nil {
		return nil, asStoreErr(err)
	}
	bill.BillNumber = fmt.Sprintf("BLI%05d", seq)

	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO bills (
			id, bill_number, customer_name, buyer_name, buyer_address, buyer_phone,
			buyer_gst_number, vehicle_number, delivery,
			bill_amount, tax_amount, total_amount, user_paid, user_due,
			gst, gst_percent, cgst_sgst, is_debit, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, bill.ID, bill.BillNumber, bill.CustomerName, bill.BuyerName, bill.BuyerAddress, bill.BuyerPhone,
		bill.BuyerGstNumber, bill.VehicleNumber, bill.Delivery,
		bill.BillAmount, bill.TaxAmount, bill.TotalAmount, bill.UserPaid, bill.UserDue,
		bill.Gst, bill.GstPercent, bill.CgstSgst, bill.IsDebit, bill.Status, bill.CreatedAt); err != nil {
		return nil, asStoreErr(err)
	}

	for _, item := range bill.Items {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, product_id, name, price, quantity, gst_rate, hsn_code)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, bill.ID, item.ProductID, item.Name, item.Price, item.Quantity, item.GstRate, item.HsnCode); err != nil {
			return nil, asStoreErr(err)
		}
	}

	// One upsert per product, with the bill's lines summed, so each
	// record carries exactly one reference to this bill. Deletion
	// relies on that: array_remove strips every occurrence of a ref,
	// so duplicate refs would break the reversal.
	month := int(bill.CreatedAt.Month())
	year := bill.CreatedAt.Year()
	totals := sumByProduct(bill.Items)
	for _, productID := range uniqueProductIDs(bill.Items) {
		total := totals[productID]
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sales_records (id, product_id, product_name, quantity_sold, revenue, month, year, bill_refs, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,ARRAY[$8],$9)
			ON CONFLICT (product_id, month, year)
			DO UPDATE SET
				quantity_sold = sales_records.quantity_sold + EXCLUDED.quantity_sold,
				revenue = sales_records.revenue + EXCLUDED.revenue,
				bill_refs = array_append(sales_records.bill_refs, $8),
				updated_at = EXCLUDED.updated_at
		`, xid.New("sale"), productID, total.name, total.quantity, total.revenue,
			month, year, bill.ID, bill.CreatedAt); err != nil {
			return nil, asStoreErr(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, asStoreErr(err)
	}

	created := bill
	return &created, nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	bill, err := s.getBillWhere(ctx, "id = $1", id)
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *Store) GetBillByNumber(ctx context.Context, billNumber string) (*domain.Bill, error) {
	bill, err := s.getBillWhere(ctx, "bill_number = $1", billNumber)
	if err != nil {
		return nil, err
	}
	return bill, nil
}

const billColumns = `
	id, bill_number, customer_name, buyer_name, buyer_address, buyer_phone,
	buyer_gst_number, vehicle_number, delivery,
	bill_amount, tax_amount, total_amount, user_paid, user_due,
	gst, gst_percent, cgst_sgst, is_debit, status, created_at
`

func (s *Store) getBillWhere(ctx context.Context, where string, arg any) (*domain.Bill, error) {
	var bill domain.Bill
	err := s.db.QueryRowContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE `+where, arg,
	).Scan(
		&bill.ID, &bill.BillNumber, &bill.CustomerName, &bill.BuyerName, &bill.BuyerAddress, &bill.BuyerPhone,
		&bill.BuyerGstNumber, &bill.VehicleNumber, &bill.Delivery,
		&bill.BillAmount, &bill.TaxAmount, &bill.TotalAmount, &bill.UserPaid, &bill.UserDue,
		&bill.Gst, &bill.GstPercent, &bill.CgstSgst, &bill.IsDebit, &bill.Status, &bill.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	bill.CreatedAt = bill.CreatedAt.UTC()

	items, err := s.loadItems(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	bill.Items = items
	return &bill, nil
}

func (s *Store) loadItems(ctx context.Context, billID string) ([]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, price, quantity, gst_rate, hsn_code
		FROM bill_items
		WHERE bill_id = $1
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.GstRate, &item.HsnCode); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListBills(ctx context.Context, filter domain.BillListFilter) ([]domain.Bill, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.IsDebit != nil {
		args = append(args, *filter.IsDebit)
		conditions = append(conditions, fmt.Sprintf("is_debit = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	return s.listBills(ctx, where, args)
}

func (s *Store) ListBillsInRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Bill, error) {
	return s.listBills(ctx, "WHERE created_at >= $1 AND created_at < $2", []any{from, to})
}

func (s *Store) listBills(ctx context.Context, where string, args []any) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills `+where+` ORDER BY created_at DESC, bill_number DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	for rows.Next() {
		var bill domain.Bill
		if err := rows.Scan(
			&bill.ID, &bill.BillNumber, &bill.CustomerName, &bill.BuyerName, &bill.BuyerAddress, &bill.BuyerPhone,
			&bill.BuyerGstNumber, &bill.VehicleNumber, &bill.Delivery,
			&bill.BillAmount, &bill.TaxAmount, &bill.TotalAmount, &bill.UserPaid, &bill.UserDue,
			&bill.Gst, &bill.GstPercent, &bill.CgstSgst, &bill.IsDebit, &bill.Status, &bill.CreatedAt,
		); err != nil {
			return nil, err
		}
		bill.CreatedAt = bill.CreatedAt.UTC()
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		items, err := s.loadItems(ctx, bills[i].ID)
		if err != nil {
			return nil, err
		}
		bills[i].Items = items
	}

	return bills, nil
}

func (s *Store) UpdateBillBuyer(ctx context.Context, id string, req domain.UpdateBillInfoRequest) (*domain.Bill, error) {
	sets := make([]string, 0, 7)
	args := []any{id}
	appendSet := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	appendSet("customer_name", req.CustomerName)
	appendSet("buyer_name", req.BuyerName)
	appendSet("buyer_address", req.BuyerAddress)
	appendSet("buyer_phone", req.BuyerPhone)
	appendSet("buyer_gst_number", req.BuyerGstNumber)
	appendSet("vehicle_number", req.VehicleNumber)
	appendSet("delivery", req.Delivery)

	if len(sets) > 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE bills SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
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
	}

	return s.GetBill(ctx, id)
}

// ApplyPayment settles the amount against the stored balance while
// holding the bill's row lock, so concurrent payments on the same bill
// serialize instead of overwriting each other.
func (s *Store) ApplyPayment(ctx context.Context, id string, amount float64) (*domain.Bill, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var bill domain.Bill
	err = pgTx.QueryRowContext(ctx, `
		SELECT user_paid, user_due, total_amount
		FROM bills
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&bill.UserPaid, &bill.UserDue, &bill.TotalAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, asStoreErr(err)
	}

	store.SettlePayment(&bill, amount)

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE bills
		SET user_paid = $2, user_due = $3, is_debit = $4, status = $5
		WHERE id = $1
	`, id, bill.UserPaid, bill.UserDue, bill.IsDebit, bill.Status); err != nil {
		return nil, asStoreErr(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, asStoreErr(err)
	}

	return s.GetBill(ctx, id)
}

// DeleteBill removes the bill and its items and backs the quantities
// out of the sales index. The decrement matches by bill reference
// first; only when that matches no row does it fall back to the bill
// number, so one deletion never decrements the same record twice.
// Stock stays where it is.
func (s *Store) DeleteBill(ctx context.Context, id string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var bill domain.Bill
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, bill_number, created_at
		FROM bills
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&bill.ID, &bill.BillNumber, &bill.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return asStoreErr(err)
	}
	bill.CreatedAt = bill.CreatedAt.UTC()

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, price, quantity
		FROM bill_items
		WHERE bill_id = $1
	`, id)
	if err != nil {
		return asStoreErr(err)
	}
	lines := make([]domain.LineItem, 0, 8)
	for itemRows.Next() {
		var line domain.LineItem
		if err := itemRows.Scan(&line.ProductID, &line.Price, &line.Quantity); err != nil {
			_ = itemRows.Close()
			return err
		}
		lines = append(lines, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return err
	}
	_ = itemRows.Close()

	// Lines are summed per product to mirror the create path's one
	// upsert per product, so each record loses exactly one reference
	// and the summed quantity and revenue.
	month := int(bill.CreatedAt.Month())
	year := bill.CreatedAt.Year()
	totals := sumByProduct(lines)
	for _, productID := range uniqueProductIDs(lines) {
		total := totals[productID]
		matched, err := decrementSales(ctx, pgTx, productID, month, year, total.quantity, total.revenue, bill.ID)
		if err != nil {
			return asStoreErr(err)
		}
		if !matched {
			if _, err := decrementSales(ctx, pgTx, productID, month, year, total.quantity, total.revenue, bill.BillNumber); err != nil {
				return asStoreErr(err)
			}
		}
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id = $1`, id); err != nil {
		return asStoreErr(err)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, id); err != nil {
		return asStoreErr(err)
	}

	if err := pgTx.Commit(); err != nil {
		return asStoreErr(err)
	}
	return nil
}

func decrementSales(ctx context.Context, pgTx *sql.Tx, productID string, month int, year int, qty int, revenue float64, ref string) (bool, error) {
	res, err := pgTx.ExecContext(ctx, `
		UPDATE sales_records
		SET quantity_sold = quantity_sold - $4,
			revenue = revenue - $5,
			bill_refs = array_remove(bill_refs, $6),
			updated_at = now()
		WHERE product_id = $1 AND month = $2 AND year = $3 AND $6 = ANY(bill_refs)
	`, productID, month, year, qty, revenue, ref)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListSalesRecords(ctx context.Context, filter domain.SalesFilter) ([]domain.SalesRecord, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.Month != 0 {
		args = append(args, filter.Month)
		conditions = append(conditions, fmt.Sprintf("month = $%d", len(args)))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity_sold, revenue, month, year, updated_at
		FROM sales_records
		`+where+`
		ORDER BY year DESC, month DESC, product_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SalesRecord, 0, 64)
	for rows.Next() {
		var r domain.SalesRecord
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ProductName, &r.QuantitySold, &r.Revenue, &r.Month, &r.Year, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
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

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
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

type productTotal struct {
	name     string
	quantity int
	revenue  float64
}

func sumByProduct(items []domain.LineItem) map[string]productTotal {
	totals := make(map[string]productTotal, len(items))
	for _, item := range items {
		total := totals[item.ProductID]
		if total.name == "" {
			total.name = item.Name
		}
		total.quantity += item.Quantity
		total.revenue += item.Price * float64(item.Quantity)
		totals[item.ProductID] = total
	}
	return totals
}

func uniqueProductIDs(items []domain.LineItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// asStoreErr maps serialization failures and deadlocks to ErrConflict
// so callers can retry the whole operation.
func asStoreErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Code)
		}
	}
	return err
}
