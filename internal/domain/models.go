package domain

import "time"

type Product struct {
	ID       string  `json:"_id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	InStock  int     `json:"inStock"`
	GstRate  float64 `json:"gstRate"`
	HsnCode  string  `json:"hsnCode,omitempty"`
	Billable bool    `json:"isBillingAvailable"`
}

type Category struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// LineItem is one row on a bill. Name and Price are snapshots taken at
// billing time so later catalog edits do not rewrite history.
type LineItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	GstRate   float64 `json:"gstRate,omitempty"`
	HsnCode   string  `json:"hsnCode,omitempty"`
}

type Bill struct {
	ID             string     `json:"_id"`
	BillNumber     string     `json:"billId"`
	CustomerName   string     `json:"customerName"`
	BuyerName      string     `json:"buyerName,omitempty"`
	BuyerAddress   string     `json:"buyerAddress,omitempty"`
	BuyerPhone     string     `json:"buyerPhone,omitempty"`
	BuyerGstNumber string     `json:"buyerGstNumber,omitempty"`
	VehicleNumber  string     `json:"vehicleNumber,omitempty"`
	Delivery       string     `json:"delivery,omitempty"`
	Items          []LineItem `json:"items"`
	BillAmount     float64    `json:"billAmount"`
	TaxAmount      float64    `json:"taxAmount"`
	TotalAmount    float64    `json:"totalAmount"`
	UserPaid       float64    `json:"userPaid"`
	UserDue        float64    `json:"userDue"`
	Gst            bool       `json:"gst"`
	GstPercent     float64    `json:"gstPercent"`
	CgstSgst       bool       `json:"cgstSgst"`
	IsDebit        bool       `json:"isDebit"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// SalesRecord is one row of the sales aggregate index, keyed by
// (ProductID, Month, Year). BillRefs tracks which bills contributed.
type SalesRecord struct {
	ID           string    `json:"_id"`
	ProductID    string    `json:"productId"`
	ProductName  string    `json:"productName"`
	QuantitySold int       `json:"quantitySold"`
	Revenue      float64   `json:"revenue"`
	Month        int       `json:"month"`
	Year         int       `json:"year"`
	BillRefs     []string  `json:"billRefs,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type CreateBillRequest struct {
	CustomerName   string     `json:"customerName"`
	BuyerName      string     `json:"buyerName"`
	BuyerAddress   string     `json:"buyerAddress"`
	BuyerPhone     string     `json:"buyerPhone"`
	BuyerGstNumber string     `json:"buyerGstNumber"`
	VehicleNumber  string     `json:"vehicleNumber"`
	Delivery       string     `json:"delivery"`
	Items          []LineItem `json:"items"`
	Gst            bool       `json:"gst"`
	GstPercent     float64    `json:"gstPercent"`
	CgstSgst       bool       `json:"cgstSgst"`
	IsDebit        bool       `json:"isDebit"`
	UserPaid       *float64   `json:"userPaid,omitempty"`
	UserDue        *float64   `json:"userDue,omitempty"`
}

type UpdatePaymentRequest struct {
	Amount float64 `json:"amount"`
}

// UpdateBillInfoRequest carries buyer and logistics edits only; money
// fields and items are immutable after creation.
type UpdateBillInfoRequest struct {
	CustomerName   *string `json:"customerName,omitempty"`
	BuyerName      *string `json:"buyerName,omitempty"`
	BuyerAddress   *string `json:"buyerAddress,omitempty"`
	BuyerPhone     *string `json:"buyerPhone,omitempty"`
	BuyerGstNumber *string `json:"buyerGstNumber,omitempty"`
	VehicleNumber  *string `json:"vehicleNumber,omitempty"`
	Delivery       *string `json:"delivery,omitempty"`
}

type BillResponse struct {
	Bill   Bill       `json:"bill"`
	Seller SellerInfo `json:"seller"`
}

type BillListResponse struct {
	Bills []Bill `json:"bills"`
}

// SellerInfo is the shop identity printed on invoices, served alongside
// bill payloads so the rendering client needs no second lookup.
type SellerInfo struct {
	Name      string `json:"name"`
	GstNumber string `json:"gstNumber,omitempty"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type BillListFilter struct {
	Status  string
	IsDebit *bool
}

type SalesFilter struct {
	ProductID string
	Month     int
	Year      int
}

type SalesListResponse struct {
	Sales []SalesRecord `json:"sales"`
}

type ProductSalesData struct {
	ProductID        string        `json:"productId"`
	ProductName      string        `json:"productName"`
	Category         string        `json:"category"`
	TotalSold        int           `json:"totalSold"`
	CurrentMonthSold int           `json:"currentMonthSold"`
	SalesHistory     []SalesRecord `json:"salesHistory"`
}

type SalesSummary struct {
	CurrentMonth  int                `json:"currentMonth"`
	CurrentYear   int                `json:"currentYear"`
	TotalProducts int                `json:"totalProducts"`
	SalesData     []ProductSalesData `json:"salesData"`
}

type CategorySales struct {
	Category string  `json:"category"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

type MonthlyCategoryReport struct {
	Month            int             `json:"month"`
	Year             int             `json:"year"`
	TotalItems       int             `json:"totalItems"`
	TotalRevenue     float64         `json:"totalRevenue"`
	BillCount        int             `json:"billCount"`
	MostSoldCategory string          `json:"mostSoldCategory"`
	CategoryData     []CategorySales `json:"categoryData"`
}

type ProductListResponse struct {
	Products []Product `json:"products"`
}

type CategoryListResponse struct {
	Categories []Category `json:"categories"`
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

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	BillStatusCompleted = "completed"
	BillStatusDue       = "due"
)

const (
	RoleAdmin  = "admin"
	RoleBiller = "biller"
)
