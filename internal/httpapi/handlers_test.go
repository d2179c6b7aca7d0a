package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/1129Aliasgar/Billing-system/internal/domain"
	"github.com/1129Aliasgar/Billing-system/internal/service"
	"github.com/1129Aliasgar/Billing-system/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, time.Minute, domain.SellerInfo{
		Name:      "Test Materials Store",
		GstNumber: "27TESTGST0001Z5",
	})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// login obtains a bearer token for the given seeded user.
func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = fmt.Sprintf("198.51.100.%d:4000", len(username))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func authedRequest(t *testing.T, method, target, token string, body any) *http.Request {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP".
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "biller", "biller123")

	req := authedRequest(t, http.MethodGet, "/api/v1/products", token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.ProductListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatalf("expected seeded products in response")
	}
}

func TestHandleCategories_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "biller", "biller123")

	req := authedRequest(t, http.MethodGet, "/api/v1/categories", token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.CategoryListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Categories) == 0 {
		t.Fatalf("expected seeded categories in response")
	}
}

func TestHandleBills_CreateAndFetch(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "biller", "biller123")

	req := authedRequest(t, http.MethodPost, "/api/v1/billing/bills", token, domain.CreateBillRequest{
		CustomerName: "Ramesh",
		Items:        []domain.LineItem{{ProductID: "prod-cement-50", Quantity: 2}},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created domain.BillResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode bill response: %v", err)
	}
	if created.Bill.BillNumber == "" || created.Bill.ID == "" {
		t.Fatalf("expected persisted bill in response, got %+v", created.Bill)
	}
	if created.Seller.Name != "Test Materials Store" {
		t.Fatalf("bill response must carry seller info, got %+v", created.Seller)
	}

	// Fetch by id.
	req = authedRequest(t, http.MethodGet, "/api/v1/billing/bills/"+created.Bill.ID, token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by id: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Fetch by bill number.
	req = authedRequest(t, http.MethodGet, "/api/v1/billing/bills/number/"+created.Bill.BillNumber, token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by number: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var byNumber domain.BillResponse
	if err := json.NewDecoder(rec.Body).Decode(&byNumber); err != nil {
		t.Fatalf("decode bill response: %v", err)
	}
	if byNumber.Bill.ID != created.Bill.ID {
		t.Fatalf("expected same bill by number, got %s vs %s", byNumber.Bill.ID, created.Bill.ID)
	}
}

func TestHandleBills_StockConflictBody(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "biller", "biller123")

	req := authedRequest(t, http.MethodPost, "/api/v1/billing/bills", token, domain.CreateBillRequest{
		CustomerName: "Greedy",
		Items:        []domain.LineItem{{ProductID: "prod-cement-50", Quantity: 100000}},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["productId"] != "prod-cement-50" {
		t.Fatalf("expected productId in conflict body, got %v", body)
	}
	if body["available"] == nil || body["requested"] == nil {
		t.Fatalf("expected available/requested in conflict body, got %v", body)
	}
}

func TestHandleBillPayment(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "biller", "biller123")

	req := authedRequest(t, http.MethodPost, "/api/v1/billing/bills", token, domain.CreateBillRequest{
		CustomerName: "Suresh",
		Items:        []domain.LineItem{{ProductID: "prod-cement-50", Quantity: 1}},
		IsDebit:      true,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.BillResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode bill response: %v", err)
	}
	if created.Bill.Status != domain.BillStatusDue {
		t.Fatalf("expected due bill, got %s", created.Bill.Status)
	}

	req = authedRequest(t, http.MethodPut, "/api/v1/billing/bills/"+created.Bill.ID+"/payment", token, domain.UpdatePaymentRequest{
		Amount: created.Bill.TotalAmount,
	})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var paid domain.BillResponse
	if err := json.NewDecoder(rec.Body).Decode(&paid); err != nil {
		t.Fatalf("decode bill response: %v", err)
	}
	if paid.Bill.Status != domain.BillStatusCompleted || paid.Bill.UserDue != 0 {
		t.Fatalf("expected settled bill, got status=%s due=%v", paid.Bill.Status, paid.Bill.UserDue)
	}
}

func TestHandleBillDelete(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "biller", "biller123")

	req := authedRequest(t, http.MethodPost, "/api/v1/billing/bills", token, domain.CreateBillRequest{
		CustomerName: "Mistake",
		Items:        []domain.LineItem{{ProductID: "prod-cement-50", Quantity: 1}},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}
	var created domain.BillResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode bill response: %v", err)
	}

	req = authedRequest(t, http.MethodDelete, "/api/v1/billing/bills/"+created.Bill.ID, token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req = authedRequest(t, http.MethodGet, "/api/v1/billing/bills/"+created.Bill.ID, token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestHandleSalesSummary_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	billerToken := login(t, handler, "biller", "biller123")
	req := authedRequest(t, http.MethodGet, "/api/v1/sales/summary", billerToken, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("biller must not see the summary, got %d", rec.Code)
	}

	adminToken := login(t, handler, "admin", "admin123")
	req = authedRequest(t, http.MethodGet, "/api/v1/sales/summary", adminToken, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin summary: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleMonthlyByCategory_RequiresMonthAndYear(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "admin", "admin123")

	req := authedRequest(t, http.MethodGet, "/api/v1/sales/monthly-by-category", token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without month/year, got %d", rec.Code)
	}

	req = authedRequest(t, http.MethodGet, "/api/v1/sales/monthly-by-category?month=8&year=2026", token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
