package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/prestaya/pkg/cache"
	"github.com/mcclellann/prestaya/pkg/ledger"
	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/mcclellann/prestaya/pkg/settlement"
	"github.com/mcclellann/prestaya/pkg/store"
	"github.com/shopspring/decimal"
)

func setupTestServer(t *testing.T) (*Server, *mux.Router) {
	return setupTestServerIn(t, nil)
}

func setupTestServerIn(t *testing.T, loc *time.Location) (*Server, *mux.Router) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	server := NewServer(s, cache.NewMemoryCache(), loc, nil)
	server.now = func() time.Time { return time.Date(2024, time.January, 1, 9, 30, 0, 0, time.UTC) }
	return server, server.Router()
}

func do(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func createLoan(t *testing.T, router *mux.Router, body map[string]interface{}) models.Loan {
	t.Helper()
	rr := do(t, router, "POST", "/loans", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var loan models.Loan
	if err := json.Unmarshal(rr.Body.Bytes(), &loan); err != nil {
		t.Fatalf("Failed to decode loan: %v", err)
	}
	return loan
}

func flatLoanRequest() map[string]interface{} {
	return map[string]interface{}{
		"customer_key":           "test_cust",
		"principal":              "500000",
		"annual_rate_percent":    "20",
		"number_of_installments": 5,
		"frequency":              "monthly",
		"amortization_system":    "flat",
		"start_date":             "2024-01-01",
	}
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	_, router := setupTestServer(t)

	created := createLoan(t, router, map[string]interface{}{
		"customer_key":           "test_cust",
		"principal":              1000000,
		"annual_rate_percent":    10,
		"number_of_installments": 12,
		"frequency":              "monthly",
	})
	if created.System != models.SystemDecliningBalance {
		t.Errorf("Expected default system declining_balance, got %s", created.System)
	}
	if !created.StartDate.Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected start date to default to today, got %s", created.StartDate)
	}

	rr := do(t, router, "GET", "/loans/"+created.ID.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var fetched models.Loan
	json.Unmarshal(rr.Body.Bytes(), &fetched)
	if fetched.ID != created.ID {
		t.Errorf("Expected ID %s, got %s", created.ID, fetched.ID)
	}
	if len(fetched.Installments) != 12 {
		t.Fatalf("Expected 12 installments, got %d", len(fetched.Installments))
	}
	if !fetched.Installments[0].Amount.Equal(decimal.RequireFromString("146763.32")) {
		t.Errorf("Expected first amount 146763.32, got %s", fetched.Installments[0].Amount)
	}
	if !fetched.EndDate.Equal(fetched.Installments[11].DueDate) {
		t.Errorf("Expected end date %s, got %s", fetched.Installments[11].DueDate, fetched.EndDate)
	}

	rr = do(t, router, "GET", "/loans/"+created.ID.String()+"/installments", nil)
	var rows []models.Installment
	json.Unmarshal(rr.Body.Bytes(), &rows)
	if rr.Code != http.StatusOK || len(rows) != 12 {
		t.Errorf("Expected 12 installments, got %d (status %d)", len(rows), rr.Code)
	}
}

func TestAPI_SettleInstallment(t *testing.T) {
	_, router := setupTestServer(t)

	for key, value := range map[string]string{"grace_days": "3", "daily_late_rate_percent": "1"} {
		if rr := do(t, router, "PUT", "/settings/"+key, map[string]string{"value": value}); rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200 for %s, got %d. Body: %s", key, rr.Code, rr.Body.String())
		}
	}
	loan := createLoan(t, router, flatLoanRequest())
	base := "/loans/" + loan.ID.String() + "/installments/1"

	rr := do(t, router, "GET", base+"/quote?as_of=2024-02-05", nil)
	var q settlement.Quote
	json.Unmarshal(rr.Body.Bytes(), &q)
	if rr.Code != http.StatusOK || !q.SuggestedTotal.Equal(decimal.NewFromInt(126000)) {
		t.Errorf("Expected suggested total 126000, got %s (status %d)", q.SuggestedTotal, rr.Code)
	}

	rr = do(t, router, "POST", base+"/payments", map[string]string{"amount": "125000", "as_of": "2024-02-05"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var res settlement.Result
	json.Unmarshal(rr.Body.Bytes(), &res)
	if !res.Payment.LateFeeApplied.Equal(decimal.NewFromInt(6000)) {
		t.Errorf("Expected late fee 6000, got %s", res.Payment.LateFeeApplied)
	}
	if !res.Payment.PrincipalApplied.Equal(decimal.NewFromInt(99000)) {
		t.Errorf("Expected principal 99000, got %s", res.Payment.PrincipalApplied)
	}
	if !res.Loan.Balance.Equal(decimal.NewFromInt(401000)) {
		t.Errorf("Expected balance 401000, got %s", res.Loan.Balance)
	}

	rr = do(t, router, "POST", base+"/payments", map[string]string{"amount": "125000", "as_of": "2024-02-05"})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for second settlement, got %d", rr.Code)
	}

	rr = do(t, router, "GET", "/loans/"+loan.ID.String()+"/payments", nil)
	var payments []models.Payment
	json.Unmarshal(rr.Body.Bytes(), &payments)
	if len(payments) != 1 {
		t.Errorf("Expected 1 payment, got %d", len(payments))
	}
}

func TestAPI_Errors(t *testing.T) {
	_, router := setupTestServer(t)
	loan := createLoan(t, router, flatLoanRequest())

	bad := flatLoanRequest()
	bad["number_of_installments"] = 0

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"invalid id", "GET", "/loans/not-a-uuid", nil, http.StatusBadRequest},
		{"missing loan", "GET", "/loans/7f0c5a52-8d2e-4d58-9d4b-5a4c1d3e2f10", nil, http.StatusNotFound},
		{"invalid terms", "POST", "/loans", bad, http.StatusBadRequest},
		{"missing customer", "POST", "/loans", map[string]interface{}{"principal": 1}, http.StatusBadRequest},
		{"bad date", "POST", "/schedules/preview", map[string]interface{}{"start_date": "01/02/2024"}, http.StatusBadRequest},
		{"zero amount", "POST", "/loans/" + loan.ID.String() + "/installments/1/payments", map[string]string{"amount": "0"}, http.StatusBadRequest},
		{"missing installment", "POST", "/loans/" + loan.ID.String() + "/installments/9/payments", map[string]string{"amount": "10"}, http.StatusNotFound},
		{"unknown setting", "PUT", "/settings/theme", map[string]string{"value": "dark"}, http.StatusBadRequest},
		{"malformed setting", "PUT", "/settings/grace_days", map[string]string{"value": "-1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, router, tt.method, tt.path, tt.body); rr.Code != tt.want {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAPI_PreviewDoesNotStore(t *testing.T) {
	_, router := setupTestServer(t)

	req := flatLoanRequest()
	delete(req, "customer_key")
	rr := do(t, router, "POST", "/schedules/preview", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var p ledger.Preview
	json.Unmarshal(rr.Body.Bytes(), &p)
	if len(p.Installments) != 5 || !p.Summary.Interest.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Unexpected preview: %d rows, interest %s", len(p.Installments), p.Summary.Interest)
	}

	rr = do(t, router, "GET", "/loans", nil)
	var loans []models.Loan
	json.Unmarshal(rr.Body.Bytes(), &loans)
	if len(loans) != 0 {
		t.Errorf("Expected no stored loans, got %d", len(loans))
	}
}

func TestAPI_DeleteLoan(t *testing.T) {
	_, router := setupTestServer(t)
	loan := createLoan(t, router, flatLoanRequest())

	if rr := do(t, router, "DELETE", "/loans/"+loan.ID.String(), nil); rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}
	if rr := do(t, router, "GET", "/loans/"+loan.ID.String(), nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", rr.Code)
	}
}

func TestAPI_PortfolioSummary(t *testing.T) {
	_, router := setupTestServer(t)
	paid := createLoan(t, router, flatLoanRequest())
	createLoan(t, router, flatLoanRequest())

	rr := do(t, router, "POST", "/loans/"+paid.ID.String()+"/installments/1/payments", map[string]string{"amount": "120000", "as_of": "2024-01-31"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, "GET", "/portfolio/summary?as_of=2024-01-31", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var sum models.PortfolioSummary
	json.Unmarshal(rr.Body.Bytes(), &sum)
	if sum.ActiveLoans != 2 || sum.DelinquentLoans != 0 {
		t.Errorf("Unexpected counts: %+v", sum)
	}
	if sum.PaidToday != 1 {
		t.Errorf("Expected 1 installment paid today, got %d", sum.PaidToday)
	}
	if !sum.ExpectedToday.Equal(decimal.NewFromInt(120000)) {
		t.Errorf("Expected 120000 still due today, got %s", sum.ExpectedToday)
	}
	if !sum.PortfolioValue.Equal(decimal.NewFromInt(900000)) {
		t.Errorf("Expected portfolio value 900000, got %s", sum.PortfolioValue)
	}

	rr = do(t, router, "GET", "/portfolio/summary?as_of=2024-02-01", nil)
	json.Unmarshal(rr.Body.Bytes(), &sum)
	if sum.PaidToday != 0 {
		t.Errorf("Expected nothing paid on 2024-02-01, got %d", sum.PaidToday)
	}

	rr = do(t, router, "GET", "/portfolio/delinquencies?as_of=2024-02-02", nil)
	var items []ledger.Delinquency
	json.Unmarshal(rr.Body.Bytes(), &items)
	if rr.Code != http.StatusOK || len(items) != 1 {
		t.Errorf("Expected 1 delinquency, got %d (status %d)", len(items), rr.Code)
	}
}

func TestAPI_LocalEveningOnDueDate(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	server, router := setupTestServerIn(t, bogota)
	do(t, router, "PUT", "/settings/daily_late_rate_percent", map[string]string{"value": "1"})
	loan := createLoan(t, router, flatLoanRequest())

	// 20:00 in Bogota on the first due date, already 2024-02-01 in UTC.
	server.now = func() time.Time { return time.Date(2024, time.January, 31, 20, 0, 0, 0, bogota) }

	rr := do(t, router, "GET", "/loans/"+loan.ID.String()+"/installments/1/quote", nil)
	var q settlement.Quote
	json.Unmarshal(rr.Body.Bytes(), &q)
	if rr.Code != http.StatusOK || q.DaysLate != 0 || !q.LateFee.IsZero() {
		t.Errorf("Expected no late fee on the due date, got %d days and %s (status %d)", q.DaysLate, q.LateFee, rr.Code)
	}

	rr = do(t, router, "GET", "/portfolio/delinquencies", nil)
	var items []ledger.Delinquency
	json.Unmarshal(rr.Body.Bytes(), &items)
	if len(items) != 0 {
		t.Errorf("Expected nothing delinquent on the due date, got %d", len(items))
	}

	rr = do(t, router, "POST", "/loans/"+loan.ID.String()+"/installments/1/payments", map[string]string{"amount": "120000"})
	var res settlement.Result
	json.Unmarshal(rr.Body.Bytes(), &res)
	if rr.Code != http.StatusCreated || !res.Payment.LateFeeApplied.IsZero() {
		t.Errorf("Expected settlement without late fee, got %s (status %d)", res.Payment.LateFeeApplied, rr.Code)
	}
	if !res.Payment.PaidAt.Equal(time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected payment dated 2024-01-31, got %s", res.Payment.PaidAt)
	}

	rr = do(t, router, "GET", "/portfolio/summary", nil)
	var sum models.PortfolioSummary
	json.Unmarshal(rr.Body.Bytes(), &sum)
	if sum.PaidToday != 1 {
		t.Errorf("Expected 1 installment paid today, got %d", sum.PaidToday)
	}
}
