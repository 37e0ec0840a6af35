package server

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apogeefi/lendcore/internal/pool"
)

type fakeEngine struct {
	supplyFn func(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error)
	borrowFn func(caller, user, asset string, amount *big.Int, now int64) error
	healthFn func(user string, now int64) (*big.Int, error)
}

func (f *fakeEngine) Supply(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
	if f.supplyFn != nil {
		return f.supplyFn(caller, user, asset, amount, now)
	}
	return big.NewInt(0), nil
}
func (f *fakeEngine) Withdraw(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) DepositCollateral(caller, user, asset string, amount *big.Int, now int64) error {
	return nil
}
func (f *fakeEngine) WithdrawCollateral(caller, user, asset string, amount *big.Int, now int64) error {
	return nil
}
func (f *fakeEngine) Borrow(caller, user, asset string, amount *big.Int, now int64) error {
	if f.borrowFn != nil {
		return f.borrowFn(caller, user, asset, amount, now)
	}
	return nil
}
func (f *fakeEngine) Repay(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) Liquidate(liquidator, borrower, repayAsset string, repayAmount *big.Int, collateralAsset string, now int64) (*big.Int, *big.Int, error) {
	return big.NewInt(0), big.NewInt(0), nil
}
func (f *fakeEngine) HealthFactor(user string, now int64) (*big.Int, error) {
	if f.healthFn != nil {
		return f.healthFn(user, now)
	}
	return big.NewInt(0), nil
}
func (f *fakeEngine) GetUserCollateral(user, asset string) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeEngine) GetUserDebt(user, asset string, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) GetUserShares(user, asset string) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeEngine) GetTotalSupply(asset string, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) GetTotalBorrow(asset string, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) GetUtilizationRate(asset string, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) GetBorrowRate(asset string, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) GetSupplyRate(asset string, now int64) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEngine) Config() pool.Config { return pool.Config{Admin: "admin"} }

func newTestService(t *testing.T, engine *fakeEngine) (http.Handler, string) {
	t.Helper()
	svc := New(engine, nil, AuthConfig{SigningKey: "secret", APITokens: []string{"svc-token"}}, 0,
		WithClock(func() int64 { return 1_700_000_000 }))
	return svc.Router(prometheus.NewRegistry()), "svc-token"
}

func TestHealthzRequiresNoAuth(t *testing.T) {
	router, _ := newTestService(t, &fakeEngine{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSupplyRequiresAuth(t *testing.T) {
	router, _ := newTestService(t, &fakeEngine{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/supply", bytes.NewBufferString(`{}`))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSupplyReturnsSharesMinted(t *testing.T) {
	engine := &fakeEngine{
		supplyFn: func(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
			return big.NewInt(999), nil
		},
	}
	router, token := newTestService(t, engine)
	body, _ := json.Marshal(amountRequest{User: "alice", Asset: "USDX", Amount: "1000"})
	req := httptest.NewRequest(http.MethodPost, "/v1/supply", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["shares_minted"] != "999" {
		t.Fatalf("shares_minted = %q, want 999", resp["shares_minted"])
	}
}

func TestSupplyUsesAuthenticatedCallerNotRequestBody(t *testing.T) {
	var gotCaller string
	engine := &fakeEngine{
		supplyFn: func(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
			gotCaller = caller
			return big.NewInt(0), nil
		},
	}
	router, token := newTestService(t, engine)
	// The request body tries to impersonate "alice"; the authenticated
	// caller is the svc-token identity and must win regardless.
	body, _ := json.Marshal(struct {
		Caller string `json:"caller"`
		User   string `json:"user"`
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}{Caller: "alice", User: "alice", Asset: "USDX", Amount: "1000"})
	req := httptest.NewRequest(http.MethodPost, "/v1/supply", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if gotCaller != token {
		t.Fatalf("caller = %q, want the authenticated token identity %q, not the request body's claimed caller", gotCaller, token)
	}
}

func TestBorrowTranslatesPoolErrorToStatus(t *testing.T) {
	engine := &fakeEngine{
		borrowFn: func(caller, user, asset string, amount *big.Int, now int64) error {
			return pool.ErrLTVExceeded
		},
	}
	router, token := newTestService(t, engine)
	body, _ := json.Marshal(amountRequest{User: "bob", Asset: "USDX", Amount: "500"})
	req := httptest.NewRequest(http.MethodPost, "/v1/borrow", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var resp errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "ltv_exceeded" {
		t.Fatalf("code = %q, want ltv_exceeded", resp.Code)
	}
}

func TestSupplyRejectsMalformedAmount(t *testing.T) {
	router, token := newTestService(t, &fakeEngine{})
	body, _ := json.Marshal(amountRequest{User: "alice", Asset: "USDX", Amount: "not-a-number"})
	req := httptest.NewRequest(http.MethodPost, "/v1/supply", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	router, _ := newTestService(t, &fakeEngine{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("lendcore_api_requests_total")) {
		t.Fatalf("expected metrics output to contain lendcore_api_requests_total, got %q", rec.Body.String())
	}
}
