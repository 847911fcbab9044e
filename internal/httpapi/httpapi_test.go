package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mandoob/backend/internal/domain"
	"mandoob/backend/internal/engine"
	"mandoob/backend/internal/kv/mem"
	"mandoob/backend/internal/storage"
)

func newTestAPI(t *testing.T) (*engine.Engine, http.Handler) {
	t.Helper()
	eng := engine.New(storage.NewLocal(mem.New()), nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	api := New(eng, NewTokenManager("unit-test-secret-0123456789abcdef", time.Hour), "http://127.0.0.1:3000")
	return eng, api.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, handler http.Handler, username, password string) (string, loginResponse) {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken, resp
}

func TestHealth(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestLoginRedactsPassword(t *testing.T) {
	_, handler := newTestAPI(t)
	token, resp := loginAs(t, handler, "talal", "00966")
	if token == "" {
		t.Fatalf("no access token issued")
	}
	if resp.Profile.Password != "" {
		t.Fatalf("password must never leave the API")
	}
	if resp.Profile.ID != "talal-admin" {
		t.Fatalf("unexpected profile %+v", resp.Profile)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"username": "talal",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	_, handler := newTestAPI(t)

	// httptest requests all carry the same client address.
	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"username": "talal",
			"password": "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: want 401, got %d", i+1, rec.Code)
		}
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"username": "talal",
		"password": "wrong",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429 after limit, got %d", rec.Code)
	}
}

func TestRequireAuthMissingToken(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/ledger", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
}

func TestRequireAuthDeadSession(t *testing.T) {
	eng, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	if err := eng.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	// The token is still cryptographically valid, but its session is gone.
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("dead session must be rejected, got %d", rec.Code)
	}
}

func TestSaleFlow(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", token, map[string]any{
		"type": "jawwy", "qty": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("receive: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"type": "jawwy", "amt": 30, "sims": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale: status %d body %s", rec.Code, rec.Body.String())
	}
	var ledger domain.Ledger
	if err := json.Unmarshal(rec.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if ledger.Stock[domain.SimJawwy] != 4 {
		t.Fatalf("stock after sale: want 4, got %d", ledger.Stock[domain.SimJawwy])
	}
	if len(ledger.Tx) != 1 {
		t.Fatalf("want one transaction, got %d", len(ledger.Tx))
	}

	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/v1/sales/%d", ledger.Tx[0].ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete sale: status %d body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if ledger.Stock[domain.SimJawwy] != 5 || len(ledger.Tx) != 0 {
		t.Fatalf("delete must restore stock, got stock=%d tx=%d", ledger.Stock[domain.SimJawwy], len(ledger.Tx))
	}
}

func TestSaleInsufficientStockConflict(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"type": "sawa", "amt": 28, "sims": 2,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownStockAction(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/steal", token, map[string]any{
		"type": "jawwy", "qty": 1,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestDeleteUnknownSale(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/sales/123456", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/sales/not-a-number", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestFuelEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/fuel", token, map[string]any{
		"grade": "91", "amount": 100, "km": 250,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("fuel: status %d body %s", rec.Code, rec.Body.String())
	}
	var ledger domain.Ledger
	if err := json.Unmarshal(rec.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if len(ledger.FuelLog) != 1 {
		t.Fatalf("want one fuel row, got %d", len(ledger.FuelLog))
	}
	liters := ledger.FuelLog[0].Liters
	if liters < 45.8 || liters > 45.9 {
		t.Fatalf("liters must be derived from the 91 price, got %v", liters)
	}
}

func TestSettingsPatch(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/settings", token, map[string]any{
		"weeklyTarget": 5000, "preferredFuel": "95",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("settings: status %d body %s", rec.Code, rec.Body.String())
	}
	var ledger domain.Ledger
	if err := json.Unmarshal(rec.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if ledger.Settings.WeeklyTarget != 5000 || ledger.Settings.PreferredFuel != domain.Fuel95 {
		t.Fatalf("settings not applied: %+v", ledger.Settings)
	}
}

func TestWeekMetricsEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	// Seed a sale on the queried date.
	doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", token, map[string]any{"type": "jawwy", "qty": 1})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"type": "jawwy", "amt": 30, "sims": 1, "date": "2025-06-11",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale: status %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/metrics/week?date=2025-06-11", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	var progress struct {
		WeekSales float64 `json:"weekSales"`
		Target    float64 `json:"target"`
		Percent   float64 `json:"percent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.WeekSales != 30 || progress.Target != domain.DefaultWeeklyTarget {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if progress.Percent != 1 {
		t.Fatalf("30/3000 must round to 1 percent, got %v", progress.Percent)
	}
}

func TestThemePatch(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/theme", token, map[string]any{"theme": "dark"})
	if rec.Code != http.StatusOK {
		t.Fatalf("theme: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/theme", token, map[string]any{"theme": "sepia"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown theme: want 400, got %d", rec.Code)
	}
}

func TestSyncWithoutRemoteReportsOffline(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sync", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: status %d", rec.Code)
	}
	var resp struct {
		Synced  bool `json:"synced"`
		Offline bool `json:"offline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Synced || !resp.Offline {
		t.Fatalf("want offline degradation, got %+v", resp)
	}
}

func TestExportAttachesBackupFile(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/export", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d", rec.Code)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "mandoob-backup-") {
		t.Fatalf("missing attachment disposition, got %q", disposition)
	}
	var doc domain.SystemDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("export body undecodable: %v", err)
	}
	if len(doc.Users) != 1 {
		t.Fatalf("export must carry the whole document")
	}
}

func TestImportInvalidDocument(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import", strings.NewReader(`{"users":[],"globalTheme":"light"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d", rec.Code)
	}
}

func TestAdminUsersRequiresAdminRole(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/admin/users", token, map[string]any{
		"username": "fahad", "password": "secret", "name": "فهد", "role": "user",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", rec.Code, rec.Body.String())
	}
	var created domain.UserProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created profile: %v", err)
	}
	if created.Password != "" {
		t.Fatalf("created profile must be redacted")
	}

	// Duplicate username.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/admin/users", token, map[string]any{
		"username": "fahad", "password": "again", "name": "", "role": "user",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: want 409, got %d", rec.Code)
	}

	// The non-admin account cannot list or create.
	userToken, _ := loginAs(t, handler, "fahad", "secret")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/admin/users", userToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("list as user: want 403, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/admin/users", userToken, map[string]any{
		"username": "third", "password": "pw", "name": "", "role": "user",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("create as user: want 403, got %d", rec.Code)
	}
}

func TestPasswordResetEndpoint(t *testing.T) {
	eng, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/admin/users/talal-admin/password", token, map[string]any{
		"password": "11022",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d body %s", rec.Code, rec.Body.String())
	}
	if _, err := eng.Login(context.Background(), "talal", "11022", false); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/admin/users/ghost/password", token, map[string]any{
		"password": "x",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown profile: want 404, got %d", rec.Code)
	}
}

func TestPreflightAndSecurityHeaders(t *testing.T) {
	_, handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ledger", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: want 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:3000" {
		t.Fatalf("allow-origin: %q", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, handler := newTestAPI(t)
	token, _ := loginAs(t, handler, "talal", "00966")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}
