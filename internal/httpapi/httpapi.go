package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"mandoob/backend/internal/domain"
	"mandoob/backend/internal/engine"
	"mandoob/backend/internal/metrics"
	"mandoob/backend/internal/ops"
)

// API is the presentation-layer contract over the reconciliation engine:
// read access to the working document and active ledger, the mutation entry
// points, and the derived metrics parameterized by a reference date.
type API struct {
	engine        *engine.Engine
	tokens        *TokenManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(eng *engine.Engine, tokens *TokenManager, allowedOrigin string) *API {
	return &API{
		engine:        eng,
		tokens:        tokens,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/logout", a.requireAuth(a.handleLogout))

	mux.HandleFunc("/api/v1/me", a.requireAuth(a.handleMe))
	mux.HandleFunc("/api/v1/ledger", a.requireAuth(a.handleLedger))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions))
	mux.HandleFunc("/api/v1/stock/", a.requireAuth(a.handleStock))
	mux.HandleFunc("/api/v1/fuel", a.requireAuth(a.handleFuel))
	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings))

	mux.HandleFunc("/api/v1/metrics/day", a.requireAuth(a.handleDayMetrics))
	mux.HandleFunc("/api/v1/metrics/week", a.requireAuth(a.handleWeekMetrics))
	mux.HandleFunc("/api/v1/metrics/fuel", a.requireAuth(a.handleFuelMetrics))

	mux.HandleFunc("/api/v1/sync", a.requireAuth(a.handleSync))
	mux.HandleFunc("/api/v1/sync/status", a.requireAuth(a.handleSyncStatus))
	mux.HandleFunc("/api/v1/export", a.requireAuth(a.handleExport))
	mux.HandleFunc("/api/v1/import", a.requireAuth(a.handleImport))
	mux.HandleFunc("/api/v1/theme", a.requireAuth(a.handleTheme))

	mux.HandleFunc("/api/v1/admin/users", a.requireAuth(a.handleAdminUsers))
	mux.HandleFunc("/api/v1/admin/users/", a.requireAuth(a.handleAdminUserActions))

	return a.withMiddleware(mux)
}

// requireAuth checks the bearer token and that it still names the engine's
// active session. A valid token for a dead session (restart without
// remember, forced logout after sync) is rejected.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		subject, _, err := a.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		active, ok := a.engine.ActiveProfile()
		if !ok || active.ID != subject {
			writeError(w, http.StatusUnauthorized, errors.New("session no longer active"))
			return
		}

		next(w, r)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type loginResponse struct {
	AccessToken string             `json:"access_token"`
	ExpiresAt   string             `json:"expires_at"`
	Profile     domain.UserProfile `json:"profile"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	profile, err := a.engine.Login(r.Context(), req.Username, req.Password, req.Remember)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	token, expiresAt, err := a.tokens.Issue(profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Profile:     redact(profile),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.engine.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	profile, ok := a.engine.ActiveProfile()
	if !ok {
		writeError(w, http.StatusUnauthorized, engine.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": redact(profile),
		"theme":   a.engine.Snapshot().GlobalTheme,
	})
}

func (a *API) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	ledger, ok := a.engine.ActiveLedger()
	if !ok {
		writeError(w, http.StatusUnauthorized, engine.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

type saleRequest struct {
	Type domain.SimType `json:"type"`
	Amt  float64        `json:"amt"`
	Sims int            `json:"sims"`
	Date string         `json:"date,omitempty"`
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	at := parseDateField(req.Date)
	ledger, err := a.engine.Apply(r.Context(), ops.ConfirmSale(at, req.Type, req.Amt, req.Sims))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ledger)
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/sales/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid transaction id %q", raw))
		return
	}

	ledger, err := a.engine.Apply(r.Context(), ops.DeleteTransaction(id))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

type stockRequest struct {
	Type domain.SimType `json:"type"`
	Qty  int            `json:"qty"`
	Date string         `json:"date,omitempty"`
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req stockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	at := parseDateField(req.Date)

	var transform ops.Transform
	switch strings.TrimPrefix(r.URL.Path, "/api/v1/stock/") {
	case "receive":
		transform = ops.ReceiveStock(at, req.Type, req.Qty)
	case "return":
		transform = ops.ReturnStock(at, req.Type, req.Qty)
	case "damage":
		transform = ops.TransferToDamaged(at, req.Type, req.Qty)
	case "recover":
		transform = ops.RecoverFromDamaged(at, req.Type, req.Qty)
	case "dispose":
		transform = ops.DisposeDamaged(at, req.Type, req.Qty)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown stock action"))
		return
	}

	ledger, err := a.engine.Apply(r.Context(), transform)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

type fuelRequest struct {
	Grade  domain.FuelGrade `json:"grade"`
	Amount float64          `json:"amount"`
	KM     float64          `json:"km"`
	Date   string           `json:"date,omitempty"`
}

func (a *API) handleFuel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req fuelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ledger, err := a.engine.Apply(r.Context(), ops.RecordFuel(parseDateField(req.Date), req.Grade, req.Amount, req.KM))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ledger)
}

type settingsRequest struct {
	WeeklyTarget     *float64          `json:"weeklyTarget,omitempty"`
	ShowWeeklyTarget *bool             `json:"showWeeklyTarget,omitempty"`
	PreferredFuel    *domain.FuelGrade `json:"preferredFuel,omitempty"`
	Name             *string           `json:"name,omitempty"`
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.WeeklyTarget != nil {
		if _, err := a.engine.Apply(r.Context(), ops.SetWeeklyTarget(*req.WeeklyTarget)); err != nil {
			writeOpError(w, err)
			return
		}
	}
	if req.ShowWeeklyTarget != nil {
		if _, err := a.engine.Apply(r.Context(), ops.SetShowWeeklyTarget(*req.ShowWeeklyTarget)); err != nil {
			writeOpError(w, err)
			return
		}
	}
	if req.PreferredFuel != nil {
		if _, err := a.engine.Apply(r.Context(), ops.SetPreferredFuel(*req.PreferredFuel)); err != nil {
			writeOpError(w, err)
			return
		}
	}
	if req.Name != nil {
		if err := a.engine.UpdateDisplayName(r.Context(), *req.Name); err != nil {
			writeOpError(w, err)
			return
		}
	}

	ledger, ok := a.engine.ActiveLedger()
	if !ok {
		writeError(w, http.StatusUnauthorized, engine.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (a *API) handleDayMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	ledger, ok := a.engine.ActiveLedger()
	if !ok {
		writeError(w, http.StatusUnauthorized, engine.ErrNoSession)
		return
	}

	ref := parseDateQuery(r)
	day := metrics.DayTransactions(ledger, ref)
	writeJSON(w, http.StatusOK, map[string]any{
		"date":         ref.Format("2006-01-02"),
		"transactions": day,
		"count":        len(day),
		"total":        metrics.DayTotal(ledger, ref),
	})
}

func (a *API) handleWeekMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	ledger, ok := a.engine.ActiveLedger()
	if !ok {
		writeError(w, http.StatusUnauthorized, engine.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, metrics.WeeklyTarget(ledger, parseDateQuery(r)))
}

func (a *API) handleFuelMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	ledger, ok := a.engine.ActiveLedger()
	if !ok {
		writeError(w, http.StatusUnauthorized, engine.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, metrics.Fuel(ledger, parseDateQuery(r)))
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	err := a.engine.Sync(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"synced": true})
	case errors.Is(err, engine.ErrInvalidDocument):
		writeError(w, http.StatusBadGateway, err)
	default:
		// Network failure degrades silently to offline mode.
		log.Printf("[httpapi] sync: %v", err)
		writeJSON(w, http.StatusOK, map[string]any{"synced": false, "offline": true})
	}
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncing": a.engine.Syncing()})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	payload, err := a.engine.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=mandoob-backup-%s.json", time.Now().UTC().Format("2006-01-02")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.engine.Import(r.Context(), body); err != nil {
		if errors.Is(err, engine.ErrInvalidDocument) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type themeRequest struct {
	Theme domain.Theme `json:"theme"`
}

func (a *API) handleTheme(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	var req themeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.engine.SetTheme(r.Context(), req.Theme); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"theme": req.Theme})
}

type userCreateRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Name     string      `json:"name"`
	Role     domain.Role `json:"role"`
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		active, ok := a.engine.ActiveProfile()
		if !ok || active.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, engine.ErrForbidden)
			return
		}
		doc := a.engine.Snapshot()
		users := make([]domain.UserProfile, 0, len(doc.Users))
		for _, u := range doc.Users {
			users = append(users, redact(u))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var req userCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		profile, err := a.engine.CreateProfile(r.Context(), req.Username, req.Password, req.Name, req.Role)
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, redact(profile))
	default:
		writeMethodNotAllowed(w)
	}
}

type passwordResetRequest struct {
	Password string `json:"password"`
}

func (a *API) handleAdminUserActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/admin/users/")
	userID, action, found := strings.Cut(rest, "/")
	if !found || action != "password" || userID == "" {
		writeError(w, http.StatusNotFound, errors.New("unknown admin action"))
		return
	}

	var req passwordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.engine.ResetPassword(r.Context(), userID, req.Password); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

// redact blanks the plaintext password before a profile leaves the API.
func redact(u domain.UserProfile) domain.UserProfile {
	u.Password = ""
	return u
}

// parseDateQuery reads the reference date from the `date` query parameter,
// defaulting to now.
func parseDateQuery(r *http.Request) time.Time {
	return parseDateField(r.URL.Query().Get("date"))
}

func parseDateField(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, time.Local); err == nil {
		return t
	}
	return time.Now()
}

func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoSession):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, engine.ErrUserExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrUserNotFound), errors.Is(err, ops.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ops.ErrInsufficientStock), errors.Is(err, ops.ErrInsufficientDamaged):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ops.ErrUnknownSimType), errors.Is(err, ops.ErrUnknownFuelGrade),
		errors.Is(err, ops.ErrInvalidQuantity), errors.Is(err, ops.ErrInvalidAmount),
		errors.Is(err, ops.ErrInvalidUnits), errors.Is(err, ops.ErrInvalidTarget):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		// Local storage write failures land here: the mutation did not
		// become durable and the caller must know.
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
