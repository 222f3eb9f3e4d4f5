package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/services"
	"github.com/ruralpay/agentdesk/internal/session"
)

const maxBodyBytes = 1_048_576

// RetryAfterSeconds is advertised when the dashboard session could not be renewed in time.
const RetryAfterSeconds = 30

type Accounts interface {
	CreateAccount(ctx context.Context, req services.CreateAccountRequest) (*models.PlayerAccount, error)
	GetAccount(ctx context.Context, userID int64) (*models.PlayerAccount, error)
}

type Ledger interface {
	Deposit(ctx context.Context, userID, playerID, amount int64) (*services.Result, error)
	Withdraw(ctx context.Context, userID, playerID, amount int64) (*services.Result, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error)
}

type SessionStatus interface {
	State() session.State
	Current() *models.Session
}

// AgentHandler exposes account provisioning, money movement and session
// status to the chat front end.
type AgentHandler struct {
	accounts  Accounts
	ledger    Ledger
	sessions  SessionStatus
	validator *services.ValidationHelper
}

func NewAgentHandler(accounts Accounts, ledger Ledger, sessions SessionStatus) *AgentHandler {
	return &AgentHandler{
		accounts:  accounts,
		ledger:    ledger,
		sessions:  sessions,
		validator: services.NewValidationHelper(),
	}
}

// Routes mounts the handler on r.
func (h *AgentHandler) Routes(r chi.Router) {
	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts/{telegramId}", h.GetAccount)
	r.Post("/deposits", h.Deposit)
	r.Post("/withdrawals", h.Withdraw)
	r.Get("/users/{telegramId}/ledger", h.GetLedger)
	r.Get("/session", h.GetSession)
}

type moneyRequest struct {
	UserID   int64  `json:"telegramId" validate:"required,gt=0"`
	PlayerID int64  `json:"playerId" validate:"required,gt=0"`
	Amount   string `json:"amount" validate:"required"`
}

type moneyResponse struct {
	EntryID string `json:"entryId"`
	Status  string `json:"status"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
	Message string `json:"message,omitempty"`
}

type accountResponse struct {
	PlayerID  int64     `json:"playerId"`
	Login     string    `json:"login"`
	Password  string    `json:"password"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type ledgerResponse struct {
	TelegramID int64                `json:"telegramId"`
	Balance    string               `json:"balance"`
	Entries    []models.LedgerEntry `json:"entries"`
}

type sessionResponse struct {
	State     string     `json:"state"`
	SessionID string     `json:"sessionId,omitempty"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CreateAccount provisions a dashboard player for a chat user.
// POST /api/v1/accounts {telegramId, login, password}
func (h *AgentHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req services.CreateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// GetAccount returns the user's player credentials.
// GET /api/v1/accounts/{telegramId}
func (h *AgentHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := telegramIDParam(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// Deposit moves money from the user's balance to their player.
// POST /api/v1/deposits {telegramId, playerId, amount}
func (h *AgentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moveMoney(w, r, h.ledger.Deposit)
}

// Withdraw moves money from the user's player to their balance.
// POST /api/v1/withdrawals {telegramId, playerId, amount}
func (h *AgentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveMoney(w, r, h.ledger.Withdraw)
}

func (h *AgentHandler) moveMoney(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, playerID, amount int64) (*services.Result, error)) {
	var req moneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := models.ParseMinor(req.Amount)
	if err != nil {
		writeError(w, models.NewOpError(models.ErrInvalidAmount, "amount", "amount must be a decimal number such as 12.50", err), "")
		return
	}

	result, err := op(r.Context(), req.UserID, req.PlayerID, amount)
	if err != nil {
		entryID := ""
		if result != nil && result.Entry != nil {
			entryID = result.Entry.ID
		}
		writeError(w, err, entryID)
		return
	}

	writeJSON(w, http.StatusOK, moneyResponse{
		EntryID: result.Entry.ID,
		Status:  string(result.Entry.Status),
		Amount:  models.FormatMinor(result.Entry.Amount),
		Balance: models.FormatMinor(result.Balance),
		Message: result.Message,
	})
}

// GetLedger returns the user's balance and recent ledger entries.
// GET /api/v1/users/{telegramId}/ledger?limit=20
func (h *AgentHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := telegramIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, err, "")
		return
	}
	entries, err := h.ledger.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err, "")
		return
	}

	writeJSON(w, http.StatusOK, ledgerResponse{
		TelegramID: userID,
		Balance:    models.FormatMinor(balance),
		Entries:    entries,
	})
}

// GetSession reports the dashboard session state. Cookies are never exposed.
// GET /api/v1/session
func (h *AgentHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{State: h.sessions.State().String()}
	if sess := h.sessions.Current(); sess != nil {
		issued, expires := sess.IssuedAt, sess.ExpiresAt
		resp.SessionID = sess.ID
		resp.IssuedAt = &issued
		resp.ExpiresAt = &expires
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorMapping struct {
	status int
	code   string
}

var errorStatus = map[error]errorMapping{
	models.ErrInvalidAmount:           {http.StatusBadRequest, "invalid_amount"},
	models.ErrInsufficientLocalFunds:  {http.StatusPaymentRequired, "insufficient_local_funds"},
	models.ErrInsufficientRemoteFunds: {http.StatusPaymentRequired, "insufficient_remote_funds"},
	models.ErrNameUnavailable:         {http.StatusConflict, "login_unavailable"},
	models.ErrDomainRejection:         {http.StatusUnprocessableEntity, "rejected"},
	models.ErrIndeterminate:           {http.StatusAccepted, "indeterminate"},
	models.ErrRenewalTimeout:          {http.StatusServiceUnavailable, "session_unavailable"},
	models.ErrAuthFailure:             {http.StatusBadGateway, "auth_failure"},
	models.ErrSessionInvalid:          {http.StatusBadGateway, "session_invalid"},
	models.ErrTransport:               {http.StatusGatewayTimeout, "transport"},
	models.ErrProvisioningIncomplete:  {http.StatusAccepted, "provisioning_incomplete"},
	models.ErrNotFound:                {http.StatusNotFound, "not_found"},
}

// writeError maps a service error onto a status and a structured body.
func writeError(w http.ResponseWriter, err error, entryID string) {
	if services.IsValidationError(err) {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	kind := models.KindOf(err)
	mapping, ok := errorStatus[kind]
	if !ok {
		log.Printf("[HTTP] Unhandled error: %v", err)
		services.SendError(w, http.StatusInternalServerError, services.ErrorResponse{Error: "internal error", Code: "internal"}, nil)
		return
	}

	resp := services.ErrorResponse{
		Error:   models.MessageOf(err),
		Code:    mapping.code,
		EntryID: entryID,
	}
	switch {
	case errors.Is(kind, models.ErrIndeterminate):
		resp.Reconciliation = true
	case errors.Is(kind, models.ErrRenewalTimeout):
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	if mapping.status >= http.StatusInternalServerError {
		log.Printf("[HTTP] %s: %v", mapping.code, err)
	}
	services.SendError(w, mapping.status, resp, nil)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func telegramIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "telegramId"), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid telegram id", http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func toAccountResponse(a *models.PlayerAccount) accountResponse {
	return accountResponse{
		PlayerID:  a.RemotePlayerID,
		Login:     a.Login,
		Password:  a.Password,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
