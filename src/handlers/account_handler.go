package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/models"
	"github.com/username/ledgerlens/src/services"
	"github.com/username/ledgerlens/src/utils"
)

type AccountHandler struct {
	statementService *services.StatementService
}

func NewAccountHandler(service *services.StatementService) *AccountHandler {
	return &AccountHandler{
		statementService: service,
	}
}

// HandleListAccounts returns all of a user's ledger accounts.
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity required", http.StatusUnauthorized)
		return
	}

	accounts, err := h.statementService.ListAccounts(r.Context(), userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list accounts", "error", err)
		utils.SendJSONError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	utils.SendJSONResponse(w, http.StatusOK, accounts)
}

// HandleGetHoldings returns current holdings for one account.
func (h *AccountHandler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity required", http.StatusUnauthorized)
		return
	}

	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	holdings, err := h.statementService.GetHoldings(r.Context(), userID, accountID)
	if errors.Is(err, services.ErrAccountNotFound) {
		utils.SendJSONError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load holdings", "accountID", accountID, "error", err)
		utils.SendJSONError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []models.Holding{}
	}
	utils.SendJSONResponse(w, http.StatusOK, holdings)
}

// HandleLatestReport returns the most recent pipeline result for the user.
func (h *AccountHandler) HandleLatestReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity required", http.StatusUnauthorized)
		return
	}

	result, found := h.statementService.LatestReport(userID)
	if !found {
		utils.SendJSONError(w, "no recent report available", http.StatusNotFound)
		return
	}
	utils.SendJSONResponse(w, http.StatusOK, result)
}
