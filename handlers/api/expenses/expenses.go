package expenses

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"triphub-server/core"
	"triphub-server/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	ExpenseRequest struct {
		Title       string    `json:"title"`
		Amount      float64   `json:"amount"`
		Category    string    `json:"category"`
		Date        time.Time `json:"date"`
		Description string    `json:"description"`
		GroupID     string    `json:"groupId"`
		TripID      string    `json:"tripId"`
	}

	SplitRequest struct {
		SharedWith []core.Share `json:"sharedWith"`
	}

	ExpenseResponse struct {
		Message string        `json:"message"`
		Expense *core.Expense `json:"expense,omitempty"`
	}
)

// HandleCreate records an expense paid by the caller.
func HandleCreate(store core.ExpenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExpenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Title) == "" || req.Amount <= 0 || req.Category == "" || req.Date.IsZero() {
			http.Error(w, "All fields are required", http.StatusBadRequest)
			return
		}

		expense := &core.Expense{
			UserID:      middleware.UserID(r.Context()),
			GroupID:     req.GroupID,
			TripID:      req.TripID,
			Title:       req.Title,
			Amount:      req.Amount,
			Category:    req.Category,
			Description: req.Description,
			Date:        req.Date.UTC(),
			SharedWith:  []core.Share{},
		}
		if _, err := store.CreateExpense(r.Context(), expense); err != nil {
			logrus.WithField("error", err).Error("Failed to create expense")
			http.Error(w, "Failed to create expense", http.StatusInternalServerError)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, ExpenseResponse{Message: "Expense created successfully", Expense: expense})
	}
}

// HandleList lists the caller's expenses, newest first.
func HandleList(store core.ExpenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expenses, err := store.ListExpenses(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list expenses")
			http.Error(w, "Failed to list expenses", http.StatusInternalServerError)
			return
		}
		if expenses == nil {
			expenses = []core.Expense{}
		}

		render.JSON(w, r, expenses)
	}
}

func HandleGet(store core.ExpenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expense, ok := loadOwned(w, r, store)
		if !ok {
			return
		}
		render.JSON(w, r, expense)
	}
}

// HandleUpdate applies the non-empty fields of the request.
func HandleUpdate(store core.ExpenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expense, ok := loadOwned(w, r, store)
		if !ok {
			return
		}

		var req ExpenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Amount < 0 {
			http.Error(w, "Amount must be positive", http.StatusBadRequest)
			return
		}

		if req.Title != "" {
			expense.Title = req.Title
		}
		if req.Amount > 0 {
			expense.Amount = req.Amount
		}
		if req.Category != "" {
			expense.Category = req.Category
		}
		if !req.Date.IsZero() {
			expense.Date = req.Date.UTC()
		}
		if req.Description != "" {
			expense.Description = req.Description
		}
		if err := core.ValidateSplit(expense.Amount, expense.SharedWith); err != nil {
			http.Error(w, "Amount is smaller than the current split", http.StatusBadRequest)
			return
		}

		if !save(w, r, store, expense) {
			return
		}
		render.JSON(w, r, ExpenseResponse{Message: "Expense updated successfully", Expense: expense})
	}
}

// HandleSplit replaces how the expense is divided between participants.
func HandleSplit(store core.ExpenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expense, ok := loadOwned(w, r, store)
		if !ok {
			return
		}

		var req SplitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := core.ValidateSplit(expense.Amount, req.SharedWith); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		expense.SharedWith = req.SharedWith
		if expense.SharedWith == nil {
			expense.SharedWith = []core.Share{}
		}
		if !save(w, r, store, expense) {
			return
		}
		render.JSON(w, r, ExpenseResponse{Message: "Expense split successfully", Expense: expense})
	}
}

func HandleDelete(store core.ExpenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expense, ok := loadOwned(w, r, store)
		if !ok {
			return
		}

		if err := store.DeleteExpense(r.Context(), expense.ID); err != nil {
			writeLookupError(w, err)
			return
		}

		render.JSON(w, r, ExpenseResponse{Message: "Expense deleted successfully"})
	}
}

// loadOwned answers 404 for expenses the caller did not record.
func loadOwned(w http.ResponseWriter, r *http.Request, store core.ExpenseStore) (*core.Expense, bool) {
	expense, err := store.GetExpense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLookupError(w, err)
		return nil, false
	}
	if expense.UserID != middleware.UserID(r.Context()) {
		http.Error(w, "Expense not found", http.StatusNotFound)
		return nil, false
	}
	return expense, true
}

func save(w http.ResponseWriter, r *http.Request, store core.ExpenseStore, expense *core.Expense) bool {
	if err := store.UpdateExpense(r.Context(), expense); err != nil {
		writeLookupError(w, err)
		return false
	}
	return true
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "Expense not found", http.StatusNotFound)
		return
	}
	logrus.WithField("error", err).Error("Expense store failure")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
