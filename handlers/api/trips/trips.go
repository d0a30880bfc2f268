package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	// TripRequest is used for create and partial update. Nil fields are
	// left untouched on update.
	TripRequest struct {
		Title          *string    `json:"title"`
		Description    *string    `json:"description"`
		StartDate      *time.Time `json:"startDate"`
		EndDate        *time.Time `json:"endDate"`
		Location       *string    `json:"location"`
		Coordinates    []float64  `json:"coordinates"`
		Budget         *float64   `json:"budget"`
		Status         *string    `json:"status"`
		Image          *string    `json:"image"`
		Activities     []string   `json:"activities"`
		Accommodation  *string    `json:"accommodation"`
		Transportation *string    `json:"transportation"`
		Members        []string   `json:"members"`
		GroupID        *string    `json:"groupId"`
		IsPublic       *bool      `json:"isPublic"`
	}

	ShareRequest struct {
		SharedWith   []string `json:"sharedWith"`
		SharedGroups []string `json:"sharedGroups"`
		IsPublic     *bool    `json:"isPublic"`
	}

	MembersRequest struct {
		Members []string `json:"members"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}

	Store interface {
		core.TripStore
		core.GroupStore
		ListTripExpenses(ctx context.Context, tripID string) ([]core.Expense, error)
	}
)

func (req *TripRequest) apply(t *core.Trip) {
	setString(&t.Title, req.Title)
	setString(&t.Description, req.Description)
	setString(&t.Location, req.Location)
	setString(&t.Status, req.Status)
	setString(&t.Image, req.Image)
	setString(&t.Accommodation, req.Accommodation)
	setString(&t.Transportation, req.Transportation)
	setString(&t.GroupID, req.GroupID)
	if req.StartDate != nil {
		t.StartDate = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		t.EndDate = req.EndDate.UTC()
	}
	if req.Budget != nil {
		t.Budget = *req.Budget
	}
	if req.IsPublic != nil {
		t.IsPublic = *req.IsPublic
	}
	if req.Coordinates != nil {
		t.Coordinates = req.Coordinates
	}
	if req.Activities != nil {
		t.Activities = req.Activities
	}
	if req.Members != nil {
		t.Members = req.Members
	}
}

func (req *TripRequest) missingRequired() bool {
	return req.Title == nil || strings.TrimSpace(*req.Title) == "" ||
		req.Location == nil || strings.TrimSpace(*req.Location) == "" ||
		req.StartDate == nil || req.EndDate == nil || req.Budget == nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// validate returns a client-facing problem, or "" for a valid trip.
func validate(t *core.Trip) string {
	if t.EndDate.Before(t.StartDate) {
		return "End date must be after start date"
	}
	if !core.ValidStatus(t.Status) {
		return fmt.Sprintf("Invalid status %q", t.Status)
	}
	if t.Budget < 0 {
		return "Budget must not be negative"
	}
	return ""
}

// HandleCreate creates a trip owned by the caller.
func HandleCreate(store core.TripStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeCreate(w, r)
		if !ok {
			return
		}

		trip := newTrip(middleware.UserID(r.Context()), req)
		if problem := validate(trip); problem != "" {
			http.Error(w, problem, http.StatusBadRequest)
			return
		}
		createTrip(w, r, store, trip)
	}
}

// HandleCreateFromChat creates a trip for a chat group: the group becomes the
// trip's chat and its members become the trip's members.
func HandleCreateFromChat(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeCreate(w, r)
		if !ok {
			return
		}
		if req.GroupID == nil || *req.GroupID == "" {
			http.Error(w, "groupId is required", http.StatusBadRequest)
			return
		}

		userID := middleware.UserID(r.Context())
		group, err := store.FindGroupForMember(r.Context(), *req.GroupID, userID)
		if err != nil {
			writeLookupError(w, err, "Group not found or you're not a member")
			return
		}

		trip := newTrip(userID, req)
		trip.ChatGroupID = group.ID
		trip.Members = core.AddToSet(nil, group.Members...)
		if problem := validate(trip); problem != "" {
			http.Error(w, problem, http.StatusBadRequest)
			return
		}
		createTrip(w, r, store, trip)
	}
}

// HandleList lists every trip the caller can see.
func HandleList(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		groupIDs, err := groupIDsOf(r.Context(), store, userID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list groups")
			http.Error(w, "Failed to fetch trips", http.StatusInternalServerError)
			return
		}

		trips, err := store.ListVisibleTrips(r.Context(), userID, groupIDs)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list trips")
			http.Error(w, "Failed to fetch trips", http.StatusInternalServerError)
			return
		}
		if trips == nil {
			trips = []core.Trip{}
		}

		render.JSON(w, r, trips)
	}
}

func HandleGet(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trip, ok := loadVisible(w, r, store)
		if !ok {
			return
		}
		render.JSON(w, r, trip)
	}
}

// HandleListExpenses lists the expenses recorded against a visible trip.
func HandleListExpenses(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trip, ok := loadVisible(w, r, store)
		if !ok {
			return
		}

		expenses, err := store.ListTripExpenses(r.Context(), trip.ID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list trip expenses")
			http.Error(w, "Failed to fetch expenses", http.StatusInternalServerError)
			return
		}
		if expenses == nil {
			expenses = []core.Expense{}
		}

		render.JSON(w, r, expenses)
	}
}

// HandleUpdate applies the provided fields. Owner only.
func HandleUpdate(store core.TripStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trip, ok := loadOwned(w, r, store)
		if !ok {
			return
		}

		var req TripRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.apply(trip)
		if problem := validate(trip); problem != "" {
			http.Error(w, problem, http.StatusBadRequest)
			return
		}

		saveTrip(w, r, store, trip)
	}
}

func HandleDelete(store core.TripStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trip, ok := loadOwned(w, r, store)
		if !ok {
			return
		}

		if err := store.DeleteTrip(r.Context(), trip.ID); err != nil {
			writeLookupError(w, err, "Trip not found")
			return
		}

		render.JSON(w, r, MessageResponse{Message: "Trip deleted successfully"})
	}
}

// HandleShare adds users and groups to the trip's audience. Existing
// entries are kept.
func HandleShare(store core.TripStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trip, ok := loadOwned(w, r, store)
		if !ok {
			return
		}

		var req ShareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		trip.SharedWith = core.AddToSet(trip.SharedWith, req.SharedWith...)
		trip.SharedGroups = core.AddToSet(trip.SharedGroups, req.SharedGroups...)
		if req.IsPublic != nil {
			trip.IsPublic = *req.IsPublic
		}

		saveTrip(w, r, store, trip)
	}
}

// HandleUpdateMembers replaces the member list. Owner only.
func HandleUpdateMembers(store core.TripStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trip, ok := loadOwned(w, r, store)
		if !ok {
			return
		}

		var req MembersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Members == nil {
			http.Error(w, "members is required", http.StatusBadRequest)
			return
		}

		trip.Members = core.AddToSet(nil, req.Members...)
		saveTrip(w, r, store, trip)
	}
}

func decodeCreate(w http.ResponseWriter, r *http.Request) (*TripRequest, bool) {
	var req TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logrus.WithField("error", err).Error("Failed to decode request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if req.missingRequired() {
		http.Error(w, "All required fields must be provided", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func newTrip(userID string, req *TripRequest) *core.Trip {
	trip := &core.Trip{
		UserID:       userID,
		Status:       core.TripStatusPlanning,
		Coordinates:  []float64{},
		Activities:   []string{},
		Members:      []string{},
		SharedWith:   []string{},
		SharedGroups: []string{},
	}
	req.apply(trip)
	return trip
}

func createTrip(w http.ResponseWriter, r *http.Request, store core.TripStore, trip *core.Trip) {
	if _, err := store.CreateTrip(r.Context(), trip); err != nil {
		logrus.WithField("error", err).Error("Failed to create trip")
		http.Error(w, "Failed to create trip", http.StatusInternalServerError)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, trip)
}

func saveTrip(w http.ResponseWriter, r *http.Request, store core.TripStore, trip *core.Trip) {
	if err := store.UpdateTrip(r.Context(), trip); err != nil {
		writeLookupError(w, err, "Trip not found")
		return
	}
	render.JSON(w, r, trip)
}

// loadOwned answers 404 for trips the caller does not own, whether or not
// they exist.
func loadOwned(w http.ResponseWriter, r *http.Request, store core.TripStore) (*core.Trip, bool) {
	trip, err := store.GetTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLookupError(w, err, "Trip not found")
		return nil, false
	}
	if trip.UserID != middleware.UserID(r.Context()) {
		http.Error(w, "Trip not found", http.StatusNotFound)
		return nil, false
	}
	return trip, true
}

func loadVisible(w http.ResponseWriter, r *http.Request, store Store) (*core.Trip, bool) {
	userID := middleware.UserID(r.Context())
	trip, err := store.GetTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLookupError(w, err, "Trip not found")
		return nil, false
	}

	groupIDs, err := groupIDsOf(r.Context(), store, userID)
	if err != nil {
		logrus.WithField("error", err).Error("Failed to list groups")
		http.Error(w, "Failed to fetch trip", http.StatusInternalServerError)
		return nil, false
	}
	if !trip.VisibleTo(userID, groupIDs) {
		http.Error(w, "Trip not found", http.StatusNotFound)
		return nil, false
	}
	return trip, true
}

func groupIDsOf(ctx context.Context, store core.GroupStore, userID string) ([]string, error) {
	groups, err := store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func writeLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, notFound, http.StatusNotFound)
		return
	}
	logrus.WithField("error", err).Error("Trip store failure")
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
