package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (wrapped) by stores when a record does not exist
// or is not visible to the requesting user.
var ErrNotFound = errors.New("not found")

const (
	TripStatusPlanning  = "planning"
	TripStatusOngoing   = "ongoing"
	TripStatusCompleted = "completed"
	TripStatusCancelled = "cancelled"
)

type (
	Group struct {
		ID        string    `json:"_id"`
		Name      string    `json:"name"`
		Members   []string  `json:"members"`
		CreatedBy string    `json:"createdBy"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Message is either a direct message (ReceiverID set) or a group
	// message (GroupID set).
	Message struct {
		ID         string    `json:"_id"`
		SenderID   string    `json:"senderId"`
		ReceiverID string    `json:"receiverId,omitempty"`
		GroupID    string    `json:"groupId,omitempty"`
		Text       string    `json:"text,omitempty"`
		Image      string    `json:"image,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	Trip struct {
		ID             string    `json:"_id"`
		Title          string    `json:"title"`
		Description    string    `json:"description,omitempty"`
		StartDate      time.Time `json:"startDate"`
		EndDate        time.Time `json:"endDate"`
		Location       string    `json:"location"`
		Coordinates    []float64 `json:"coordinates"`
		Budget         float64   `json:"budget"`
		Status         string    `json:"status"`
		Image          string    `json:"image,omitempty"`
		Activities     []string  `json:"activities"`
		Accommodation  string    `json:"accommodation,omitempty"`
		Transportation string    `json:"transportation,omitempty"`
		UserID         string    `json:"userId"`
		Members        []string  `json:"members"`
		GroupID        string    `json:"groupId,omitempty"`
		ChatGroupID    string    `json:"chatGroupId,omitempty"`
		SharedWith     []string  `json:"sharedWith"`
		SharedGroups   []string  `json:"sharedGroups"`
		IsPublic       bool      `json:"isPublic"`
		CreatedAt      time.Time `json:"createdAt"`
		UpdatedAt      time.Time `json:"updatedAt"`
	}

	// Share is one participant's portion of an expense.
	Share struct {
		UserID string  `json:"userId"`
		Amount float64 `json:"amount"`
	}

	Expense struct {
		ID          string    `json:"_id"`
		UserID      string    `json:"user"`
		GroupID     string    `json:"groupId,omitempty"`
		TripID      string    `json:"tripId,omitempty"`
		Title       string    `json:"title"`
		Amount      float64   `json:"amount"`
		Category    string    `json:"category"`
		Description string    `json:"description,omitempty"`
		Date        time.Time `json:"date"`
		SharedWith  []Share   `json:"sharedWith"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}

	Room struct {
		ID         string
		LastActive int64
	}

	GroupStore interface {
		CreateGroup(ctx context.Context, group *Group) (string, error)
		ListGroupsForUser(ctx context.Context, userID string) ([]Group, error)
		// FindGroupForMember returns the group only if userID is one of its
		// members; otherwise ErrNotFound.
		FindGroupForMember(ctx context.Context, groupID, userID string) (*Group, error)
	}

	MessageStore interface {
		CreateMessage(ctx context.Context, message *Message) (string, error)
		ListGroupMessages(ctx context.Context, groupID string) ([]Message, error)
		ListConversation(ctx context.Context, userA, userB string) ([]Message, error)
	}

	TripStore interface {
		CreateTrip(ctx context.Context, trip *Trip) (string, error)
		GetTrip(ctx context.Context, id string) (*Trip, error)
		UpdateTrip(ctx context.Context, trip *Trip) error
		DeleteTrip(ctx context.Context, id string) error
		ListVisibleTrips(ctx context.Context, userID string, groupIDs []string) ([]Trip, error)
	}

	ExpenseStore interface {
		CreateExpense(ctx context.Context, expense *Expense) (string, error)
		GetExpense(ctx context.Context, id string) (*Expense, error)
		UpdateExpense(ctx context.Context, expense *Expense) error
		DeleteExpense(ctx context.Context, id string) error
		ListExpenses(ctx context.Context, userID string) ([]Expense, error)
		ListTripExpenses(ctx context.Context, tripID string) ([]Expense, error)
	}

	RoomRegistry interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}
)

// VisibleTo reports whether userID may read the trip: owner, member,
// explicitly shared user, member of a shared group, or public.
func (t *Trip) VisibleTo(userID string, groupIDs []string) bool {
	if t.IsPublic || t.UserID == userID {
		return true
	}
	if contains(t.Members, userID) || contains(t.SharedWith, userID) {
		return true
	}
	for _, g := range groupIDs {
		if contains(t.SharedGroups, g) {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the known trip statuses.
func ValidStatus(s string) bool {
	switch s {
	case TripStatusPlanning, TripStatusOngoing, TripStatusCompleted, TripStatusCancelled:
		return true
	}
	return false
}

func (g *Group) HasMember(userID string) bool {
	return contains(g.Members, userID)
}

// AddToSet appends the values from add that are not already present in set.
func AddToSet(set []string, add ...string) []string {
	for _, v := range add {
		if v != "" && !contains(set, v) {
			set = append(set, v)
		}
	}
	return set
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
