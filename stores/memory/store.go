package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"triphub-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type store struct {
	mu       sync.RWMutex
	groups   map[string]core.Group
	messages []core.Message
	trips    map[string]core.Trip
	expenses map[string]core.Expense
	rooms    map[string]int64
}

// NewStore returns a process-local store. Nothing survives a restart.
func NewStore() *store {
	return &store{
		groups:   make(map[string]core.Group),
		trips:    make(map[string]core.Trip),
		expenses: make(map[string]core.Expense),
		rooms:    make(map[string]int64),
	}
}

func (s *store) Close() error { return nil }

// Groups

func (s *store) CreateGroup(ctx context.Context, group *core.Group) (string, error) {
	now := time.Now().UTC()
	group.ID = ulid.Make().String()
	group.CreatedAt = now
	group.UpdatedAt = now

	s.mu.Lock()
	s.groups[group.ID] = cloneGroup(*group)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"group_id": group.ID,
		"members":  len(group.Members),
	}).Info("Group created successfully")
	return group.ID, nil
}

func (s *store) ListGroupsForUser(ctx context.Context, userID string) ([]core.Group, error) {
	s.mu.RLock()
	groups := make([]core.Group, 0)
	for _, g := range s.groups {
		if g.HasMember(userID) {
			groups = append(groups, cloneGroup(g))
		}
	}
	s.mu.RUnlock()

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].UpdatedAt.Equal(groups[j].UpdatedAt) {
			return groups[i].ID > groups[j].ID
		}
		return groups[i].UpdatedAt.After(groups[j].UpdatedAt)
	})
	return groups, nil
}

func (s *store) FindGroupForMember(ctx context.Context, groupID, userID string) (*core.Group, error) {
	s.mu.RLock()
	g, ok := s.groups[groupID]
	s.mu.RUnlock()

	if !ok || !g.HasMember(userID) {
		return nil, fmt.Errorf("group %s for member %s: %w", groupID, userID, core.ErrNotFound)
	}
	g = cloneGroup(g)
	return &g, nil
}

// Messages

func (s *store) CreateMessage(ctx context.Context, message *core.Message) (string, error) {
	message.ID = ulid.Make().String()
	message.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.messages = append(s.messages, *message)
	if message.GroupID != "" {
		if g, ok := s.groups[message.GroupID]; ok {
			g.UpdatedAt = message.CreatedAt
			s.groups[g.ID] = g
		}
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"message_id": message.ID,
		"group_id":   message.GroupID,
	}).Debug("Message stored")
	return message.ID, nil
}

func (s *store) ListGroupMessages(ctx context.Context, groupID string) ([]core.Message, error) {
	return s.filterMessages(func(m core.Message) bool { return m.GroupID == groupID }), nil
}

func (s *store) ListConversation(ctx context.Context, userA, userB string) ([]core.Message, error) {
	return s.filterMessages(func(m core.Message) bool {
		if m.GroupID != "" {
			return false
		}
		return (m.SenderID == userA && m.ReceiverID == userB) ||
			(m.SenderID == userB && m.ReceiverID == userA)
	}), nil
}

// filterMessages keeps insertion order, which is creation order.
func (s *store) filterMessages(keep func(core.Message) bool) []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Trips

func (s *store) CreateTrip(ctx context.Context, trip *core.Trip) (string, error) {
	now := time.Now().UTC()
	trip.ID = ulid.Make().String()
	trip.CreatedAt = now
	trip.UpdatedAt = now

	s.mu.Lock()
	s.trips[trip.ID] = cloneTrip(*trip)
	s.mu.Unlock()

	logrus.WithField("trip_id", trip.ID).Info("Trip created successfully")
	return trip.ID, nil
}

func (s *store) GetTrip(ctx context.Context, id string) (*core.Trip, error) {
	s.mu.RLock()
	t, ok := s.trips[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("trip with id %s: %w", id, core.ErrNotFound)
	}
	t = cloneTrip(t)
	return &t, nil
}

func (s *store) UpdateTrip(ctx context.Context, trip *core.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[trip.ID]; !ok {
		return fmt.Errorf("trip with id %s: %w", trip.ID, core.ErrNotFound)
	}
	trip.UpdatedAt = time.Now().UTC()
	s.trips[trip.ID] = cloneTrip(*trip)
	return nil
}

func (s *store) DeleteTrip(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[id]; !ok {
		return fmt.Errorf("trip with id %s: %w", id, core.ErrNotFound)
	}
	delete(s.trips, id)
	return nil
}

func (s *store) ListVisibleTrips(ctx context.Context, userID string, groupIDs []string) ([]core.Trip, error) {
	s.mu.RLock()
	trips := make([]core.Trip, 0)
	for _, t := range s.trips {
		if t.VisibleTo(userID, groupIDs) {
			trips = append(trips, cloneTrip(t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(trips, func(i, j int) bool {
		if trips[i].StartDate.Equal(trips[j].StartDate) {
			return trips[i].ID < trips[j].ID
		}
		return trips[i].StartDate.Before(trips[j].StartDate)
	})
	return trips, nil
}

// Expenses

func (s *store) CreateExpense(ctx context.Context, expense *core.Expense) (string, error) {
	now := time.Now().UTC()
	expense.ID = ulid.Make().String()
	expense.CreatedAt = now
	expense.UpdatedAt = now

	s.mu.Lock()
	s.expenses[expense.ID] = cloneExpense(*expense)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"expense_id": expense.ID,
		"amount":     expense.Amount,
	}).Info("Expense created successfully")
	return expense.ID, nil
}

func (s *store) GetExpense(ctx context.Context, id string) (*core.Expense, error) {
	s.mu.RLock()
	e, ok := s.expenses[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("expense with id %s: %w", id, core.ErrNotFound)
	}
	e = cloneExpense(e)
	return &e, nil
}

func (s *store) UpdateExpense(ctx context.Context, expense *core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[expense.ID]; !ok {
		return fmt.Errorf("expense with id %s: %w", expense.ID, core.ErrNotFound)
	}
	expense.UpdatedAt = time.Now().UTC()
	s.expenses[expense.ID] = cloneExpense(*expense)
	return nil
}

func (s *store) DeleteExpense(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[id]; !ok {
		return fmt.Errorf("expense with id %s: %w", id, core.ErrNotFound)
	}
	delete(s.expenses, id)
	return nil
}

func (s *store) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	return s.filterExpenses(func(e core.Expense) bool { return e.UserID == userID }), nil
}

func (s *store) ListTripExpenses(ctx context.Context, tripID string) ([]core.Expense, error) {
	return s.filterExpenses(func(e core.Expense) bool { return e.TripID == tripID }), nil
}

// filterExpenses returns matches newest date first.
func (s *store) filterExpenses(keep func(core.Expense) bool) []core.Expense {
	s.mu.RLock()
	out := make([]core.Expense, 0)
	for _, e := range s.expenses {
		if keep(e) {
			out = append(out, cloneExpense(e))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// Rooms

func (s *store) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *store) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}

// The clone helpers keep callers from mutating slices held by the store.

func cloneGroup(g core.Group) core.Group {
	g.Members = cloneStrings(g.Members)
	return g
}

func cloneTrip(t core.Trip) core.Trip {
	t.Coordinates = append(make([]float64, 0, len(t.Coordinates)), t.Coordinates...)
	t.Activities = cloneStrings(t.Activities)
	t.Members = cloneStrings(t.Members)
	t.SharedWith = cloneStrings(t.SharedWith)
	t.SharedGroups = cloneStrings(t.SharedGroups)
	return t
}

func cloneExpense(e core.Expense) core.Expense {
	e.SharedWith = append(make([]core.Share, 0, len(e.SharedWith)), e.SharedWith...)
	return e
}

func cloneStrings(in []string) []string {
	return append(make([]string, 0, len(in)), in...)
}
