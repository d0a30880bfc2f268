package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
	"triphub-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		members TEXT NOT NULL,
		created_by TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT,
		group_id TEXT,
		text TEXT,
		image TEXT,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS messages_group_idx ON messages (group_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		start_date INTEGER NOT NULL,
		end_date INTEGER NOT NULL,
		location TEXT NOT NULL,
		coordinates TEXT NOT NULL,
		budget REAL NOT NULL,
		status TEXT NOT NULL,
		image TEXT,
		activities TEXT NOT NULL,
		accommodation TEXT,
		transportation TEXT,
		user_id TEXT NOT NULL,
		members TEXT NOT NULL,
		group_id TEXT,
		chat_group_id TEXT,
		shared_with TEXT NOT NULL,
		shared_groups TEXT NOT NULL,
		is_public INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		group_id TEXT,
		trip_id TEXT,
		title TEXT NOT NULL,
		amount REAL NOT NULL,
		category TEXT NOT NULL,
		description TEXT,
		date INTEGER NOT NULL,
		shared_with TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS expenses_user_idx ON expenses (user_id, date);`,
	`CREATE INDEX IF NOT EXISTS expenses_trip_idx ON expenses (trip_id);`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		last_active INTEGER NOT NULL
	);`,
}

// NewStore opens (or creates) the database and its tables.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}
	// A single connection keeps writes serialized and makes ":memory:"
	// databases behave as one database.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			log.Fatalf("failed to initialize schema: %v", err)
		}
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// Groups

func (s *sqliteStore) CreateGroup(ctx context.Context, group *core.Group) (string, error) {
	now := time.Now().UTC()
	group.ID = ulid.Make().String()
	group.CreatedAt = now
	group.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{
		"group_id": group.ID,
		"members":  len(group.Members),
	})

	members, err := encodeJSON(group.Members)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO chat_groups (id, name, members, created_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		group.ID, group.Name, members, group.CreatedBy, millis(now), millis(now))
	if err != nil {
		log.WithField("error", err).Error("Failed to create group")
		return "", err
	}
	log.Info("Group created successfully")
	return group.ID, nil
}

const groupColumns = "id, name, members, created_by, created_at, updated_at"

func (s *sqliteStore) ListGroupsForUser(ctx context.Context, userID string) ([]core.Group, error) {
	log := logrus.WithField("user_id", userID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+groupColumns+" FROM chat_groups WHERE EXISTS (SELECT 1 FROM json_each(chat_groups.members) WHERE value = ?) ORDER BY updated_at DESC, id DESC",
		userID)
	if err != nil {
		log.WithField("error", err).Error("Failed to list groups")
		return nil, err
	}
	defer closeRows(rows, log)

	groups := make([]core.Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			log.WithField("error", err).Error("Failed to scan group")
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (s *sqliteStore) FindGroupForMember(ctx context.Context, groupID, userID string) (*core.Group, error) {
	log := logrus.WithFields(logrus.Fields{"group_id": groupID, "user_id": userID})

	g, err := scanGroup(s.db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM chat_groups WHERE id = ?", groupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("group %s for member %s: %w", groupID, userID, core.ErrNotFound)
		}
		log.WithField("error", err).Error("Failed to retrieve group")
		return nil, err
	}
	if !g.HasMember(userID) {
		log.Debug("User is not a member of the group")
		return nil, fmt.Errorf("group %s for member %s: %w", groupID, userID, core.ErrNotFound)
	}
	return g, nil
}

func scanGroup(row scanner) (*core.Group, error) {
	var (
		g                    core.Group
		members              string
		createdBy            sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&g.ID, &g.Name, &members, &createdBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(members, &g.Members); err != nil {
		return nil, err
	}
	g.CreatedBy = createdBy.String
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updatedAt)
	return &g, nil
}

// Messages

func (s *sqliteStore) CreateMessage(ctx context.Context, message *core.Message) (string, error) {
	message.ID = ulid.Make().String()
	message.CreatedAt = time.Now().UTC()

	log := logrus.WithFields(logrus.Fields{
		"message_id": message.ID,
		"group_id":   message.GroupID,
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, sender_id, receiver_id, group_id, text, image, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		message.ID, message.SenderID, nullable(message.ReceiverID), nullable(message.GroupID),
		message.Text, message.Image, millis(message.CreatedAt))
	if err != nil {
		log.WithField("error", err).Error("Failed to create message")
		return "", err
	}

	if message.GroupID != "" {
		_, err = tx.ExecContext(ctx, "UPDATE chat_groups SET updated_at = ? WHERE id = ?",
			millis(message.CreatedAt), message.GroupID)
		if err != nil {
			log.WithField("error", err).Error("Failed to bump group activity")
			return "", err
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	log.Debug("Message stored")
	return message.ID, nil
}

const messageColumns = "id, sender_id, receiver_id, group_id, text, image, created_at"

func (s *sqliteStore) ListGroupMessages(ctx context.Context, groupID string) ([]core.Message, error) {
	return s.queryMessages(ctx, logrus.WithField("group_id", groupID),
		"SELECT "+messageColumns+" FROM messages WHERE group_id = ? ORDER BY created_at ASC, id ASC",
		groupID)
}

func (s *sqliteStore) ListConversation(ctx context.Context, userA, userB string) ([]core.Message, error) {
	return s.queryMessages(ctx, logrus.WithFields(logrus.Fields{"user_a": userA, "user_b": userB}),
		"SELECT "+messageColumns+" FROM messages WHERE group_id IS NULL AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) ORDER BY created_at ASC, id ASC",
		userA, userB, userB, userA)
}

func (s *sqliteStore) queryMessages(ctx context.Context, log *logrus.Entry, query string, args ...any) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.WithField("error", err).Error("Failed to list messages")
		return nil, err
	}
	defer closeRows(rows, log)

	messages := make([]core.Message, 0)
	for rows.Next() {
		var (
			m                                core.Message
			receiverID, groupID, text, image sql.NullString
			createdAt                        int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &receiverID, &groupID, &text, &image, &createdAt); err != nil {
			log.WithField("error", err).Error("Failed to scan message")
			return nil, err
		}
		m.ReceiverID = receiverID.String
		m.GroupID = groupID.String
		m.Text = text.String
		m.Image = image.String
		m.CreatedAt = fromMillis(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Trips

const tripColumns = `id, title, description, start_date, end_date, location, coordinates, budget,
	status, image, activities, accommodation, transportation, user_id, members, group_id,
	chat_group_id, shared_with, shared_groups, is_public, created_at, updated_at`

func (s *sqliteStore) CreateTrip(ctx context.Context, trip *core.Trip) (string, error) {
	now := time.Now().UTC()
	trip.ID = ulid.Make().String()
	trip.CreatedAt = now
	trip.UpdatedAt = now

	log := logrus.WithField("trip_id", trip.ID)

	args, err := tripArgs(trip)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO trips ("+tripColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		args...)
	if err != nil {
		log.WithField("error", err).Error("Failed to create trip")
		return "", err
	}
	log.Info("Trip created successfully")
	return trip.ID, nil
}

func (s *sqliteStore) GetTrip(ctx context.Context, id string) (*core.Trip, error) {
	log := logrus.WithField("trip_id", id)

	trip, err := scanTrip(s.db.QueryRowContext(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trip with id %s: %w", id, core.ErrNotFound)
		}
		log.WithField("error", err).Error("Failed to retrieve trip")
		return nil, err
	}
	return trip, nil
}

func (s *sqliteStore) UpdateTrip(ctx context.Context, trip *core.Trip) error {
	log := logrus.WithField("trip_id", trip.ID)
	trip.UpdatedAt = time.Now().UTC()

	args, err := tripArgs(trip)
	if err != nil {
		return err
	}
	// Drop id and created_at from the column values, then key on id.
	updateArgs := make([]any, 0, len(args))
	updateArgs = append(updateArgs, args[1:len(args)-2]...)
	updateArgs = append(updateArgs, millis(trip.UpdatedAt), trip.ID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE trips SET title = ?, description = ?, start_date = ?, end_date = ?, location = ?,
			coordinates = ?, budget = ?, status = ?, image = ?, activities = ?, accommodation = ?,
			transportation = ?, user_id = ?, members = ?, group_id = ?, chat_group_id = ?,
			shared_with = ?, shared_groups = ?, is_public = ?, updated_at = ?
		WHERE id = ?`,
		updateArgs...)
	if err != nil {
		log.WithField("error", err).Error("Failed to update trip")
		return err
	}
	return expectOneRow(result, fmt.Sprintf("trip with id %s", trip.ID))
}

func (s *sqliteStore) DeleteTrip(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM trips WHERE id = ?", id)
	if err != nil {
		logrus.WithField("trip_id", id).WithField("error", err).Error("Failed to delete trip")
		return err
	}
	return expectOneRow(result, fmt.Sprintf("trip with id %s", id))
}

func (s *sqliteStore) ListVisibleTrips(ctx context.Context, userID string, groupIDs []string) ([]core.Trip, error) {
	log := logrus.WithField("user_id", userID)

	groups, err := encodeJSON(groupIDs)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tripColumns+` FROM trips
		WHERE is_public = 1
			OR user_id = ?
			OR EXISTS (SELECT 1 FROM json_each(trips.members) WHERE value = ?)
			OR EXISTS (SELECT 1 FROM json_each(trips.shared_with) WHERE value = ?)
			OR EXISTS (SELECT 1 FROM json_each(trips.shared_groups) sg, json_each(?) ug WHERE sg.value = ug.value)
		ORDER BY start_date ASC, id ASC`,
		userID, userID, userID, groups)
	if err != nil {
		log.WithField("error", err).Error("Failed to list trips")
		return nil, err
	}
	defer closeRows(rows, log)

	trips := make([]core.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			log.WithField("error", err).Error("Failed to scan trip")
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// tripArgs returns the values for tripColumns, in order.
func tripArgs(t *core.Trip) ([]any, error) {
	encoded := make([]string, 0, 5)
	for _, v := range []any{t.Coordinates, t.Activities, t.Members, t.SharedWith, t.SharedGroups} {
		s, err := encodeJSON(v)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, s)
	}
	return []any{
		t.ID, t.Title, t.Description, millis(t.StartDate), millis(t.EndDate), t.Location,
		encoded[0], t.Budget, t.Status, t.Image, encoded[1], t.Accommodation,
		t.Transportation, t.UserID, encoded[2], nullable(t.GroupID), nullable(t.ChatGroupID),
		encoded[3], encoded[4], t.IsPublic, millis(t.CreatedAt), millis(t.UpdatedAt),
	}, nil
}

func scanTrip(row scanner) (*core.Trip, error) {
	var (
		t                                                 core.Trip
		description, image, accommodation, transportation sql.NullString
		groupID, chatGroupID                              sql.NullString
		coordinates, activities, members                  string
		sharedWith, sharedGroups                          string
		startDate, endDate, createdAt, updatedAt          int64
	)
	err := row.Scan(&t.ID, &t.Title, &description, &startDate, &endDate, &t.Location, &coordinates,
		&t.Budget, &t.Status, &image, &activities, &accommodation, &transportation, &t.UserID,
		&members, &groupID, &chatGroupID, &sharedWith, &sharedGroups, &t.IsPublic, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		raw string
		dst any
	}{
		{coordinates, &t.Coordinates},
		{activities, &t.Activities},
		{members, &t.Members},
		{sharedWith, &t.SharedWith},
		{sharedGroups, &t.SharedGroups},
	} {
		if err := decodeJSON(f.raw, f.dst); err != nil {
			return nil, err
		}
	}

	t.Description = description.String
	t.Image = image.String
	t.Accommodation = accommodation.String
	t.Transportation = transportation.String
	t.GroupID = groupID.String
	t.ChatGroupID = chatGroupID.String
	t.StartDate = fromMillis(startDate)
	t.EndDate = fromMillis(endDate)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

// Expenses

const expenseColumns = "id, user_id, group_id, trip_id, title, amount, category, description, date, shared_with, created_at, updated_at"

func (s *sqliteStore) CreateExpense(ctx context.Context, expense *core.Expense) (string, error) {
	now := time.Now().UTC()
	expense.ID = ulid.Make().String()
	expense.CreatedAt = now
	expense.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{
		"expense_id": expense.ID,
		"amount":     expense.Amount,
	})

	shares, err := encodeJSON(expense.SharedWith)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO expenses ("+expenseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		expense.ID, expense.UserID, nullable(expense.GroupID), nullable(expense.TripID), expense.Title,
		expense.Amount, expense.Category, expense.Description, millis(expense.Date), shares,
		millis(now), millis(now))
	if err != nil {
		log.WithField("error", err).Error("Failed to create expense")
		return "", err
	}
	log.Info("Expense created successfully")
	return expense.ID, nil
}

func (s *sqliteStore) GetExpense(ctx context.Context, id string) (*core.Expense, error) {
	e, err := scanExpense(s.db.QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("expense with id %s: %w", id, core.ErrNotFound)
		}
		logrus.WithField("expense_id", id).WithField("error", err).Error("Failed to retrieve expense")
		return nil, err
	}
	return e, nil
}

func (s *sqliteStore) UpdateExpense(ctx context.Context, expense *core.Expense) error {
	log := logrus.WithField("expense_id", expense.ID)
	expense.UpdatedAt = time.Now().UTC()

	shares, err := encodeJSON(expense.SharedWith)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET group_id = ?, trip_id = ?, title = ?, amount = ?, category = ?,
			description = ?, date = ?, shared_with = ?, updated_at = ?
		WHERE id = ?`,
		nullable(expense.GroupID), nullable(expense.TripID), expense.Title, expense.Amount,
		expense.Category, expense.Description, millis(expense.Date), shares,
		millis(expense.UpdatedAt), expense.ID)
	if err != nil {
		log.WithField("error", err).Error("Failed to update expense")
		return err
	}
	return expectOneRow(result, fmt.Sprintf("expense with id %s", expense.ID))
}

func (s *sqliteStore) DeleteExpense(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", id)
	if err != nil {
		logrus.WithField("expense_id", id).WithField("error", err).Error("Failed to delete expense")
		return err
	}
	return expectOneRow(result, fmt.Sprintf("expense with id %s", id))
}

func (s *sqliteStore) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	return s.queryExpenses(ctx, logrus.WithField("user_id", userID),
		"SELECT "+expenseColumns+" FROM expenses WHERE user_id = ? ORDER BY date DESC, id DESC", userID)
}

func (s *sqliteStore) ListTripExpenses(ctx context.Context, tripID string) ([]core.Expense, error) {
	return s.queryExpenses(ctx, logrus.WithField("trip_id", tripID),
		"SELECT "+expenseColumns+" FROM expenses WHERE trip_id = ? ORDER BY date DESC, id DESC", tripID)
}

func (s *sqliteStore) queryExpenses(ctx context.Context, log *logrus.Entry, query string, args ...any) ([]core.Expense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.WithField("error", err).Error("Failed to list expenses")
		return nil, err
	}
	defer closeRows(rows, log)

	expenses := make([]core.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			log.WithField("error", err).Error("Failed to scan expense")
			return nil, err
		}
		expenses = append(expenses, *e)
	}
	return expenses, rows.Err()
}

func scanExpense(row scanner) (*core.Expense, error) {
	var (
		e                            core.Expense
		groupID, tripID, description sql.NullString
		shares                       string
		date, createdAt, updatedAt   int64
	)
	err := row.Scan(&e.ID, &e.UserID, &groupID, &tripID, &e.Title, &e.Amount, &e.Category,
		&description, &date, &shares, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(shares, &e.SharedWith); err != nil {
		return nil, err
	}
	e.GroupID = groupID.String
	e.TripID = tripID.String
	e.Description = description.String
	e.Date = fromMillis(date)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

// Rooms

func (s *sqliteStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, last_active) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active",
		roomID, time.Now().UnixMilli())
	if err != nil {
		logrus.WithField("room_id", roomID).WithField("error", err).Error("Failed to touch room")
	}
	return err
}

func (s *sqliteStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, last_active FROM rooms ORDER BY last_active DESC, id ASC")
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, logrus.NewEntry(logrus.StandardLogger()))

	rooms := make([]core.Room, 0)
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Helpers

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(rows *sql.Rows, log *logrus.Entry) {
	if cerr := rows.Close(); cerr != nil {
		log.WithError(cerr).Warn("Failed to close rows")
	}
}

func expectOneRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}

// encodeJSON stores nil slices as "[]" so json_each always sees an array.
func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func decodeJSON(raw string, dst any) error {
	if raw == "" {
		raw = "[]"
	}
	return json.Unmarshal([]byte(raw), dst)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
