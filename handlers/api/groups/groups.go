package groups

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"triphub-server/core"
	"triphub-server/images"
	"triphub-server/middleware"
	"triphub-server/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// imageFolder is the upload folder for images attached to group messages.
const imageFolder = "group-messages"

type (
	CreateGroupRequest struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}

	SendMessageRequest struct {
		Text  string `json:"text"`
		Image string `json:"image"`
	}

	MessageStore interface {
		core.GroupStore
		core.MessageStore
	}

	// Broadcaster fans an event out to the live members of a room.
	Broadcaster interface {
		Broadcast(roomID, event string, payload any) int
	}
)

// HandleCreate creates a group. The caller is always a member.
func HandleCreate(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())

		var req CreateGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			http.Error(w, "Group name is required", http.StatusBadRequest)
			return
		}
		if len(req.MemberIDs) < 1 {
			http.Error(w, "Group must have at least one member", http.StatusBadRequest)
			return
		}

		group := &core.Group{
			Name:      req.Name,
			Members:   core.AddToSet(nil, append(req.MemberIDs, userID)...),
			CreatedBy: userID,
		}
		if _, err := store.CreateGroup(r.Context(), group); err != nil {
			logrus.WithField("error", err).Error("Failed to create group")
			http.Error(w, "Failed to create group", http.StatusInternalServerError)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, group)
	}
}

// HandleList lists the caller's groups, most recently active first.
func HandleList(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := store.ListGroupsForUser(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list groups")
			http.Error(w, "Failed to list groups", http.StatusInternalServerError)
			return
		}
		if groups == nil {
			groups = []core.Group{}
		}

		render.JSON(w, r, groups)
	}
}

// HandleListMessages returns a group's history, oldest first.
func HandleListMessages(store MessageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if !requireMember(w, r, store, groupID) {
			return
		}

		messages, err := store.ListGroupMessages(r.Context(), groupID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list group messages")
			http.Error(w, "Failed to list messages", http.StatusInternalServerError)
			return
		}
		if messages == nil {
			messages = []core.Message{}
		}

		render.JSON(w, r, messages)
	}
}

// HandleSendMessage persists a group message and then fans it out to the
// group's room. Fan-out never fails the request.
func HandleSendMessage(store MessageStore, uploader images.Uploader, hub Broadcaster, registry core.RoomRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		senderID := middleware.UserID(r.Context())

		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Text) == "" && req.Image == "" {
			http.Error(w, "Message must have text or an image", http.StatusBadRequest)
			return
		}
		if !requireMember(w, r, store, groupID) {
			return
		}

		message := &core.Message{SenderID: senderID, GroupID: groupID, Text: req.Text}
		if req.Image != "" {
			url, err := uploader.Upload(r.Context(), imageFolder, req.Image)
			if errors.Is(err, images.ErrInvalidImage) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err != nil {
				logrus.WithField("error", err).Error("Failed to upload image")
				http.Error(w, "Failed to upload image", http.StatusInternalServerError)
				return
			}
			message.Image = url
		}

		if _, err := store.CreateMessage(r.Context(), message); err != nil {
			logrus.WithField("error", err).Error("Failed to store group message")
			http.Error(w, "Failed to send message", http.StatusInternalServerError)
			return
		}

		delivered := hub.Broadcast(groupID, realtime.EventNewGroupMessage, message)
		touchRoom(r.Context(), registry, groupID)
		logrus.WithFields(logrus.Fields{
			"group_id":   groupID,
			"message_id": message.ID,
			"delivered":  delivered,
		}).Debug("Group message sent")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, message)
	}
}

// requireMember writes 404 unless the caller belongs to the group, so
// non-members cannot probe which groups exist.
func requireMember(w http.ResponseWriter, r *http.Request, store core.GroupStore, groupID string) bool {
	_, err := store.FindGroupForMember(r.Context(), groupID, middleware.UserID(r.Context()))
	switch {
	case err == nil:
		return true
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, "Group not found or you're not a member", http.StatusNotFound)
	default:
		logrus.WithField("error", err).Error("Failed to load group")
		http.Error(w, "Failed to load group", http.StatusInternalServerError)
	}
	return false
}

func touchRoom(ctx context.Context, registry core.RoomRegistry, groupID string) {
	if registry == nil {
		return
	}
	if err := registry.TouchRoom(ctx, groupID); err != nil {
		logrus.WithError(err).Warn("failed to record room activity")
	}
}
