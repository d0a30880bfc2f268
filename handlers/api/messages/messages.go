package messages

import (
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

const imageFolder = "direct-messages"

type (
	SendRequest struct {
		Text  string `json:"text"`
		Image string `json:"image"`
	}

	// DirectSender delivers to the live session of a single user.
	DirectSender interface {
		SendDirect(userID, event string, payload any) (realtime.SessionID, bool)
	}
)

// HandleConversation returns the direct messages between the caller and
// {userId}, oldest first.
func HandleConversation(store core.MessageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := middleware.UserID(r.Context())
		other := chi.URLParam(r, "userId")

		messages, err := store.ListConversation(r.Context(), me, other)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list conversation")
			http.Error(w, "Failed to list messages", http.StatusInternalServerError)
			return
		}
		if messages == nil {
			messages = []core.Message{}
		}

		render.JSON(w, r, messages)
	}
}

// HandleSend stores a direct message for {userId} and pushes it to the
// receiver if they are online. An offline receiver reads it from history.
func HandleSend(store core.MessageStore, uploader images.Uploader, hub DirectSender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senderID := middleware.UserID(r.Context())
		receiverID := chi.URLParam(r, "userId")
		if receiverID == "" {
			http.Error(w, "Receiver is required", http.StatusBadRequest)
			return
		}

		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Text) == "" && req.Image == "" {
			http.Error(w, "Message must have text or an image", http.StatusBadRequest)
			return
		}

		message := &core.Message{SenderID: senderID, ReceiverID: receiverID, Text: req.Text}
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
			logrus.WithField("error", err).Error("Failed to store message")
			http.Error(w, "Failed to send message", http.StatusInternalServerError)
			return
		}

		_, delivered := hub.SendDirect(receiverID, realtime.EventNewMessage, message)
		logrus.WithFields(logrus.Fields{
			"message_id": message.ID,
			"receiver":   receiverID,
			"delivered":  delivered,
		}).Debug("Direct message sent")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, message)
	}
}
