package presence

import (
	"net/http"

	"github.com/go-chi/render"
)

type (
	OnlineUsersResponse struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}

	// Reader lists the users that currently have a live session.
	Reader interface {
		OnlineUsers() []string
	}
)

// HandleOnlineUsers returns the same list clients receive as getOnlineUsers.
func HandleOnlineUsers(hub Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := hub.OnlineUsers()
		if users == nil {
			users = []string{}
		}
		render.JSON(w, r, OnlineUsersResponse{Users: users, Count: len(users)})
	}
}
