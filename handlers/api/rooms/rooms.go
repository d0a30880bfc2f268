package rooms

import (
	"net/http"
	"sort"
	"triphub-server/core"
	"triphub-server/middleware"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// RoomSummary describes one group chat room as seen by the caller.
	RoomSummary struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Users      int    `json:"users"`
		LastActive *int64 `json:"lastActive,omitempty"`
	}

	// ActivityReader exposes the live member count of every occupied room.
	ActivityReader interface {
		ActiveRooms() map[string]int
	}
)

// HandleList reports the caller's group rooms: live member counts merged with
// the last recorded activity. Busiest rooms come first.
func HandleList(groups core.GroupStore, hub ActivityReader, registry core.RoomRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mine, err := groups.ListGroupsForUser(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list groups")
			http.Error(w, "Failed to list rooms", http.StatusInternalServerError)
			return
		}

		roomMap := make(map[string]*RoomSummary, len(mine))
		for _, g := range mine {
			roomMap[g.ID] = &RoomSummary{ID: g.ID, Name: g.Name}
		}

		for id, count := range hub.ActiveRooms() {
			if entry, ok := roomMap[id]; ok {
				entry.Users = count
			}
		}

		if registry != nil {
			if storedRooms, err := registry.ListRooms(r.Context()); err != nil {
				logrus.WithError(err).Warn("failed to list rooms from registry")
			} else {
				for _, room := range storedRooms {
					entry, ok := roomMap[room.ID]
					if !ok || room.LastActive <= 0 {
						continue
					}
					lastActive := room.LastActive
					entry.LastActive = &lastActive
				}
			}
		}

		roomList := make([]RoomSummary, 0, len(roomMap))
		for _, entry := range roomMap {
			roomList = append(roomList, *entry)
		}
		sortRooms(roomList)

		render.JSON(w, r, roomList)
	}
}

func sortRooms(rooms []RoomSummary) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Users != rooms[j].Users {
			return rooms[i].Users > rooms[j].Users
		}
		li, lj := lastActive(rooms[i]), lastActive(rooms[j])
		if li != lj {
			return li > lj
		}
		return rooms[i].ID < rooms[j].ID
	})
}

func lastActive(r RoomSummary) int64 {
	if r.LastActive == nil {
		return 0
	}
	return *r.LastActive
}
