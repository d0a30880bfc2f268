package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"
	"triphub-server/core"
	"triphub-server/realtime"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// MembershipChecker resolves a group only when the user is one of its members.
type MembershipChecker interface {
	FindGroupForMember(ctx context.Context, groupID, userID string) (*core.Group, error)
}

// socketTransport delivers hub events through socket.io. Every socket is
// auto-joined to a room named after its own id, which is what Emit targets.
type socketTransport struct {
	srv *socketio.Server
}

func (t socketTransport) Emit(sessionID realtime.SessionID, event string, args ...any) error {
	return t.srv.To(socketio.Room(sessionID)).Emit(event, args...)
}

// EmitAll reaches every client of the default namespace.
func (t socketTransport) EmitAll(event string, args ...any) error {
	return t.srv.Sockets().Emit(event, args...)
}

// SetupSocketIO creates the socket.io server, points the hub at it and binds
// the connection lifecycle. groups and registry may be nil.
func SetupSocketIO(hub *realtime.Hub, groups MembershipChecker, registry core.RoomRegistry, origins []string) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigins(origins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)
	hub.SetTransport(socketTransport{srv: srv})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := realtime.SessionID(socket.Id())
		userID := handshakeUserID(socket.Handshake())
		utils.Log().Printf("socket %v connected as user %q\n", me, userID)
		hub.Connect(me, userID)

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("joinGroup", func(datas ...any) {
			ack, args := extractAck(datas)
			groupID, err := groupArg(args)
			if err == nil {
				err = authorizeJoin(groups, groupID, userID)
			}
			if err == nil && !hub.JoinRoom(me, groupID) {
				err = fmt.Errorf("session is not connected")
			}
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"session_id": me,
					"group_id":   groupID,
				}).WithError(err).Warn("Rejected group join")
				respondWithAck(socket, ack, "join-group-ack", statusPayload(groupID, err), err)
				return
			}

			if registry != nil {
				if err := registry.TouchRoom(context.Background(), groupID); err != nil {
					logrus.WithError(err).Warn("failed to record room activity")
				}
			}
			utils.Log().Printf("socket %v has joined group %v\n", me, groupID)
			respondWithAck(socket, ack, "join-group-ack", statusPayload(groupID, nil), nil)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("leaveGroup", func(datas ...any) {
			ack, args := extractAck(datas)
			groupID, err := groupArg(args)
			if err == nil {
				hub.LeaveRoom(me, groupID)
				utils.Log().Printf("socket %v has left group %v\n", me, groupID)
			}
			respondWithAck(socket, ack, "", statusPayload(groupID, err), err)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(datas ...any) {
			hub.Disconnect(me)
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// corsOrigins keeps the socket.io handshake in line with the HTTP CORS
// policy: the configured origins, or local development hosts.
func corsOrigins(origins []string) []any {
	if len(origins) == 0 {
		return []any{localhostOrigin}
	}
	out := make([]any, 0, len(origins))
	for _, o := range origins {
		out = append(out, o)
	}
	return out
}

func handshakeUserID(handshake *socketio.Handshake) string {
	if handshake == nil {
		return ""
	}
	return url.Values(handshake.Query).Get("userId")
}

func groupArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("group id is required")
	}
	groupID, ok := args[0].(string)
	if !ok || groupID == "" {
		return "", fmt.Errorf("invalid group id")
	}
	return groupID, nil
}

func authorizeJoin(groups MembershipChecker, groupID, userID string) error {
	if groups == nil {
		return nil
	}
	if userID == "" {
		return fmt.Errorf("anonymous sessions cannot join groups")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := groups.FindGroupForMember(ctx, groupID, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNotFound):
		return fmt.Errorf("not a member of group %s", groupID)
	default:
		logrus.WithFields(logrus.Fields{
			"group_id": groupID,
			"user_id":  userID,
		}).WithError(err).Error("Failed to look up group membership")
		return fmt.Errorf("could not verify membership of group %s", groupID)
	}
}

func statusPayload(groupID string, err error) map[string]any {
	payload := map[string]any{"status": "ok"}
	if groupID != "" {
		payload["groupId"] = groupID
	}
	if err != nil {
		payload["status"] = "error"
		payload["error"] = err.Error()
	}
	return payload
}
