package app

import (
	"context"
	"log/slog"
	"time"

	"chatcore/internal/protocol"
	"chatcore/internal/realtime"
	"chatcore/internal/store"
)

const welcomeText = "Welcome to Softadastra Chat 👋"

// historyLimit bounds how many stored rows a chat.join replays,
// matching the "recent room history" framing of spec §1.
const historyLimit = 50

// wireChatHandlers installs the on_open/on_typed_message handlers
// that turn the bare realtime core into the chat application spec §8
// describes end to end: a welcome system message on connect, a
// chat.join handler that replays room history then broadcasts a
// join announcement, and a chat.message handler that appends to the
// store and broadcasts to the message's room (or everyone, if the
// envelope names none).
func wireChatHandlers(srv *realtime.Server, st store.Store, log *slog.Logger) {
	srv.OnOpen(func(s *realtime.Session) {
		payload := protocol.NewMap()
		payload.Set("user", protocol.FromString("server"))
		payload.Set("text", protocol.FromString(welcomeText))
		s.SendText(protocol.Serialize(protocol.Envelope{
			Kind:    protocol.KindSystem,
			Type:    "chat.system",
			Payload: payload,
		}))
	})

	srv.OnError(func(s *realtime.Session, err error) {
		log.Warn("session.error", "session_id", s.ID, "err", err)
	})

	srv.OnTypedMessage(func(s *realtime.Session, env protocol.Envelope) {
		switch env.Type {
		case "chat.join":
			handleJoin(s, env, srv, st, log)
		case "chat.leave":
			handleLeave(s, env, srv)
		case "chat.message":
			handleMessage(s, env, srv, st, log)
		}
	})
}

func handleJoin(s *realtime.Session, env protocol.Envelope, srv *realtime.Server, st store.Store, log *slog.Logger) {
	room := env.Payload.GetString("room")
	if room == "" {
		return
	}
	user := env.Payload.GetString("user")

	srv.JoinRoom(s, room)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	history, err := st.ListByRoom(ctx, room, historyLimit, "")
	if err != nil {
		log.Error("chat.join.history_failed", "room", room, "err", err)
	}
	for _, h := range history {
		s.SendText(protocol.Serialize(h))
	}

	announce := protocol.NewMap()
	announce.Set("room", protocol.FromString(room))
	text := user + " joined the room"
	if user == "" {
		text = "a user joined the room"
	}
	announce.Set("text", protocol.FromString(text))
	srv.BroadcastRoomJSON(room, "chat.system", announce)
}

func handleLeave(s *realtime.Session, env protocol.Envelope, srv *realtime.Server) {
	room := env.Payload.GetString("room")
	if room == "" {
		srv.LeaveAllRooms(s)
		return
	}
	srv.LeaveRoom(s, room)
}

func handleMessage(s *realtime.Session, env protocol.Envelope, srv *realtime.Server, st store.Store, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := st.Append(ctx, env); err != nil {
		log.Error("chat.message.store_failed", "session_id", s.ID, "err", err)
	}

	if env.Room != "" {
		srv.BroadcastRoomJSON(env.Room, env.Type, env.Payload)
	} else {
		srv.BroadcastJSON(env.Type, env.Payload)
	}
}
