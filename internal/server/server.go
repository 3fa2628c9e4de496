// Package server exposes the replication protocol over websockets: session
// listing, subscriptions, acknowledgment-based delivery, and guarded
// external tool invocations.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/user/sessionrelay/internal/broker"
	"github.com/user/sessionrelay/internal/delivery"
	"github.com/user/sessionrelay/internal/index"
	"github.com/user/sessionrelay/internal/locks"
	"github.com/user/sessionrelay/internal/logparse"
	"github.com/user/sessionrelay/internal/types"
	"github.com/user/sessionrelay/internal/watcher"
)

// Server wires the index, broker, delivery buffer, lock manager, and
// invoker behind one HTTP handler.
type Server struct {
	ix      types.Index
	broker  *broker.Broker
	buffer  *delivery.Buffer
	locks   *locks.Manager
	invoker types.Invoker

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	ctx      context.Context
}

func New(ix types.Index, br *broker.Broker, buf *delivery.Buffer, lk *locks.Manager, inv types.Invoker) *Server {
	s := &Server{
		ix:      ix,
		broker:  br,
		buffer:  buf,
		locks:   lk,
		invoker: inv,
		mux:     http.NewServeMux(),
		ctx:     context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleAPISessions)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	return s
}

// SetContext installs the lifetime context governing long-running work
// (external tool invocations) started on behalf of clients.
func (s *Server) SetContext(ctx context.Context) { s.ctx = ctx }

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleAPISessions is a plain HTTP view of the index for debugging and
// scripting; the websocket protocol is the primary surface.
func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := 0, 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	if q := r.URL.Query().Get("offset"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			offset = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.ix.GetAll(limit, offset))
}

// handleWS upgrades the connection and runs the protocol. Reconnecting
// with the same client id replays every still-pending delivery, oldest
// first, before the connection joins live broadcasts.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := types.ClientID(r.URL.Query().Get("client"))
	if clientID == "" {
		clientID = types.ClientID(uuid.New().String())
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(clientID, conn, s)
	go c.writeLoop()

	pending := s.buffer.Pending(clientID)
	for _, tracked := range pending {
		if frame, ok := tracked.Payload.(Frame); ok {
			c.send(frame)
		}
	}
	if len(pending) > 0 {
		slog.Info("replayed pending deliveries", "client_id", clientID, "count", len(pending))
	}

	gen := s.broker.AddClient(clientID, func(payload any) {
		if frame, ok := payload.(Frame); ok {
			c.send(frame)
		}
	})
	slog.Info("client connected", "client_id", clientID)

	c.readLoop()

	s.broker.RemoveClient(clientID, gen)
	c.close()
	slog.Info("client disconnected", "client_id", clientID)
}

// dispatch routes one inbound frame. Invocations run in their own
// goroutine so a minutes-long tool run never blocks the read loop.
func (s *Server) dispatch(c *client, in Inbound) {
	switch in.Type {
	case MsgListSessions:
		c.send(Frame{Type: MsgSessionList, Sessions: s.ix.GetAll(in.Limit, in.Offset)})
	case MsgSubscribe:
		s.handleSubscribe(c, in)
	case MsgUnsubscribe:
		if id, ok := types.ParseSessionID(in.SessionID); ok {
			s.broker.Unsubscribe(c.id, id)
		}
	case MsgAcknowledge:
		if !s.buffer.Acknowledge(c.id, types.DeliveryID(in.DeliveryID)) {
			slog.Debug("acknowledge for unknown delivery", "client_id", c.id, "delivery_id", in.DeliveryID)
		}
	case MsgRequestInvocation:
		go s.handleInvocation(c, in)
	default:
		c.send(Frame{Type: MsgError, Error: "unknown frame type: " + in.Type})
	}
}

// handleSubscribe registers interest and synchronously sends the full
// current history, so the subscriber does not wait for the next update to
// see existing content.
func (s *Server) handleSubscribe(c *client, in Inbound) {
	id, ok := types.ParseSessionID(in.SessionID)
	if !ok {
		c.send(Frame{Type: MsgError, SessionID: types.SessionID(in.SessionID), Error: "invalid session id"})
		return
	}
	meta, err := s.ix.Get(id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			c.send(Frame{Type: MsgError, SessionID: id, Error: "session not found"})
			return
		}
		c.send(Frame{Type: MsgError, SessionID: id, Error: "internal error"})
		return
	}

	s.broker.Subscribe(c.id, id)

	history := Frame{Type: MsgSessionHistory, SessionID: id}
	if summary, err := logparse.ParseFull(meta.LogPath); err != nil {
		slog.Warn("history parse failed", "session_id", id, "error", err)
	} else {
		history.Records = rawRecords(summary.Records)
	}
	c.send(s.tracked(c.id, history))
}

// handleInvocation guards the external tool run with the per-session lock.
// A denied acquisition is answered synchronously with invocation-locked;
// release is on the deferred path so a failing invocation never leaves the
// session locked for the life of the process.
func (s *Server) handleInvocation(c *client, in Inbound) {
	var sessionID types.SessionID
	workingDir := in.WorkingDirectory

	if in.SessionID != "" {
		id, ok := types.ParseSessionID(in.SessionID)
		if !ok {
			c.send(Frame{Type: MsgError, SessionID: types.SessionID(in.SessionID), Error: "invalid session id"})
			return
		}
		meta, err := s.ix.Get(id)
		if err != nil {
			c.send(Frame{Type: MsgError, SessionID: id, Error: "session not found"})
			return
		}
		sessionID = id
		if workingDir == "" {
			workingDir = meta.WorkingDirectory
		}

		holder := types.NewHolderID()
		if !s.locks.TryAcquire(sessionID, holder) {
			c.send(Frame{Type: MsgInvocationLocked, SessionID: sessionID})
			return
		}
		defer s.locks.Release(sessionID, holder)
	}

	newID, err := s.invoker.Invoke(s.ctx, sessionID, in.Prompt, workingDir)
	if err != nil {
		slog.Error("invocation failed", "session_id", sessionID, "error", err)
		c.send(s.tracked(c.id, Frame{Type: MsgInvocationFailed, SessionID: sessionID, Error: err.Error()}))
		return
	}
	c.send(s.tracked(c.id, Frame{Type: MsgInvocationComplete, SessionID: newID}))
}

// PumpEvents drains the watcher's event stream into client broadcasts:
// created events reach every connected client, updated and deleted events
// only subscribers.
func (s *Server) PumpEvents(events <-chan watcher.Event) {
	for ev := range events {
		switch ev.Type {
		case watcher.Created:
			base := Frame{Type: MsgSessionCreated, SessionID: ev.SessionID, Session: ev.Meta}
			s.broker.BroadcastAll(func(id types.ClientID) any {
				return s.tracked(id, base)
			})
		case watcher.Updated:
			base := Frame{Type: MsgSessionUpdated, SessionID: ev.SessionID, Records: rawRecords(ev.Records)}
			s.broker.Broadcast(ev.SessionID, func(id types.ClientID) any {
				return s.tracked(id, base)
			})
		case watcher.Deleted:
			base := Frame{Type: MsgSessionDeleted, SessionID: ev.SessionID}
			s.broker.Broadcast(ev.SessionID, func(id types.ClientID) any {
				return s.tracked(id, base)
			})
			s.broker.DropSession(ev.SessionID)
		}
	}
}

// tracked stamps a delivery id onto the frame and records it as pending
// before it is sent.
func (s *Server) tracked(clientID types.ClientID, frame Frame) Frame {
	frame.DeliveryID = types.NewDeliveryID()
	s.buffer.Track(clientID, frame.DeliveryID, frame)
	return frame
}
