// Package server exposes the sync protocol over websockets. One goroutine
// reads each connection (preserving per-connection update order) and one
// drains its outbound queue, so a slow reader never blocks a broadcast.
package server

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pagesync/internal/collab"
)

type Server struct {
	handler  *collab.Handler
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(handler *collab.Handler, log *slog.Logger) *Server {
	return &Server{
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from a separate origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP surface: the websocket endpoint and a health
// check, wrapped in request logging.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.log.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWS)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade", "err", err)
		return
	}

	c := newConn(ws, s.log)
	go c.writePump()
	defer func() {
		// Disconnect implicitly leaves every joined page.
		s.handler.HandleDisconnect(c)
		c.close()
	}()

	s.handler.HandleConnect(c)
	for {
		var msg collab.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("read failed", "session", c.ID(), "err", err)
			}
			return
		}
		s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *conn, msg collab.Message) {
	switch msg.Event {
	case collab.EventJoinPage:
		s.handler.HandleJoin(c, msg.PageID)
	case collab.EventSyncStep2:
		s.handler.HandleSyncReply(c, msg.PageID, msg.StateVector)
	case collab.EventUpdate:
		s.handler.HandleUpdate(c, msg.PageID, msg.Update)
	case collab.EventUpdateTitle:
		s.handler.HandleUpdateTitle(c, msg.PageID, msg.Title)
	case collab.EventLeavePage:
		s.handler.HandleLeave(c, msg.PageID)
	default:
		c.Send(collab.Message{Event: collab.EventError, Message: "unknown event"})
	}
}
