package collab

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"pagesync/internal/domain"
)

// pageState tracks where one (session, page) pair is in the sync protocol.
type pageState int

const (
	stateUnjoined pageState = iota
	stateJoining            // joined the room, server fingerprint sent
	stateSynced             // fingerprint exchange complete, updates flow
)

// Handler implements the three-phase handshake and steady-state relay:
//
//	join_page    → sync_step1 (server fingerprint)
//	sync_step2   → sync_update (delta the client is missing)
//	update       → merge + broadcast to room, sender excluded
//	update_title → persist + broadcast title_updated, sender excluded
//	leave_page   → room leave; last member triggers final flush + evict
//
// Malformed or out-of-order messages get an error reply and change no
// state.
type Handler struct {
	reg   *Registry
	pages domain.PageStore
	log   *slog.Logger

	mu     sync.Mutex
	states map[string]map[string]pageState // session id → page id → state
}

func NewHandler(reg *Registry, pages domain.PageStore, log *slog.Logger) *Handler {
	return &Handler{
		reg:    reg,
		pages:  pages,
		log:    log,
		states: make(map[string]map[string]pageState),
	}
}

// HandleConnect greets a new session.
func (h *Handler) HandleConnect(s Session) {
	h.log.Info("client connected", "session", s.ID())
	s.Send(Message{Event: EventConnectionEstablished, Status: "connected"})
}

// HandleJoin joins the session to a page's room and replies with the
// document's current fingerprint. Re-joining restarts the handshake.
func (h *Handler) HandleJoin(s Session, pageID string) {
	if pageID == "" {
		s.Send(errorMessage("", "page id is required"))
		return
	}
	e, err := h.reg.Join(pageID, s)
	if err != nil {
		h.log.Error("join failed", "session", s.ID(), "page", pageID, "err", err)
		s.Send(errorMessage(pageID, "failed to open page"))
		return
	}
	h.setState(s.ID(), pageID, stateJoining)
	h.log.Info("client joined page", "session", s.ID(), "page", pageID)

	s.Send(Message{
		Event:       EventSyncStep1,
		PageID:      pageID,
		StateVector: hex.EncodeToString(e.Fingerprint()),
	})
}

// HandleSyncReply finishes the handshake: the client's fingerprint comes
// in, the delta it is missing goes out, and the pair moves to synced.
func (h *Handler) HandleSyncReply(s Session, pageID, clientFingerprint string) {
	if pageID == "" {
		s.Send(errorMessage("", "page id is required"))
		return
	}
	e, ok := h.reg.Get(pageID)
	if !ok || h.state(s.ID(), pageID) == stateUnjoined {
		s.Send(errorMessage(pageID, domain.ErrUnknownPage.Error()))
		return
	}
	remote, err := hex.DecodeString(clientFingerprint)
	if err != nil {
		s.Send(errorMessage(pageID, "malformed state vector"))
		return
	}
	update, err := e.Diff(remote)
	if err != nil {
		h.log.Warn("diff failed", "session", s.ID(), "page", pageID, "err", err)
		s.Send(errorMessage(pageID, "failed to compute sync delta"))
		return
	}
	h.setState(s.ID(), pageID, stateSynced)

	s.Send(Message{
		Event:  EventSyncUpdate,
		PageID: pageID,
		Update: hex.EncodeToString(update),
	})
}

// HandleUpdate merges a steady-state delta into the document, marks the
// page dirty, and relays the delta verbatim to every other room member.
func (h *Handler) HandleUpdate(s Session, pageID, update string) {
	if pageID == "" {
		s.Send(errorMessage("", "page id is required"))
		return
	}
	e, ok := h.reg.Get(pageID)
	if !ok || h.state(s.ID(), pageID) == stateUnjoined {
		s.Send(errorMessage(pageID, domain.ErrUnknownPage.Error()))
		return
	}
	raw, err := hex.DecodeString(update)
	if err != nil {
		s.Send(errorMessage(pageID, "malformed update"))
		return
	}
	if err := e.Merge(raw); err != nil {
		h.log.Warn("merge rejected", "session", s.ID(), "page", pageID, "err", err)
		s.Send(errorMessage(pageID, "malformed update"))
		return
	}

	e.Room().Broadcast(Message{
		Event:  EventUpdate,
		PageID: pageID,
		Update: update,
	}, s.ID())
}

// HandleUpdateTitle persists a page title change and relays it to every
// other room member. The title travels by pointer so clearing a title is
// distinguishable from omitting it.
func (h *Handler) HandleUpdateTitle(s Session, pageID string, title *string) {
	if pageID == "" {
		s.Send(errorMessage("", "page id is required"))
		return
	}
	if title == nil {
		s.Send(errorMessage(pageID, "title is required"))
		return
	}
	e, ok := h.reg.Get(pageID)
	if !ok || h.state(s.ID(), pageID) == stateUnjoined {
		s.Send(errorMessage(pageID, domain.ErrUnknownPage.Error()))
		return
	}
	if err := h.pages.UpdatePageTitle(pageID, *title); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.Send(errorMessage(pageID, domain.ErrUnknownPage.Error()))
			return
		}
		h.log.Error("title update failed", "session", s.ID(), "page", pageID, "err", err)
		s.Send(errorMessage(pageID, "failed to update title"))
		return
	}

	e.Room().Broadcast(Message{
		Event:  EventTitleUpdated,
		PageID: pageID,
		Title:  title,
	}, s.ID())
}

// HandleLeave removes the session from a page. The registry performs the
// final flush and eviction when the room empties.
func (h *Handler) HandleLeave(s Session, pageID string) {
	if pageID == "" {
		s.Send(errorMessage("", "page id is required"))
		return
	}
	h.clearState(s.ID(), pageID)
	last, err := h.reg.Leave(pageID, s)
	if err != nil {
		// Entry stays registered and dirty; the scheduler retries.
		h.log.Error("final flush failed", "page", pageID, "err", err)
	}
	h.log.Info("client left page", "session", s.ID(), "page", pageID, "last", last)
}

// HandleDisconnect runs the leave transition for every page the session
// had joined. Disconnect is the only cancellation signal.
func (h *Handler) HandleDisconnect(s Session) {
	h.mu.Lock()
	var pages []string
	for pageID := range h.states[s.ID()] {
		pages = append(pages, pageID)
	}
	delete(h.states, s.ID())
	h.mu.Unlock()

	for _, pageID := range pages {
		if last, err := h.reg.Leave(pageID, s); err != nil {
			h.log.Error("final flush failed", "page", pageID, "err", err)
		} else if last {
			h.log.Info("evicted page after last disconnect", "page", pageID)
		}
	}
	h.log.Info("client disconnected", "session", s.ID())
}

func (h *Handler) state(sessionID, pageID string) pageState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states[sessionID][pageID]
}

func (h *Handler) setState(sessionID, pageID string, st pageState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.states[sessionID]
	if !ok {
		m = make(map[string]pageState)
		h.states[sessionID] = m
	}
	m[pageID] = st
}

func (h *Handler) clearState(sessionID, pageID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.states[sessionID], pageID)
}

func errorMessage(pageID, msg string) Message {
	return Message{Event: EventError, PageID: pageID, Message: msg}
}
