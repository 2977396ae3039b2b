package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/azizikri/offer-feed/internal/catalog"
	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/notify"
	"github.com/azizikri/offer-feed/internal/paginate"
	"github.com/azizikri/offer-feed/internal/preference"
)

// FlashDealSource loads the time-boxed secondary offer stream.
type FlashDealSource interface {
	FetchFlashDeals(ctx context.Context) ([]domain.Offer, error)
}

// Backend is everything a session needs from the backend besides the catalog.
type Backend interface {
	preference.Backend
	FlashDealSource
}

type Options struct {
	SearchQuiet   time.Duration
	FlashPageSize int
}

// Session is the per-user state bundle. It lives from sign-in to sign-out.
type Session struct {
	UserID     string
	Prefs      *preference.Store
	Controller *Controller
	Flash      *paginate.Paginator[domain.Offer]

	listener *Listener
	logger   *slog.Logger
}

// Status adds the live-update channel state to the controller's status.
func (s *Session) Status() Status {
	st := s.Controller.Status()
	st.SyncError = s.listener.LastError()
	return st
}

// SetFlashPage moves the flash-deal window and returns the selected page.
func (s *Session) SetFlashPage(n int) int {
	return s.Flash.SetPage(n)
}

func (s *Session) LiveUpdatesAttached() bool {
	return s.listener.Attached()
}

func (s *Session) close() {
	s.listener.Detach()
	s.Controller.Close()
	s.Prefs.Clear()
}

// SessionManager creates and tears down sessions. There is at most one
// session per user; signing in again replaces it.
type SessionManager struct {
	repo     *catalog.Repository
	backend  Backend
	notifier notify.Subscriber[domain.ChangeEvent]
	opts     Options
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager(repo *catalog.Repository, backend Backend, notifier notify.Subscriber[domain.ChangeEvent], opts Options, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		repo:     repo,
		backend:  backend,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// SignIn builds a session for userID: live updates first, then preferences,
// then the flash-deal list. Any session it replaces is closed.
func (m *SessionManager) SignIn(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, domain.ErrNoSession
	}
	m.SignOut(userID)

	logger := m.logger.With(slog.String("user_id", userID))
	prefs := preference.NewStore(m.backend, logger)
	listener := NewListener(m.notifier, prefs, logger)
	listener.Attach(userID)
	prefs.Load(ctx, userID)

	flash := paginate.New[domain.Offer](m.opts.FlashPageSize, func(page int) {
		logger.Debug("flash page changed, scrolling to top", slog.Int("page", page))
	})
	flash.SetLoading(true)
	deals, err := m.backend.FetchFlashDeals(ctx)
	if err != nil {
		logger.Warn("flash deals unavailable", slog.Any("error", err))
		deals = nil
	}
	flash.SetItems(deals)

	s := &Session{
		UserID:     userID,
		Prefs:      prefs,
		Controller: NewController(m.repo, prefs, m.opts.SearchQuiet, logger),
		Flash:      flash,
		listener:   listener,
		logger:     logger,
	}

	// a concurrent SignIn for the same user may have installed its session
	// while this one was loading
	m.mu.Lock()
	prev := m.sessions[userID]
	m.sessions[userID] = s
	m.mu.Unlock()

	if prev != nil {
		prev.close()
		prev.logger.Info("session replaced")
	}
	logger.Info("session started")
	return s, nil
}

// SignOut tears down userID's session. It reports whether one existed.
func (m *SessionManager) SignOut(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	s.logger.Info("session ended")
	return true
}

func (m *SessionManager) Get(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, domain.ErrNoSession
	}
	return s, nil
}

// Close ends every session.
func (m *SessionManager) Close() {
	m.mu.RLock()
	users := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		users = append(users, id)
	}
	m.mu.RUnlock()

	for _, id := range users {
		m.SignOut(id)
	}
}
