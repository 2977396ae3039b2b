package feed

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/notify"
	"github.com/azizikri/offer-feed/internal/preference"
)

// Listener applies change notifications for one user to a preference store.
// A dropped channel is recorded, not retried; state stays stale until the
// next explicit load.
type Listener struct {
	notifier notify.Subscriber[domain.ChangeEvent]
	store    *preference.Store
	logger   *slog.Logger

	mu          sync.Mutex
	userID      string
	unsubscribe func()
	lastErr     error
}

func NewListener(notifier notify.Subscriber[domain.ChangeEvent], store *preference.Store, logger *slog.Logger) *Listener {
	return &Listener{notifier: notifier, store: store, logger: logger}
}

// Attach subscribes to userID's changes, replacing any previous subscription.
func (l *Listener) Attach(userID string) {
	l.Detach()

	unsub := l.notifier.Subscribe(userID, l.store.ApplyRemote, func(err error) {
		l.mu.Lock()
		l.lastErr = fmt.Errorf("%w: %w", domain.ErrSubscriptionDropped, err)
		l.unsubscribe = nil
		l.mu.Unlock()
		l.logger.Warn("live updates dropped", slog.String("user_id", userID), slog.Any("error", err))
	})

	l.mu.Lock()
	l.userID = userID
	l.unsubscribe = unsub
	l.lastErr = nil
	l.mu.Unlock()

	l.logger.Debug("live updates attached", slog.String("user_id", userID))
}

// Detach unregisters the subscription. Calling it twice is fine.
func (l *Listener) Detach() {
	l.mu.Lock()
	unsub := l.unsubscribe
	userID := l.userID
	l.unsubscribe = nil
	l.userID = ""
	l.mu.Unlock()

	if unsub != nil {
		unsub()
		l.logger.Debug("live updates detached", slog.String("user_id", userID))
	}
}

func (l *Listener) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unsubscribe != nil
}

func (l *Listener) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
