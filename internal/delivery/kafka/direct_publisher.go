package kafka

import (
	"context"

	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/notify"
	"github.com/azizikri/offer-feed/internal/usecase"
)

// DirectPublisher skips the broker and emits into the in-process notifier.
// It serves single-instance deployments with EVENT_DRIVEN_ENABLED=false.
type DirectPublisher struct {
	notifier notify.ChangeNotifier[domain.ChangeEvent]
}

func NewDirectPublisher(notifier notify.ChangeNotifier[domain.ChangeEvent]) usecase.ChangePublisher {
	return &DirectPublisher{notifier: notifier}
}

func (p *DirectPublisher) Publish(_ context.Context, evt domain.ChangeEvent) error {
	p.notifier.Emit(evt.UserID, evt)
	return nil
}
