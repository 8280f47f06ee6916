package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadvault/threadvault/internal/model"
	"github.com/threadvault/threadvault/internal/pkg/dedupe"
	"github.com/threadvault/threadvault/internal/pkg/workerpool"
	"github.com/threadvault/threadvault/internal/repository"
	logger "github.com/threadvault/threadvault/middleware/log"
)

const deliverTimeout = 5 * time.Second

// EventPublisher mirrors events to an external stream. Publishing is
// best-effort; a nil publisher disables it.
type EventPublisher interface {
	Publish(key string, payload any) error
}

// Notifier is the fan-out engine. It turns message lifecycle events into
// notification rows on dedicated workers, sharded by recipient so one
// recipient's notifications land in event order.
//
// Delivery is best-effort and at-least-once: a failed write is retried
// once and then logged, and a failure never propagates back to the
// message write that triggered it.
type Notifier struct {
	notificationRepo repository.INotificationRepository
	pool             *workerpool.Pool
	seen             *dedupe.Filter
	publisher        EventPublisher
	log              *logger.Logger
}

func NewNotifier(notificationRepo repository.INotificationRepository, pool *workerpool.Pool, publisher EventPublisher, log *logger.Logger) *Notifier {
	return &Notifier{
		notificationRepo: notificationRepo,
		pool:             pool,
		seen:             dedupe.New(1<<18, 4),
		publisher:        publisher,
		log:              log,
	}
}

// Dispatch queues the event for asynchronous delivery. Self-addressed
// messages produce no notification.
func (n *Notifier) Dispatch(evt MessageEvent) {
	if evt.ReceiverID == evt.SenderID {
		return
	}
	n.pool.SubmitKey(evt.ReceiverID, func() {
		n.deliver(evt, 0)
	})
}

func (n *Notifier) deliver(evt MessageEvent, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	// Retries skip the dedupe check: the first attempt already marked the
	// event seen, and a duplicate beats a silently dropped delivery.
	if attempt == 0 && n.duplicate(ctx, evt) {
		return
	}

	notification := &model.Notification{
		ID:          uuid.New().String(),
		RecipientID: evt.ReceiverID,
		MessageID:   evt.MessageID,
		Kind:        kindForEvent(evt.Kind),
		Text:        textForEvent(evt),
	}

	if err := n.notificationRepo.Create(ctx, notification); err != nil {
		if attempt == 0 {
			n.log.Warn("notification write failed, retrying",
				zap.String("event_id", evt.ID),
				zap.String("recipient", evt.ReceiverID),
				zap.Error(err))
			time.AfterFunc(100*time.Millisecond, func() {
				n.pool.SubmitKey(evt.ReceiverID, func() {
					n.deliver(evt, attempt+1)
				})
			})
			return
		}
		n.log.Error("notification dropped after retry",
			zap.String("event_id", evt.ID),
			zap.String("recipient", evt.ReceiverID),
			zap.Error(err))
		return
	}

	if n.publisher != nil {
		if err := n.publisher.Publish(evt.ReceiverID, evt); err != nil {
			n.log.Warn("event stream publish failed",
				zap.String("event_id", evt.ID),
				zap.Error(err))
		}
	}
}

// duplicate suppresses fan-out that already ran for this event. The bloom
// filter can report false positives, so it is only ever a prefilter: for
// created events the exact storage probe has the final word, and edit
// events, which have no per-event row to probe, deliver on a filter
// positive anyway. A duplicate notification beats a dropped one.
func (n *Notifier) duplicate(ctx context.Context, evt MessageEvent) bool {
	if !n.seen.TestAndSet(evt.ID) {
		return false
	}
	if evt.Kind != EventMessageCreated {
		return false
	}
	exists, err := n.notificationRepo.ExistsForEvent(ctx, evt.ReceiverID, evt.MessageID, model.NotificationNewMessage)
	if err != nil {
		n.log.Warn("dedupe probe failed, delivering anyway", zap.String("event_id", evt.ID), zap.Error(err))
		return false
	}
	return exists
}

func kindForEvent(kind EventKind) model.NotificationKind {
	if kind == EventMessageEdited {
		return model.NotificationMessageEdited
	}
	return model.NotificationNewMessage
}

func textForEvent(evt MessageEvent) string {
	if evt.Kind == EventMessageEdited {
		return fmt.Sprintf("%s edited a message they sent to you", evt.SenderID)
	}
	return fmt.Sprintf("You have a new message from %s", evt.SenderID)
}
