package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadvault/threadvault/config"
	"github.com/threadvault/threadvault/internal/domain"
	"github.com/threadvault/threadvault/internal/model"
	"github.com/threadvault/threadvault/internal/pkg/cache"
	"github.com/threadvault/threadvault/internal/repository"
	logger "github.com/threadvault/threadvault/middleware/log"
	"github.com/threadvault/threadvault/utils/snowflake"
)

// IMessageService is the surface the excluded request-handling layer
// calls into. Callers arrive with a pre-validated identity; the service
// performs only ownership and participation checks.
type IMessageService interface {
	SendMessage(ctx context.Context, senderID, receiverID, body string, parentID *string) (*model.Message, error)
	EditMessage(ctx context.Context, messageID, editorID, newBody, reason string) (*model.Message, error)
	AcknowledgeMessage(ctx context.Context, messageID, recipientID string) error
	GetThread(ctx context.Context, rootID string) (*ThreadNode, error)
	GetThreadStats(ctx context.Context, rootID string) (*ThreadStats, error)
	GetInbox(ctx context.Context, recipientID string, page, pageSize int) ([]*repository.InboxEntry, int64, error)
	ListUnread(ctx context.Context, recipientID string, limit int) ([]*repository.InboxEntry, error)
	GetUnreadCount(ctx context.Context, recipientID string) (int64, error)
	HasUnread(ctx context.Context, recipientID string) (bool, error)
	GetEditHistory(ctx context.Context, messageID string) ([]*model.MessageHistory, error)
	DeleteAccountData(ctx context.Context, identity string) (*repository.PurgeSummary, error)
}

// InboxPage is the cached shape of one inbox listing page.
type InboxPage struct {
	Entries []*repository.InboxEntry `json:"entries"`
	Total   int64                    `json:"total"`
}

type MessageService struct {
	messageRepo  repository.IMessageRepository
	historyRepo  repository.IHistoryRepository
	notifier     *Notifier
	cache        cache.Cache
	snowflakeGen *snowflake.Generator
	cfg          config.MessagingConfig
	cacheTTL     time.Duration
	log          *logger.Logger
}

func NewMessageService(
	messageRepo repository.IMessageRepository,
	historyRepo repository.IHistoryRepository,
	notifier *Notifier,
	readCache cache.Cache,
	snowflakeGen *snowflake.Generator,
	cfg config.MessagingConfig,
	cacheTTL time.Duration,
	log *logger.Logger,
) IMessageService {
	return &MessageService{
		messageRepo:  messageRepo,
		historyRepo:  historyRepo,
		notifier:     notifier,
		cache:        readCache,
		snowflakeGen: snowflakeGen,
		cfg:          cfg,
		cacheTTL:     cacheTTL,
		log:          log,
	}
}

// mapStorageErr classifies repository errors into the domain taxonomy.
// Domain sentinels pass through untouched; a blown deadline becomes
// TimedOut and anything else on the storage path is Unavailable.
// Caller-initiated cancellation is not a backend failure, so it also
// passes through untagged.
func mapStorageErr(err error) error {
	if err == nil ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(domain.ErrTimedOut, err)
	}
	return errors.Join(domain.ErrUnavailable, err)
}

func (s *MessageService) validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("empty message body: %w", domain.ErrInvalidArgument)
	}
	if s.cfg.MaxBodyLength > 0 && len(body) > s.cfg.MaxBodyLength {
		return fmt.Errorf("message body exceeds %d bytes: %w", s.cfg.MaxBodyLength, domain.ErrInvalidArgument)
	}
	return nil
}

// SendMessage creates a message, computing thread depth and root from
// the parent in the same write. After the commit it dispatches the
// created event and drops the cache entries the write made stale.
func (s *MessageService) SendMessage(ctx context.Context, senderID, receiverID, body string, parentID *string) (*model.Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, fmt.Errorf("sender and receiver are required: %w", domain.ErrInvalidArgument)
	}
	if err := s.validateBody(body); err != nil {
		return nil, err
	}

	snowflakeID, err := s.snowflakeGen.NextID()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	messageID := strconv.FormatInt(snowflakeID, 10)

	rootID := messageID
	depth := 0
	if parentID != nil {
		parent, err := s.messageRepo.FindByID(ctx, *parentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("parent message %s: %w", *parentID, domain.ErrNotFound)
			}
			return nil, mapStorageErr(err)
		}
		rootID = parent.RootID
		depth = parent.Depth + 1
	}

	message := &model.Message{
		ID:         messageID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		ParentID:   parentID,
		RootID:     rootID,
		Depth:      depth,
		CreatedAt:  time.Now(),
	}

	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, mapStorageErr(err)
	}

	s.notifier.Dispatch(MessageEvent{
		ID:         uuid.New().String(),
		Kind:       EventMessageCreated,
		MessageID:  message.ID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		OccurredAt: time.Now(),
	})
	s.invalidate(ctx, cache.ThreadKey(rootID), cache.InboxPattern(receiverID), cache.InboxPattern(senderID))

	return message, nil
}

// EditMessage replaces the body of a message the editor sent. The old
// body is snapshotted into the audit log in the same transaction, so a
// successful edit always has exactly one history record.
func (s *MessageService) EditMessage(ctx context.Context, messageID, editorID, newBody, reason string) (*model.Message, error) {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, mapStorageErr(err)
	}

	if message.SenderID != editorID {
		return nil, fmt.Errorf("only the sender may edit a message: %w", domain.ErrForbidden)
	}
	if err := s.validateBody(newBody); err != nil {
		return nil, err
	}
	if newBody == message.Body {
		return nil, fmt.Errorf("no-op edit rejected: %w", domain.ErrInvalidArgument)
	}
	if s.cfg.MaxEditCount > 0 && message.EditCount >= s.cfg.MaxEditCount {
		return nil, fmt.Errorf("edit limit of %d reached: %w", s.cfg.MaxEditCount, domain.ErrForbidden)
	}

	now := time.Now()
	history := &model.MessageHistory{
		ID:        uuid.New().String(),
		MessageID: message.ID,
		OldBody:   message.Body,
		EditedBy:  &editorID,
		Reason:    reason,
		EditedAt:  now,
	}

	applied, err := s.messageRepo.ApplyEdit(ctx, message.ID, message.Version, newBody, history, now)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if !applied {
		return nil, fmt.Errorf("message %s changed concurrently: %w", messageID, domain.ErrConflict)
	}

	message.Body = newBody
	message.Edited = true
	message.EditCount++
	message.LastEditedAt = &now
	message.Version++

	s.notifier.Dispatch(MessageEvent{
		ID:         uuid.New().String(),
		Kind:       EventMessageEdited,
		MessageID:  message.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		OccurredAt: now,
	})
	s.invalidate(ctx, cache.ThreadKey(message.RootID), cache.InboxPattern(message.ReceiverID), cache.InboxPattern(message.SenderID))

	return message, nil
}

// AcknowledgeMessage marks a message read by its receiver. Re-acknowledging
// is a no-op, not an error. The unread queries read straight from storage,
// so the acknowledging recipient observes their own write immediately.
func (s *MessageService) AcknowledgeMessage(ctx context.Context, messageID, recipientID string) error {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return mapStorageErr(err)
	}
	if message.ReceiverID != recipientID {
		return fmt.Errorf("only the receiver may acknowledge a message: %w", domain.ErrForbidden)
	}
	if message.Acknowledged {
		return nil
	}

	if err := s.messageRepo.MarkAcknowledged(ctx, messageID); err != nil {
		return mapStorageErr(err)
	}

	s.invalidate(ctx, cache.ThreadKey(message.RootID), cache.InboxPattern(recipientID))
	return nil
}

// GetThread returns the full reply tree below rootID. The whole thread is
// fetched in one indexed query regardless of its size and assembled in
// memory, with the result cached under the thread key.
func (s *MessageService) GetThread(ctx context.Context, rootID string) (*ThreadNode, error) {
	key := cache.ThreadKey(rootID)
	if payload, ok := s.cacheGet(ctx, key); ok {
		var tree ThreadNode
		if err := json.Unmarshal([]byte(payload), &tree); err == nil {
			return &tree, nil
		}
		s.log.WarnContext(ctx, "discarding undecodable cache entry", zap.String("key", key))
	}

	messages, err := s.messageRepo.FindByThreadRoot(ctx, rootID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("thread %s: %w", rootID, domain.ErrNotFound)
	}

	tree := buildThreadTree(rootID, messages)
	if tree == nil {
		return nil, fmt.Errorf("thread root %s: %w", rootID, domain.ErrNotFound)
	}

	s.cacheSet(ctx, key, tree)
	return tree, nil
}

// GetThreadStats summarizes a thread from the same single batched fetch.
func (s *MessageService) GetThreadStats(ctx context.Context, rootID string) (*ThreadStats, error) {
	messages, err := s.messageRepo.FindByThreadRoot(ctx, rootID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("thread %s: %w", rootID, domain.ErrNotFound)
	}
	return statsForThread(rootID, messages), nil
}

// GetInbox lists a recipient's messages newest first, fetching only the
// columns an inbox row needs. Page size defaults to 20 and is capped.
func (s *MessageService) GetInbox(ctx context.Context, recipientID string, page, pageSize int) ([]*repository.InboxEntry, int64, error) {
	if page < 1 {
		return nil, 0, fmt.Errorf("page must be positive: %w", domain.ErrInvalidArgument)
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		return nil, 0, fmt.Errorf("page size exceeds %d: %w", s.cfg.MaxPageSize, domain.ErrInvalidArgument)
	}

	key := cache.InboxKey(recipientID, page, pageSize)
	if payload, ok := s.cacheGet(ctx, key); ok {
		var cached InboxPage
		if err := json.Unmarshal([]byte(payload), &cached); err == nil {
			return cached.Entries, cached.Total, nil
		}
		s.log.WarnContext(ctx, "discarding undecodable cache entry", zap.String("key", key))
	}

	entries, total, err := s.messageRepo.ListInbox(ctx, recipientID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, mapStorageErr(err)
	}

	s.cacheSet(ctx, key, &InboxPage{Entries: entries, Total: total})
	return entries, total, nil
}

// ListUnread lists unacknowledged messages for the recipient, newest
// first. Served straight from storage for read-your-writes consistency.
func (s *MessageService) ListUnread(ctx context.Context, recipientID string, limit int) ([]*repository.InboxEntry, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	entries, err := s.messageRepo.ListUnread(ctx, recipientID, limit)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return entries, nil
}

func (s *MessageService) GetUnreadCount(ctx context.Context, recipientID string) (int64, error) {
	count, err := s.messageRepo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, mapStorageErr(err)
	}
	return count, nil
}

// HasUnread answers "anything new?" with an existence probe rather than
// a count.
func (s *MessageService) HasUnread(ctx context.Context, recipientID string) (bool, error) {
	has, err := s.messageRepo.HasUnread(ctx, recipientID)
	if err != nil {
		return false, mapStorageErr(err)
	}
	return has, nil
}

// GetEditHistory returns the audit trail for a message, oldest first.
func (s *MessageService) GetEditHistory(ctx context.Context, messageID string) ([]*model.MessageHistory, error) {
	if _, err := s.messageRepo.FindByID(ctx, messageID); err != nil {
		return nil, mapStorageErr(err)
	}
	records, err := s.historyRepo.FindByMessage(ctx, messageID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return records, nil
}

// DeleteAccountData removes everything the identity sent or received,
// with notifications and history cascading alongside their messages.
// The derived cache is wiped wholesale; a purge is rare enough that
// precision is not worth tracking every touched thread.
func (s *MessageService) DeleteAccountData(ctx context.Context, identity string) (*repository.PurgeSummary, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is required: %w", domain.ErrInvalidArgument)
	}
	summary, err := s.messageRepo.PurgeParticipant(ctx, identity)
	if err != nil {
		return nil, mapStorageErr(err)
	}

	s.invalidate(ctx, "thread:*", "inbox:*")

	s.log.InfoContext(ctx, "account data purged",
		zap.String("identity", identity),
		zap.Int64("messages", summary.MessagesRemoved),
		zap.Int64("notifications", summary.NotificationsRemoved),
		zap.Int64("history", summary.HistoryRemoved))
	return summary, nil
}

// cacheGet reads through the cache, treating any backend failure as a miss.
func (s *MessageService) cacheGet(ctx context.Context, key string) (string, bool) {
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.WarnContext(ctx, "cache read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return payload, ok
}

// cacheSet repopulates the cache on a miss. Failures are logged, never
// surfaced; the next read just misses again.
func (s *MessageService) cacheSet(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.log.WarnContext(ctx, "cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, string(payload), s.cacheTTL); err != nil {
		s.log.WarnContext(ctx, "cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate drops the given cache keys or patterns. A failed
// invalidation is logged and absorbed; the TTL backstop bounds how long
// a stale entry can outlive it.
func (s *MessageService) invalidate(ctx context.Context, patterns ...string) {
	if err := s.cache.Invalidate(ctx, patterns...); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed", zap.Strings("patterns", patterns), zap.Error(err))
	}
}
