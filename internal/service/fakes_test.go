package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threadvault/threadvault/config"
	"github.com/threadvault/threadvault/internal/domain"
	"github.com/threadvault/threadvault/internal/model"
	"github.com/threadvault/threadvault/internal/pkg/workerpool"
	"github.com/threadvault/threadvault/internal/repository"
	logger "github.com/threadvault/threadvault/middleware/log"
	"github.com/threadvault/threadvault/utils/snowflake"
)

// memStore is the shared in-memory backing for the fake repositories, so
// cascades behave like the real transactional store.
type memStore struct {
	mu            sync.Mutex
	messages      map[string]*model.Message
	history       []*model.MessageHistory
	notifications []*model.Notification

	threadQueries int

	// failErr, when set, makes every subsequent repository call fail.
	failErr error
	// beforeApplyEdit runs inside ApplyEdit before the version check,
	// to stage concurrent-edit races.
	beforeApplyEdit func()
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]*model.Message)}
}

func (s *memStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *memStore) bumpVersion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Version++
	}
}

func (s *memStore) notificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

func (s *memStore) snapshotNotifications() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Notification, len(s.notifications))
	for i, n := range s.notifications {
		c := *n
		out[i] = &c
	}
	return out
}

func (s *memStore) threadQueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadQueries
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	if m.ParentID != nil {
		p := *m.ParentID
		c.ParentID = &p
	}
	if m.LastEditedAt != nil {
		at := *m.LastEditedAt
		c.LastEditedAt = &at
	}
	return &c
}

type fakeMessageRepo struct {
	store *memStore
}

var _ repository.IMessageRepository = (*fakeMessageRepo)(nil)

func (r *fakeMessageRepo) Create(ctx context.Context, message *model.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return r.store.failErr
	}
	r.store.messages[message.ID] = cloneMessage(message)
	return nil
}

func (r *fakeMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, r.store.failErr
	}
	m, ok := r.store.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r *fakeMessageRepo) FindByThreadRoot(ctx context.Context, rootID string) ([]*model.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, r.store.failErr
	}
	r.store.threadQueries++

	var out []*model.Message
	for _, m := range r.store.messages {
		if m.RootID == rootID || m.ID == rootID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *fakeMessageRepo) ApplyEdit(ctx context.Context, id string, version int64, newBody string, history *model.MessageHistory, editedAt time.Time) (bool, error) {
	if r.store.beforeApplyEdit != nil {
		r.store.beforeApplyEdit()
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return false, r.store.failErr
	}
	m, ok := r.store.messages[id]
	if !ok || m.Version != version {
		return false, nil
	}
	m.Body = newBody
	m.Edited = true
	m.EditCount++
	m.LastEditedAt = &editedAt
	m.Version++

	c := *history
	r.store.history = append(r.store.history, &c)
	return true, nil
}

func (r *fakeMessageRepo) MarkAcknowledged(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return r.store.failErr
	}
	if m, ok := r.store.messages[id]; ok {
		m.Acknowledged = true
	}
	return nil
}

func (r *fakeMessageRepo) unreadLocked(recipientID string) []*model.Message {
	var out []*model.Message
	for _, m := range r.store.messages {
		if m.ReceiverID == recipientID && !m.Acknowledged {
			out = append(out, m)
		}
	}
	return out
}

func toEntry(m *model.Message) *repository.InboxEntry {
	return &repository.InboxEntry{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		ParentID:  m.ParentID,
		RootID:    m.RootID,
		Depth:     m.Depth,
		CreatedAt: m.CreatedAt,
	}
}

func sortNewestFirst(msgs []*model.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
}

func (r *fakeMessageRepo) ListUnread(ctx context.Context, recipientID string, limit int) ([]*repository.InboxEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, r.store.failErr
	}
	msgs := r.unreadLocked(recipientID)
	sortNewestFirst(msgs)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	entries := make([]*repository.InboxEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = toEntry(m)
	}
	return entries, nil
}

func (r *fakeMessageRepo) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return 0, r.store.failErr
	}
	return int64(len(r.unreadLocked(recipientID))), nil
}

func (r *fakeMessageRepo) HasUnread(ctx context.Context, recipientID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return false, r.store.failErr
	}
	return len(r.unreadLocked(recipientID)) > 0, nil
}

func (r *fakeMessageRepo) ListInbox(ctx context.Context, recipientID string, limit, offset int) ([]*repository.InboxEntry, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, 0, r.store.failErr
	}
	var msgs []*model.Message
	for _, m := range r.store.messages {
		if m.ReceiverID == recipientID {
			msgs = append(msgs, m)
		}
	}
	total := int64(len(msgs))
	sortNewestFirst(msgs)
	if offset >= len(msgs) {
		return nil, total, nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	entries := make([]*repository.InboxEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = toEntry(m)
	}
	return entries, total, nil
}

func (r *fakeMessageRepo) PurgeParticipant(ctx context.Context, identity string) (*repository.PurgeSummary, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, r.store.failErr
	}

	summary := &repository.PurgeSummary{}
	removed := make(map[string]bool)
	for id, m := range r.store.messages {
		if m.SenderID == identity || m.ReceiverID == identity {
			removed[id] = true
			delete(r.store.messages, id)
			summary.MessagesRemoved++
		}
	}

	var keptNotifications []*model.Notification
	for _, n := range r.store.notifications {
		if removed[n.MessageID] {
			summary.NotificationsRemoved++
			continue
		}
		keptNotifications = append(keptNotifications, n)
	}
	r.store.notifications = keptNotifications

	var keptHistory []*model.MessageHistory
	for _, h := range r.store.history {
		if removed[h.MessageID] {
			summary.HistoryRemoved++
			continue
		}
		if h.EditedBy != nil && *h.EditedBy == identity {
			h.EditedBy = nil
		}
		keptHistory = append(keptHistory, h)
	}
	r.store.history = keptHistory

	return summary, nil
}

type fakeHistoryRepo struct {
	store *memStore
}

var _ repository.IHistoryRepository = (*fakeHistoryRepo)(nil)

func (r *fakeHistoryRepo) Create(ctx context.Context, record *model.MessageHistory) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return r.store.failErr
	}
	c := *record
	r.store.history = append(r.store.history, &c)
	return nil
}

func (r *fakeHistoryRepo) FindByMessage(ctx context.Context, messageID string) ([]*model.MessageHistory, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, r.store.failErr
	}
	var out []*model.MessageHistory
	for _, h := range r.store.history {
		if h.MessageID == messageID {
			c := *h
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EditedAt.Before(out[j].EditedAt)
	})
	return out, nil
}

type fakeNotificationRepo struct {
	store *memStore
}

var _ repository.INotificationRepository = (*fakeNotificationRepo)(nil)

func (r *fakeNotificationRepo) Create(ctx context.Context, notification *model.Notification) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return r.store.failErr
	}
	c := *notification
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.store.notifications = append(r.store.notifications, &c)
	return nil
}

func (r *fakeNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, r.store.failErr
	}
	for _, n := range r.store.notifications {
		if n.ID == id {
			c := *n
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeNotificationRepo) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return nil, r.store.failErr
	}
	var out []*model.Notification
	for _, n := range r.store.notifications {
		if n.RecipientID != recipientID {
			continue
		}
		if unreadOnly && n.Acknowledged {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeNotificationRepo) MarkAcknowledged(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return r.store.failErr
	}
	for _, n := range r.store.notifications {
		if n.ID == id {
			n.Acknowledged = true
		}
	}
	return nil
}

func (r *fakeNotificationRepo) ExistsForEvent(ctx context.Context, recipientID, messageID string, kind model.NotificationKind) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failErr != nil {
		return false, r.store.failErr
	}
	for _, n := range r.store.notifications {
		if n.RecipientID == recipientID && n.MessageID == messageID && n.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

// fakeCache is a map-backed cache.Cache. Patterns ending in "*" match by
// prefix, the only glob shape the services use.
type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, patterns ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			for key := range c.data {
				if strings.HasPrefix(key, prefix) {
					delete(c.data, key)
				}
			}
			continue
		}
		delete(c.data, pattern)
	}
	return nil
}

func (c *fakeCache) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type testEnv struct {
	store    *memStore
	cache    *fakeCache
	svc      IMessageService
	notifSvc INotificationService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithCfg(t, config.MessagingConfig{
		MaxBodyLength:   5000,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	})
}

func newTestEnvWithCfg(t *testing.T, cfg config.MessagingConfig) *testEnv {
	t.Helper()

	store := newMemStore()
	fc := newFakeCache()
	log := logger.NewNop()

	pool := workerpool.New(2, 256, log)
	pool.Start()
	t.Cleanup(pool.Stop)

	notificationRepo := &fakeNotificationRepo{store: store}
	notifier := NewNotifier(notificationRepo, pool, nil, log)

	gen, err := snowflake.NewGenerator(snowflake.Config{WorkerID: 1})
	require.NoError(t, err)

	svc := NewMessageService(
		&fakeMessageRepo{store: store},
		&fakeHistoryRepo{store: store},
		notifier,
		fc,
		gen,
		cfg,
		time.Minute,
		log,
	)

	return &testEnv{
		store:    store,
		cache:    fc,
		svc:      svc,
		notifSvc: NewNotificationService(notificationRepo),
	}
}

// waitNotifications blocks until the fan-out workers have delivered at
// least n notifications.
func (e *testEnv) waitNotifications(t *testing.T, n int) []*model.Notification {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.store.notificationCount() >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d notifications, have %d", n, e.store.notificationCount())
	return e.store.snapshotNotifications()
}
