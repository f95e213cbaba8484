package commentstream

import (
	"context"
	"sort"
	"sync"
	"time"

	"photo-talk/server/internal/model"

	"github.com/google/uuid"
)

// InMemoryBackend 是一个基于内存的评论流后端实现。
type InMemoryBackend struct {
	mu       sync.Mutex
	comments map[string][]model.Comment
	lastTS   map[string]time.Time
	subs     map[string]map[int64]*subscription
	nextSub  int64
	now      func() time.Time
}

func NewInMemoryBackend(now func() time.Time) *InMemoryBackend {
	// 第一阶段用内存实现：实现简单、调试方便。
	// 注意：重启即丢数据；多实例部署需要替换为共享的流式存储。
	if now == nil {
		now = time.Now
	}
	return &InMemoryBackend{
		comments: make(map[string][]model.Comment),
		lastTS:   make(map[string]time.Time),
		subs:     make(map[string]map[int64]*subscription),
		now:      now,
	}
}

// Append 追加评论并向该帖子的全部订阅者推送新的全量快照。
// 副作用：为空 ID 分配 uuid；为零值 CreatedAt 补齐服务端时间戳，
// 并保证同一帖子内时间戳严格递增（回放与排序的确定性依赖这一点）。
func (b *InMemoryBackend) Append(_ context.Context, postID string, c *model.Comment) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := *c
	stored.PostID = postID
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.User == "" {
		stored.User = model.AnonymousUser
	}
	if stored.CreatedAt.IsZero() {
		ts := b.now()
		if last := b.lastTS[postID]; !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
		stored.CreatedAt = ts
	}
	if stored.CreatedAt.After(b.lastTS[postID]) {
		b.lastTS[postID] = stored.CreatedAt
	}

	list := append(b.comments[postID], stored)
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	b.comments[postID] = list

	// 在锁内串行投递，保证所有订阅者看到同一快照序列。
	snapshot := b.snapshotLocked(postID)
	for _, sub := range b.subs[postID] {
		sub.deliver(snapshot)
	}

	return stored.ID, nil
}

// Subscribe 注册订阅者并立即投递一份当前快照。
func (b *InMemoryBackend) Subscribe(postID string, onUpdate func([]model.Comment), onError func(error)) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := &subscription{
		backend:  b,
		postID:   postID,
		id:       b.nextSub,
		onUpdate: onUpdate,
		onError:  onError,
	}

	if b.subs[postID] == nil {
		b.subs[postID] = make(map[int64]*subscription)
	}
	b.subs[postID][sub.id] = sub

	sub.deliver(b.snapshotLocked(postID))
	return sub, nil
}

// List 返回某个帖子的全部评论（按 CreatedAt 升序，同刻按 ID）。
// 兼容性：返回切片副本，避免调用方修改内部数据。
func (b *InMemoryBackend) List(_ context.Context, postID string) ([]model.Comment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(postID), nil
}

func (b *InMemoryBackend) snapshotLocked(postID string) []model.Comment {
	list := b.comments[postID]
	out := make([]model.Comment, len(list))
	copy(out, list)
	return out
}

func (b *InMemoryBackend) unsubscribe(postID string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[postID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subs, postID)
		}
	}
}

// subscription 是 InMemoryBackend 的订阅句柄。
// 锁序：backend.mu 先于 subscription.mu（投递与关闭都遵守）。
type subscription struct {
	backend *InMemoryBackend
	postID  string
	id      int64

	mu     sync.Mutex
	closed bool

	onUpdate func([]model.Comment)
	onError  func(error)
}

// deliver 在订阅自身的锁内调用 onUpdate：Close 拿到同一把锁之后，
// 不可能再有新的回调被观察到。
func (s *subscription) deliver(snapshot []model.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.onUpdate == nil {
		return
	}
	s.onUpdate(snapshot)
}

// fail 投递一次流错误；已关闭的订阅静默忽略。
func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.onError == nil {
		return
	}
	s.onError(err)
}

// Close 幂等地关闭订阅并从后端注销。
func (s *subscription) Close() error {
	s.backend.unsubscribe(s.postID, s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
