package poststore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"photo-talk/server/internal/model"
)

// InMemoryStore 是一个基于内存的帖子存储实现。
type InMemoryStore struct {
	mu    sync.RWMutex
	posts map[string]*model.Post
	order []string
}

func NewInMemoryStore() *InMemoryStore {
	// 第一阶段用内存 store：实现简单、调试方便。
	// 注意：重启即丢数据；多实例部署需要替换为 Redis/DB。
	return &InMemoryStore{posts: make(map[string]*model.Post)}
}

// Seed 批量写入初始帖子（启动时从种子文件加载）。
func (s *InMemoryStore) Seed(posts []model.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range posts {
		p := posts[i]
		if _, ok := s.posts[p.ID]; ok {
			continue
		}
		s.posts[p.ID] = &p
		s.order = append(s.order, p.ID)
	}
}

// List 返回全量帖子（按写入顺序）。
// 兼容性：返回副本切片，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context) ([]model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Post, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.posts[id])
	}
	return out, nil
}

// Get 按 ID 返回帖子副本；不存在时返回 ErrNotFound。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}

	out := *p
	return &out, nil
}

// Create 写入一条新帖子；ID 为空时自动分配。
func (s *InMemoryStore) Create(_ context.Context, p *model.Post) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	if stored.ID == "" {
		stored.ID = newPostID()
	}
	if _, ok := s.posts[stored.ID]; ok {
		return nil, fmt.Errorf("post %s already exists", stored.ID)
	}

	s.posts[stored.ID] = &stored
	s.order = append(s.order, stored.ID)

	out := stored
	return &out, nil
}

// IncrementLike 将点赞数 +1 并返回更新后的帖子副本。
func (s *InMemoryStore) IncrementLike(_ context.Context, id string) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}

	p.LikeCount++
	out := *p
	return &out, nil
}

func newPostID() string {
	return fmt.Sprintf("P_%d", time.Now().UnixNano())
}
