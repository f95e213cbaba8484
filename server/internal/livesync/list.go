package livesync

import (
	"context"
	"fmt"
	"log"
	"sync"

	"photo-talk/server/internal/auth"
	"photo-talk/server/internal/model"
)

// ListSyncController 是 SessionController 的简化版，服务多帖列表页：
// 一次性拉取集合快照（不挂订阅），单帖点赞走同一套 Retrier，
// 成功后整体重拉集合，用服务端的点赞数覆盖本地——多一次往返，
// 换来与并发点赞会话之间的强一致（本地合并会漂移）。
type ListSyncController struct {
	lister  PostLister
	likes   LikeSender
	auth    auth.Provider
	retrier *Retrier
	logger  *log.Logger

	mu     sync.Mutex
	posts  []model.Post
	errMsg string
}

func NewListSyncController(
	lister PostLister,
	likes LikeSender,
	provider auth.Provider,
	retrier *Retrier,
	logger *log.Logger,
) *ListSyncController {
	if retrier == nil {
		retrier = NewRetrier(defaultMaxAttempts, defaultRetryDelay, logger)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ListSyncController{
		lister:  lister,
		likes:   likes,
		auth:    provider,
		retrier: retrier,
		logger:  logger,
	}
}

// Refresh 重新拉取全量帖子集合。读失败只记录错误信息，
// 保留上一次成功的列表（有旧数据好过白屏），并返回该错误。
func (l *ListSyncController) Refresh(ctx context.Context) ([]model.Post, error) {
	posts, err := l.lister.ListPosts(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			l.errMsg = fmt.Sprintf("failed to fetch posts: %v", err)
			l.logger.Printf("[ListSync] refresh failed: %v", err)
		}
		return l.postsLocked(), err
	}

	l.posts = posts
	l.errMsg = ""
	return l.postsLocked(), nil
}

// LikeOne 给指定帖子点一次赞。未登录时静默 no-op。
// 成功后不做本地合并，直接整体 Refresh 取服务端事实。
func (l *ListSyncController) LikeOne(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, ok := l.auth.CurrentIdentity(); !ok {
		return
	}

	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		token, err := l.auth.FreshToken(ctx)
		if err != nil {
			return err
		}
		_, err = l.likes.LikePost(ctx, id, token)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.mu.Lock()
		l.errMsg = err.Error()
		l.mu.Unlock()
		l.logger.Printf("[ListSync] like post %s failed: %v", id, err)
		return
	}

	_, _ = l.Refresh(ctx)
}

// Posts 返回当前列表的副本。
func (l *ListSyncController) Posts() []model.Post {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.postsLocked()
}

// Err 返回最近一次失败的展示信息；成功的 Refresh 会清掉它。
func (l *ListSyncController) Err() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errMsg
}

func (l *ListSyncController) postsLocked() []model.Post {
	out := make([]model.Post, len(l.posts))
	copy(out, l.posts)
	return out
}
