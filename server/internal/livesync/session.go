package livesync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"photo-talk/server/internal/auth"
	"photo-talk/server/internal/commentstream"
	"photo-talk/server/internal/model"
	"photo-talk/server/internal/poststore"
)

// SessionController 把"一个帖子的权威快照 + 它的评论流"编排成一个活跃会话。
//
// 生命周期：Idle → Activate(id) 并发启动拉取与订阅 → Active(id)；
// 切换 ID 或 Deactivate 时，先取消在途拉取、关闭订阅、清空会话状态，
// 再建立新的一对（cancel-before-replace）。任一时刻最多只有一个在途拉取
// 和一个活跃订阅。
//
// 陈旧抑制：每次激活/停用都会递增 epoch；拉取与订阅的回调在持锁状态下
// 复核 epoch，被新激活取代的结果一律静默丢弃，绝不覆盖新状态。
//
// 会话状态只由控制器自身在回调里修改，调用方通过 View() 拿副本。
type SessionController struct {
	fetcher PostFetcher
	stream  commentstream.Backend
	likes   LikeSender
	auth    auth.Provider
	retrier *Retrier
	logger  *log.Logger

	// OnChange 在每次会话状态变化后（锁外）被调用，驱动调用方的视图。
	OnChange func(View)
	// OnNotFound 在拉取确认帖子不存在时被调用；离开页面的导航由外部负责。
	// 其他读失败只写入 View.Err，不触发本回调。
	OnNotFound func(postID string)

	mu          sync.Mutex
	epoch       uint64
	active      bool
	postID      string
	post        *model.Post
	comments    []model.Comment
	errMsg      string
	cancelFetch context.CancelFunc
	sub         commentstream.Handle
}

func NewSessionController(
	fetcher PostFetcher,
	stream commentstream.Backend,
	likes LikeSender,
	provider auth.Provider,
	retrier *Retrier,
	logger *log.Logger,
) *SessionController {
	if retrier == nil {
		retrier = NewRetrier(defaultMaxAttempts, defaultRetryDelay, logger)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SessionController{
		fetcher: fetcher,
		stream:  stream,
		likes:   likes,
		auth:    provider,
		retrier: retrier,
		logger:  logger,
	}
}

// Activate 切换会话到给定帖子：拆掉旧的拉取/订阅对，再并发启动新的一对。
// 重复激活当前正在观察的 ID 是 no-op。
func (s *SessionController) Activate(id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	if s.active && s.postID == id {
		s.mu.Unlock()
		return
	}
	oldCancel, oldSub := s.teardownLocked()
	s.active = true
	s.postID = id
	epoch := s.epoch

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	s.mu.Unlock()

	// 旧资源在锁外释放：订阅关闭会走到流后端，持锁关闭会和投递回调互锁。
	if oldCancel != nil {
		oldCancel()
	}
	if oldSub != nil {
		_ = oldSub.Close()
	}

	s.logger.Printf("[Session] activating post %s", id)

	go s.runFetch(ctx, epoch, id)

	sub, err := s.stream.Subscribe(id,
		func(snapshot []model.Comment) { s.applySnapshot(epoch, snapshot) },
		func(streamErr error) { s.applyStreamError(epoch, streamErr) },
	)

	s.mu.Lock()
	if epoch != s.epoch {
		// 订阅建立期间会话已被新激活取代，立刻归还句柄。
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		s.errMsg = fmt.Sprintf("failed to load comments: %v", err)
		view := s.viewLocked()
		s.mu.Unlock()
		s.notify(view)
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// Deactivate 取消在途拉取、关闭订阅并丢弃会话状态，回到 Idle。
// 调用方停止观察某个帖子时必须调用，避免泄漏的订阅继续改写已废弃的状态。
func (s *SessionController) Deactivate() {
	s.mu.Lock()
	cancel, sub := s.teardownLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Close()
	}
}

// teardownLocked 清空会话状态并递增 epoch，把待释放的资源交还给调用方在锁外处理。
func (s *SessionController) teardownLocked() (context.CancelFunc, commentstream.Handle) {
	cancel := s.cancelFetch
	sub := s.sub

	s.epoch++
	s.active = false
	s.postID = ""
	s.post = nil
	s.comments = nil
	s.errMsg = ""
	s.cancelFetch = nil
	s.sub = nil

	return cancel, sub
}

// runFetch 执行帖子快照拉取并在回调点复核 epoch。
func (s *SessionController) runFetch(ctx context.Context, epoch uint64, id string) {
	post, err := s.fetcher.FetchPost(ctx, id)

	s.mu.Lock()
	if epoch != s.epoch {
		// 被更新的激活取代：结果直接丢弃（陈旧抑制）。
		s.mu.Unlock()
		return
	}

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// 取消是静默 no-op，不写状态也不报错。
			s.mu.Unlock()
			return
		}
		if errors.Is(err, poststore.ErrNotFound) {
			s.errMsg = "post not found"
			view := s.viewLocked()
			notFound := s.OnNotFound
			s.mu.Unlock()
			s.logger.Printf("[Session] post %s not found", id)
			if notFound != nil {
				notFound(id)
			}
			s.notify(view)
			return
		}
		// 读失败只上报一次，不重试；已加载的状态保留（有旧数据好过白屏）。
		s.errMsg = fmt.Sprintf("failed to fetch post: %v", err)
		view := s.viewLocked()
		s.mu.Unlock()
		s.logger.Printf("[Session] fetch post %s failed: %v", id, err)
		s.notify(view)
		return
	}

	s.post = post
	view := s.viewLocked()
	s.mu.Unlock()
	s.notify(view)
}

// applySnapshot 无条件应用最新收到的快照（last-snapshot-wins），
// 应用前归一化到排序不变量：按 CreatedAt 升序、同刻按 ID、去重。
func (s *SessionController) applySnapshot(epoch uint64, snapshot []model.Comment) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.comments = normalizeComments(snapshot)
	view := s.viewLocked()
	s.mu.Unlock()
	s.notify(view)
}

// applyStreamError 记录流错误；已物化的评论列表保持不变（last-known-good）。
func (s *SessionController) applyStreamError(epoch uint64, err error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.errMsg = fmt.Sprintf("failed to load comments: %v", err)
	view := s.viewLocked()
	s.mu.Unlock()
	s.logger.Printf("[Session] comment stream error: %v", err)
	s.notify(view)
}

// SubmitComment 向当前帖子的评论流追加一条评论。
// 仅在 Active、已登录且文本非空时生效，否则静默 no-op。
// 不做本地乐观插入：新评论等下一份快照回放时才可见，
// 稍多一点感知延迟，换来零合并冲突。
func (s *SessionController) SubmitComment(ctx context.Context, text string) {
	s.mu.Lock()
	if !s.active || text == "" {
		s.mu.Unlock()
		return
	}
	identity, ok := s.auth.CurrentIdentity()
	if !ok {
		s.mu.Unlock()
		return
	}
	postID := s.postID
	epoch := s.epoch
	s.mu.Unlock()

	name := identity.DisplayName
	if name == "" {
		name = model.AnonymousUser
	}

	// CreatedAt 留零值：timestamp-pending，由后端补齐。
	comment := &model.Comment{
		PostID: postID,
		Text:   text,
		User:   name,
		UserID: identity.UserID,
	}
	if _, err := s.stream.Append(ctx, postID, comment); err != nil {
		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		s.errMsg = fmt.Sprintf("failed to add comment: %v", err)
		view := s.viewLocked()
		s.mu.Unlock()
		s.logger.Printf("[Session] add comment to %s failed: %v", postID, err)
		s.notify(view)
	}
}

// Like 给当前帖子点一次赞，经由 Retrier 执行。
// 仅在 Active 且已登录时生效，否则静默 no-op（不发任何网络请求）。
// 每次尝试都重新获取令牌（令牌是短期的，不缓存）。
// 成功时用响应里的帖子整体替换本地状态；重试耗尽时写入带尝试次数的
// 错误信息，帖子保持不变。
func (s *SessionController) Like(ctx context.Context) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	if _, ok := s.auth.CurrentIdentity(); !ok {
		s.mu.Unlock()
		return
	}
	postID := s.postID
	epoch := s.epoch
	s.mu.Unlock()

	var updated *model.Post
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		token, err := s.auth.FreshToken(ctx)
		if err != nil {
			return err
		}
		p, err := s.likes.LikePost(ctx, postID, token)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if err != nil {
		var exhausted *ExhaustedError
		switch {
		case errors.As(err, &exhausted):
			s.errMsg = fmt.Sprintf("failed to like post after %d attempts: %v", exhausted.Attempts, exhausted.Err)
		case ctx.Err() != nil:
			// 协作取消：静默。
			s.mu.Unlock()
			return
		default:
			s.errMsg = fmt.Sprintf("failed to like post: %v", err)
		}
		view := s.viewLocked()
		s.mu.Unlock()
		s.logger.Printf("[Session] like post %s failed: %v", postID, err)
		s.notify(view)
		return
	}

	s.post = updated
	view := s.viewLocked()
	s.mu.Unlock()
	s.notify(view)
}

// View 返回当前会话状态的副本快照。
func (s *SessionController) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *SessionController) viewLocked() View {
	view := View{
		PostID: s.postID,
		Err:    s.errMsg,
	}
	if s.post != nil {
		p := *s.post
		view.Post = &p
	}
	if len(s.comments) > 0 {
		view.Comments = make([]model.Comment, len(s.comments))
		copy(view.Comments, s.comments)
	}
	return view
}

func (s *SessionController) notify(view View) {
	if s.OnChange != nil {
		s.OnChange(view)
	}
}

// normalizeComments 把任意快照归一化到不变量：按 CreatedAt 升序、
// 同刻按 ID 保证确定性、ID 去重（保留首个）。
func normalizeComments(in []model.Comment) []model.Comment {
	out := make([]model.Comment, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	seen := make(map[string]struct{}, len(out))
	deduped := out[:0]
	for _, c := range out {
		if c.ID != "" {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
		}
		deduped = append(deduped, c)
	}
	return deduped
}
