package livesync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"photo-talk/server/internal/auth"
	"photo-talk/server/internal/commentstream"
	"photo-talk/server/internal/model"
	"photo-talk/server/internal/poststore"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(testWriter{t}, "", 0)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// fastRetrier 返回不真正等待的 Retrier，便于测试重试路径。
func fastRetrier(t *testing.T) *Retrier {
	r := NewRetrier(3, time.Second, testLogger(t))
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

// fakeFetcher 是可控的 PostFetcher：gates 能让指定 ID 的拉取挂起，
// 模拟慢响应在被取代后才返回的场景。
type fakeFetcher struct {
	mu    sync.Mutex
	posts map[string]*model.Post
	errs  map[string]error
	gates map[string]chan struct{}
	calls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		posts: make(map[string]*model.Post),
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) FetchPost(_ context.Context, id string) (*model.Post, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[id]
	f.mu.Unlock()

	if gate != nil {
		// 刻意忽略 ctx：模拟"传输层无法真正中止、慢响应照样返回"。
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	p, ok := f.posts[id]
	if !ok {
		return nil, poststore.ErrNotFound
	}
	out := *p
	return &out, nil
}

// fakeStream 记录 Append 调用并允许测试手动推送快照/错误。
// pushAll/failAll 对已关闭的订阅也投递，模拟"关闭时已在途"的回调。
type fakeStream struct {
	mu        sync.Mutex
	appends   []model.Comment
	appendErr error
	subs      []*fakeSub
}

type fakeSub struct {
	stream   *fakeStream
	onUpdate func([]model.Comment)
	onError  func(error)
	closed   bool
}

func (s *fakeSub) Close() error {
	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()
	s.closed = true
	return nil
}

func newFakeStream() *fakeStream { return &fakeStream{} }

func (f *fakeStream) Append(_ context.Context, postID string, c *model.Comment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendErr != nil {
		return "", f.appendErr
	}
	stored := *c
	stored.PostID = postID
	f.appends = append(f.appends, stored)
	return fmt.Sprintf("c%d", len(f.appends)), nil
}

func (f *fakeStream) Subscribe(_ string, onUpdate func([]model.Comment), onError func(error)) (commentstream.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &fakeSub{stream: f, onUpdate: onUpdate, onError: onError}
	f.subs = append(f.subs, sub)
	return sub, nil
}

// push 向所有未关闭的订阅投递快照。
func (f *fakeStream) push(snapshot []model.Comment) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		f.mu.Lock()
		closed := s.closed
		f.mu.Unlock()
		if !closed {
			s.onUpdate(snapshot)
		}
	}
}

// pushAll 无视关闭状态投递快照：模拟在途推送赶在关闭之后到达。
func (f *fakeStream) pushAll(snapshot []model.Comment) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		s.onUpdate(snapshot)
	}
}

func (f *fakeStream) fail(err error) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		f.mu.Lock()
		closed := s.closed
		f.mu.Unlock()
		if !closed && s.onError != nil {
			s.onError(err)
		}
	}
}

func (f *fakeStream) openSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.subs {
		if !s.closed {
			n++
		}
	}
	return n
}

func (f *fakeStream) appended() []model.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Comment, len(f.appends))
	copy(out, f.appends)
	return out
}

// fakeLikes 记录点赞调用与所用令牌；failures 控制前几次失败。
type fakeLikes struct {
	mu       sync.Mutex
	calls    int
	tokens   []string
	failures int
	err      error
	result   func(id string) *model.Post
}

func (f *fakeLikes) LikePost(_ context.Context, id, token string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.tokens = append(f.tokens, token)
	if f.failures > 0 {
		f.failures--
		if f.err != nil {
			return nil, f.err
		}
		return nil, fmt.Errorf("like failed")
	}
	if f.result != nil {
		return f.result(id), nil
	}
	return &model.Post{ID: id, LikeCount: 1}, nil
}

func (f *fakeLikes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAuth 是可注入的认证提供方。
type fakeAuth struct {
	mu       sync.Mutex
	identity auth.Identity
	signedIn bool
	tokens   int
}

func (f *fakeAuth) CurrentIdentity() (auth.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity, f.signedIn
}

func (f *fakeAuth) FreshToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.signedIn {
		return "", auth.ErrSignedOut
	}
	f.tokens++
	return fmt.Sprintf("token-%d", f.tokens), nil
}

func (f *fakeAuth) tokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

// waitFor 轮询直到条件满足或超时；异步回调路径的测试同步点。
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
