package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"photo-talk/server/internal/api"
	"photo-talk/server/internal/auth"
	"photo-talk/server/internal/commentstream"
	"photo-talk/server/internal/model"
	"photo-talk/server/internal/poststore"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// newTestStack 起一个完整的内存版服务端，返回指向它的客户端。
func newTestStack(t *testing.T) (*Client, *auth.MemoryProvider, commentstream.Backend) {
	t.Helper()

	posts := poststore.NewInMemoryStore()
	posts.Seed([]model.Post{
		{ID: "p1", Title: "First", Description: "first post", LikeCount: 4},
	})

	comments := commentstream.NewInMemoryBackend(time.Now)
	issuer := auth.NewTokenIssuer([]byte("test-secret"), time.Minute, time.Now)
	provider := auth.NewMemoryProvider(issuer)

	srv := api.NewServer(posts, comments, issuer, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	c := New(ts.URL)
	c.Token = provider.FreshToken
	return c, provider, comments
}

// TestFetchPost 验证单帖拉取与 404 到 ErrNotFound 的映射。
func TestFetchPost(t *testing.T) {
	c, _, _ := newTestStack(t)

	post, err := c.FetchPost(context.Background(), "p1")
	if err != nil {
		t.Fatalf("fetch post: %v", err)
	}
	if post.ID != "p1" || post.LikeCount != 4 {
		t.Fatalf("post = %+v, want p1 with like_count 4", post)
	}

	if _, err := c.FetchPost(context.Background(), "missing"); !errors.Is(err, poststore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestListPosts 验证全量集合拉取。
func TestListPosts(t *testing.T) {
	c, _, _ := newTestStack(t)

	posts, err := c.ListPosts(context.Background())
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p1" {
		t.Fatalf("posts = %+v, want [p1]", posts)
	}
}

// TestLikePost 验证带令牌点赞返回更新后的帖子，无效令牌则失败。
func TestLikePost(t *testing.T) {
	c, provider, _ := newTestStack(t)
	provider.SignIn(auth.Identity{UserID: "u1", DisplayName: "alice"})

	token, err := provider.FreshToken(context.Background())
	if err != nil {
		t.Fatalf("fresh token: %v", err)
	}
	post, err := c.LikePost(context.Background(), "p1", token)
	if err != nil {
		t.Fatalf("like post: %v", err)
	}
	if post.LikeCount != 5 {
		t.Fatalf("like_count = %d, want 5", post.LikeCount)
	}

	if _, err := c.LikePost(context.Background(), "p1", "bogus"); err == nil {
		t.Fatalf("like with bogus token should fail")
	}
}

// TestAppendRequiresSignIn 验证未登录时评论追加直接失败，不发请求身份。
func TestAppendRequiresSignIn(t *testing.T) {
	c, _, _ := newTestStack(t)

	_, err := c.Append(context.Background(), "p1", &model.Comment{Text: "hi"})
	if !errors.Is(err, auth.ErrSignedOut) {
		t.Fatalf("err = %v, want ErrSignedOut", err)
	}
}

// TestSubscribeReceivesSnapshots 验证端到端评论流：
// 场景：订阅后先收到空快照；通过客户端追加评论后收到包含该评论的全量快照，
// 且作者身份来自令牌。
func TestSubscribeReceivesSnapshots(t *testing.T) {
	c, provider, _ := newTestStack(t)
	provider.SignIn(auth.Identity{UserID: "u1", DisplayName: "alice"})

	var mu sync.Mutex
	var snapshots [][]model.Comment
	sub, err := c.Subscribe("p1",
		func(s []model.Comment) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		},
		func(err error) { t.Errorf("unexpected stream error: %v", err) },
	)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) >= 1
	}, "initial snapshot")

	if _, err := c.Append(context.Background(), "p1", &model.Comment{Text: "great photo"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := snapshots[len(snapshots)-1]
		return len(last) == 1
	}, "snapshot with appended comment")

	mu.Lock()
	last := snapshots[len(snapshots)-1]
	mu.Unlock()
	got := last[0]
	if got.Text != "great photo" || got.User != "alice" || got.UserID != "u1" {
		t.Fatalf("comment = %+v, want author from token", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at should be server-assigned")
	}
}

// TestSubscribeCloseStopsDelivery 验证 Close 之后不再有任何回调。
func TestSubscribeCloseStopsDelivery(t *testing.T) {
	c, provider, comments := newTestStack(t)
	provider.SignIn(auth.Identity{UserID: "u1", DisplayName: "alice"})

	var mu sync.Mutex
	count := 0
	sub, err := c.Subscribe("p1",
		func([]model.Comment) {
			mu.Lock()
			count++
			mu.Unlock()
		},
		func(error) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 1
	}, "initial snapshot")

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	mu.Lock()
	closedAt := count
	mu.Unlock()

	// 关闭后服务端再有变更也不应抵达
	if _, err := comments.Append(context.Background(), "p1",
		&model.Comment{Text: "late", User: "bob", UserID: "u2"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != closedAt {
		t.Fatalf("callbacks after Close: count went %d -> %d", closedAt, count)
	}
}

// waitFor 轮询等待条件成立，超时即失败。
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
