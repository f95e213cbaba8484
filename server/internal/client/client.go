package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"photo-talk/server/internal/model"
	"photo-talk/server/internal/poststore"
)

// Client 是帖子服务的 HTTP 客户端，实现 livesync 的协作者契约
// （拉取、列表、点赞、评论追加；流订阅见 stream.go）。
type Client struct {
	HTTPClient *http.Client
	BaseURL    string // 例如 http://localhost:8080

	// Token 为评论追加提供短期令牌（通常接 auth.Provider.FreshToken）。
	// 点赞令牌不走这里：点赞由 Retrier 每次尝试单独取新令牌。
	Token func(ctx context.Context) (string, error)
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// FetchPost 拉取单个帖子的权威快照。
// 404 映射为 poststore.ErrNotFound；ctx 取消原样透传（调用方静默处理）。
func (c *Client) FetchPost(ctx context.Context, id string) (*model.Post, error) {
	var post model.Post
	if err := c.getJSON(ctx, "/posts/"+id, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// ListPosts 拉取全量帖子集合。
func (c *Client) ListPosts(ctx context.Context) ([]model.Post, error) {
	var posts []model.Post
	if err := c.getJSON(ctx, "/posts", &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// LikePost 发送一次带令牌的点赞请求，成功时返回更新后的帖子。
func (c *Client) LikePost(ctx context.Context, id, token string) (*model.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/posts/"+id+"/like", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("like post: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var post model.Post
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &post, nil
}

// Append 通过 REST 追加评论，满足 commentstream.Backend 的写入半边。
// 评论 ID 与服务端时间戳由后端分配；c.CreatedAt 留零值即 timestamp-pending。
func (c *Client) Append(ctx context.Context, postID string, comment *model.Comment) (string, error) {
	if c.Token == nil {
		return "", fmt.Errorf("append comment: no token source")
	}
	token, err := c.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("append comment: %w", err)
	}

	body, err := json.Marshal(map[string]string{"text": comment.Text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/posts/"+postID+"/comments", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("append comment: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return poststore.ErrNotFound
	}
	// 读取少量错误信息，便于本地调试；不要把整段 body 透传给上层。
	limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(limited)))
}
