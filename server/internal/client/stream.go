package client

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"photo-talk/server/internal/commentstream"
	"photo-talk/server/internal/model"

	"github.com/gorilla/websocket"
)

// Subscribe 建立到评论流端点的 WebSocket 连接，满足 commentstream.Backend
// 的订阅半边：每收到一个文本帧（全量快照 JSON 数组）回调一次 onUpdate。
// 流中断（非正常关闭）回调一次 onError，已物化的列表由调用方保留。
func (c *Client) Subscribe(postID string, onUpdate func([]model.Comment), onError func(error)) (commentstream.Handle, error) {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/posts/" + postID + "/comments/stream"

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial comment stream: status=%d err=%w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial comment stream: %w", err)
	}

	sub := &wsSubscription{
		conn:     conn,
		onUpdate: onUpdate,
		onError:  onError,
		logger:   log.Default(),
	}
	go sub.readLoop()
	return sub, nil
}

// wsSubscription 是 WebSocket 评论流的订阅句柄。
// 回调在 mu 内触发：Close 拿到同一把锁之后不再有任何投递可被观察到。
type wsSubscription struct {
	conn   *websocket.Conn
	logger *log.Logger

	mu       sync.Mutex
	closed   bool
	onUpdate func([]model.Comment)
	onError  func(error)

	closeOnce sync.Once
}

func (s *wsSubscription) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.deliverError(fmt.Errorf("comment stream: %w", err))
			}
			return
		}

		var snapshot []model.Comment
		if err := json.Unmarshal(data, &snapshot); err != nil {
			s.logger.Printf("[Stream] drop malformed snapshot: %v", err)
			continue
		}
		s.deliver(snapshot)
	}
}

func (s *wsSubscription) deliver(snapshot []model.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.onUpdate == nil {
		return
	}
	s.onUpdate(snapshot)
}

func (s *wsSubscription) deliverError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.onError == nil {
		return
	}
	s.onError(err)
}

// Close 幂等地关闭订阅：发送关闭帧、断开连接、停止一切投递。
func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = s.conn.Close()
	})
	return nil
}
