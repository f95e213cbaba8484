package api

import (
	"log"
	"net/http"
	"strings"

	"photo-talk/server/internal/auth"
	"photo-talk/server/internal/commentstream"
	"photo-talk/server/internal/model"
	"photo-talk/server/internal/poststore"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server 承载帖子存储与评论流的 HTTP/WebSocket 外观。
// 职责：
// 1. 帖子读与点赞变更（REST）
// 2. 评论追加（REST，带令牌）
// 3. 评论流订阅（WebSocket，每次变更推送全量快照）
type Server struct {
	posts    poststore.Store
	comments commentstream.Backend
	verifier *auth.TokenIssuer
	logger   *log.Logger

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(posts poststore.Store, comments commentstream.Backend, verifier *auth.TokenIssuer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		posts:    posts,
		comments: comments,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 开发期允许本地跨域和同进程客户端，生产环境应改为白名单
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173"
			},
		},
	}
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/posts", s.handleListPosts)
	engine.POST("/posts", s.handleCreatePost)
	engine.GET("/posts/:id", s.handleGetPost)
	engine.POST("/posts/:id/like", s.handleLikePost)
	engine.POST("/posts/:id/comments", s.handleAddComment)
	engine.GET("/posts/:id/comments/stream", s.handleCommentStream)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListPosts 返回全量帖子集合快照。
func (s *Server) handleListPosts(c *gin.Context) {
	posts, err := s.posts.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list posts failed"})
		return
	}
	c.JSON(http.StatusOK, posts)
}

type createPostRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageData   string `json:"image_data"`
}

// handleCreatePost 处理发布流程写入的新帖子。
func (s *Server) handleCreatePost(c *gin.Context) {
	if _, ok := s.bearerIdentity(c); !ok {
		return
	}

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}

	created, err := s.posts.Create(c.Request.Context(), &model.Post{
		Title:       req.Title,
		Description: req.Description,
		ImageData:   req.ImageData,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create post failed"})
		return
	}
	c.JSON(http.StatusOK, created)
}

// handleGetPost 返回单个帖子；不存在时返回 404。
func (s *Server) handleGetPost(c *gin.Context) {
	post, err := s.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == poststore.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get post failed"})
		return
	}
	c.JSON(http.StatusOK, post)
}

// handleLikePost 处理带令牌的点赞变更，返回更新后的帖子。
// 幂等说明：每个到达的请求累加一次；"同一逻辑动作最多累加预期次数"
// 依赖客户端只在未收到成功响应时才重试。
func (s *Server) handleLikePost(c *gin.Context) {
	if _, ok := s.bearerIdentity(c); !ok {
		return
	}

	updated, err := s.posts.IncrementLike(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == poststore.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "like post failed"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

type addCommentRequest struct {
	Text string `json:"text"`
}

// handleAddComment 把评论追加进该帖子的流；作者身份取自令牌。
func (s *Server) handleAddComment(c *gin.Context) {
	identity, ok := s.bearerIdentity(c)
	if !ok {
		return
	}

	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}

	postID := c.Param("id")
	if _, err := s.posts.Get(c.Request.Context(), postID); err != nil {
		if err == poststore.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load post failed"})
		return
	}

	name := identity.DisplayName
	if name == "" {
		name = model.AnonymousUser
	}
	id, err := s.comments.Append(c.Request.Context(), postID, &model.Comment{
		Text:   req.Text,
		User:   name,
		UserID: identity.UserID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add comment failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// handleCommentStream 升级到 WebSocket 并订阅帖子的评论流：
// 订阅建立时推一份全量快照，之后每次变更各推一份（文本帧，JSON 数组）。
func (s *Server) handleCommentStream(c *gin.Context) {
	postID := c.Param("id")

	if _, err := s.posts.Get(c.Request.Context(), postID); err != nil {
		if err == poststore.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load post failed"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] upgrade comment stream failed: %v", err)
		return
	}

	// 快照先进缓冲通道、由单写协程发送：Backend 的投递回调必须快速返回，
	// 不能直接在回调里做网络写。
	snapshots := make(chan []model.Comment, 16)
	sub, err := s.comments.Subscribe(postID,
		func(snapshot []model.Comment) {
			select {
			case snapshots <- snapshot:
			default:
				// 慢消费者：丢弃中间快照；每份快照都是全量，下一份会带上全部状态。
			}
		},
		func(streamErr error) {
			s.logger.Printf("[API] comment stream error for post %s: %v", postID, streamErr)
		},
	)
	if err != nil {
		s.logger.Printf("[API] subscribe comments for post %s failed: %v", postID, err)
		_ = conn.Close()
		return
	}

	s.logger.Printf("[API] comment stream opened for post %s", postID)

	// 读协程只负责探测对端关闭。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Printf("[API] comment stream read error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			_ = sub.Close()
			_ = conn.Close()
			s.logger.Printf("[API] comment stream closed for post %s", postID)
			return
		case snapshot := <-snapshots:
			if snapshot == nil {
				snapshot = []model.Comment{}
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				s.logger.Printf("[API] comment stream write error: %v", err)
				_ = sub.Close()
				_ = conn.Close()
				<-done
				return
			}
		}
	}
}

// bearerIdentity 校验 Authorization: Bearer 令牌并还原身份；
// 失败时写好 401 响应并返回 ok=false。
func (s *Server) bearerIdentity(c *gin.Context) (auth.Identity, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return auth.Identity{}, false
	}

	identity, err := s.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return auth.Identity{}, false
	}
	return identity, true
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		// 开发期：允许本地 Vite；线上应改为白名单或同源。
		if origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
