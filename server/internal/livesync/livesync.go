// Package livesync 实现帖子详情页/列表页背后的实时同步引擎：
// 一次性拉取帖子权威快照、维持按序更新的评论流视图、
// 在 ID 切换时对本地/服务端/流三方状态做对齐，以及带重试的点赞变更。
package livesync

import (
	"context"

	"photo-talk/server/internal/model"
)

// PostFetcher 执行一次可取消的帖子快照拉取。
// 失败分类：帖子不存在返回 poststore.ErrNotFound（终态，不重试）；
// ctx 取消返回 ctx 的错误（静默，不算失败）；其余为传输错误（读失败只上报一次，不重试）。
type PostFetcher interface {
	FetchPost(ctx context.Context, id string) (*model.Post, error)
}

// PostLister 拉取全量帖子集合快照。
type PostLister interface {
	ListPosts(ctx context.Context) ([]model.Post, error)
}

// LikeSender 发送一次带令牌的点赞请求，成功时返回更新后的帖子。
// 意图幂等：同一逻辑点赞动作的重复发送最多按预期次数累加。
type LikeSender interface {
	LikePost(ctx context.Context, id, token string) (*model.Post, error)
}

// View 是 SessionController 暴露给调用方的稳定视图模型。
// 所有字段都是副本，调用方可以任意持有，不会影响控制器内部状态。
type View struct {
	PostID   string
	Post     *model.Post
	Comments []model.Comment
	Err      string
}
