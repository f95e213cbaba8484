package poststore

import (
	"context"
	"errors"

	"photo-talk/server/internal/model"
)

var ErrNotFound = errors.New("post not found")

// Store 是帖子的权威存储（实体只读 + 点赞变更）。
// 帖子由发布流程写入（通过 Create 或启动时 Seed），本核心不删除帖子。
type Store interface {
	// List 返回全量帖子集合快照。
	List(ctx context.Context) ([]model.Post, error)
	// Get 按 ID 返回单个帖子；不存在时返回 ErrNotFound。
	Get(ctx context.Context, id string) (*model.Post, error)
	// Create 写入一条新帖子，返回落库后的副本。
	Create(ctx context.Context, p *model.Post) (*model.Post, error)
	// IncrementLike 将点赞数 +1 并返回更新后的帖子。
	// 约定：同一逻辑点赞动作重复到达时，最多按预期次数累加（见 api 层的幂等说明）。
	IncrementLike(ctx context.Context, id string) (*model.Post, error)
}
