package commentstream

import (
	"context"

	"photo-talk/server/internal/model"
)

// Handle 是一次订阅的句柄。Close 幂等；Close 返回后不再有任何
// onUpdate/onError 回调被投递。
type Handle interface {
	Close() error
}

// Backend 是评论流后端的契约：按帖子维度的有序、append-only 事件流。
//
// 快照推送模型：每次 Append 都会向该帖子的所有在线订阅者推送一份
// 全量有序快照（不是增量 diff）。全量推送多耗一点带宽，但彻底规避了
// 增量合并的重复/乱序 bug；单帖评论量很小，这个代价可以接受。
type Backend interface {
	// Append 追加一条评论，返回后端分配的评论 ID。
	// 约定：c.ID 留空由后端分配；c.CreatedAt 为零值时由后端补齐服务端时间戳，
	// 且同一帖子内时间戳单调递增。
	Append(ctx context.Context, postID string, c *model.Comment) (string, error)
	// Subscribe 订阅某个帖子的评论流。订阅建立时立即投递一份当前全量快照，
	// 之后每次变更各投递一份新快照。onError 报告流中断，已物化的列表保持不变。
	//
	// 回调约定：onUpdate/onError 必须快速返回，且不得在回调内再调用
	// Backend 或 Handle 的任何方法（投递是串行的，回调内回环会死锁）。
	Subscribe(postID string, onUpdate func([]model.Comment), onError func(error)) (Handle, error)
}
