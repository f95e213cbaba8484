package model

import "time"

// Post 表示一条图片帖子。
// ImageData 是 base64 编码的原始图片数据，直接内联在记录里传输，
// 不走独立的 blob 下载协议（帖子图片体积小，省一次往返）。
type Post struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageData   string `json:"image_data"`
	LikeCount   int    `json:"like_count"`
}

// AnonymousUser 是评论作者缺少显示名时的兜底占位。
const AnonymousUser = "Anonymous"

// Comment 表示挂在某个帖子下的一条评论。
// 契约：
// - ID 由评论流后端分配，客户端提交时留空。
// - CreatedAt 由后端补齐（提交时为零值，表示 timestamp-pending）。
// - 评论一经创建不可修改；物化后的评论列表始终按 CreatedAt 升序排列，
//   时间相同按 ID 排序保证确定性，且不含重复 ID。
type Comment struct {
	ID        string    `json:"id,omitempty"`
	PostID    string    `json:"post_id"`
	User      string    `json:"user"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
