package domain

import (
	"encoding/json"
	"fmt"
	"os"

	"photo-talk/server/internal/model"
)

// LoadPosts 从指定路径加载种子帖子数据。
func LoadPosts(path string) ([]model.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read posts: %w", err)
	}

	var posts []model.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("parse posts: %w", err)
	}

	return posts, nil
}
