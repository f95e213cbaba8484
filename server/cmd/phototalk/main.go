package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"photo-talk/server/internal/api"
	"photo-talk/server/internal/auth"
	"photo-talk/server/internal/commentstream"
	"photo-talk/server/internal/config"
	"photo-talk/server/internal/domain"
	"photo-talk/server/internal/poststore"
)

func main() {
	// 本地可跑、可调试优先：参数用 flag，敏感信息（签名密钥）用环境变量。
	// - AUTH_SECRET：令牌签名密钥（不要写进配置文件提交）
	configPath := flag.String("config", "", "config file path (optional)")
	addr := flag.String("addr", "", "http listen address (overrides config)")
	postsPath := flag.String("posts", "", "posts seed path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *postsPath != "" {
		cfg.Paths.Posts = *postsPath
	}

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	posts := poststore.NewInMemoryStore()
	if cfg.Paths.Posts != "" {
		seed, err := domain.LoadPosts(cfg.Paths.Posts)
		if err != nil {
			log.Fatalf("load posts seed: %v", err)
		}
		posts.Seed(seed)
		log.Printf("seeded %d posts from %s", len(seed), cfg.Paths.Posts)
	}

	comments := commentstream.NewInMemoryBackend(time.Now)
	issuer := auth.NewTokenIssuer([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL, time.Now)
	server := api.NewServer(posts, comments, issuer, log.Default())

	log.Printf("phototalk server listening on %s", listenAddr)
	if err := http.ListenAndServe(listenAddr, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
