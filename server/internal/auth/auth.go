package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSignedOut    = errors.New("not signed in")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity 是一次已登录会话的身份凭证值。
// 设计取舍：身份显式传递/注入，不读任何全局可变状态，
// 这样测试可以注入任意身份做确定性验证。
type Identity struct {
	UserID      string
	DisplayName string
}

// Provider 是认证提供方的契约（外部协作者）。
type Provider interface {
	// CurrentIdentity 返回当前登录身份；未登录时 ok 为 false。
	CurrentIdentity() (Identity, bool)
	// FreshToken 为当前身份签发一个新的短期令牌；未登录时失败。
	// 令牌生命周期很短，调用方应当每次使用前重新获取，而不是缓存。
	FreshToken(ctx context.Context) (string, error)
}

// TokenIssuer 用 HS256 JWT 签发/校验短期访问令牌。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: now}
}

type tokenClaims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issue 为给定身份签发一个带过期时间的令牌。
func (i *TokenIssuer) Issue(id Identity) (string, error) {
	now := i.now()
	claims := tokenClaims{
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌并还原身份；签名错误或过期都返回 ErrInvalidToken。
func (i *TokenIssuer) Verify(tokenStr string) (Identity, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.Subject, DisplayName: claims.DisplayName}, nil
}

// MemoryProvider 在内存里保存当前登录身份，并通过 TokenIssuer 签发短期令牌。
// 周边应用在身份变化（登录/登出）时负责重建会话，这里只提供当下的事实。
type MemoryProvider struct {
	issuer *TokenIssuer

	mu       sync.RWMutex
	identity Identity
	signedIn bool
}

func NewMemoryProvider(issuer *TokenIssuer) *MemoryProvider {
	return &MemoryProvider{issuer: issuer}
}

// SignIn 记录当前登录身份。
func (p *MemoryProvider) SignIn(id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = id
	p.signedIn = true
}

// SignOut 清除登录状态。
func (p *MemoryProvider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = Identity{}
	p.signedIn = false
}

func (p *MemoryProvider) CurrentIdentity() (Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity, p.signedIn
}

// FreshToken 每次调用都签发新令牌，不做缓存（令牌可能很快过期）。
func (p *MemoryProvider) FreshToken(_ context.Context) (string, error) {
	p.mu.RLock()
	id, ok := p.identity, p.signedIn
	p.mu.RUnlock()

	if !ok {
		return "", ErrSignedOut
	}
	return p.issuer.Issue(id)
}
