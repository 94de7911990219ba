package renteon

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenRenewMargin 过期前提前续签的时间
const tokenRenewMargin = 30 * time.Second

// Credentials Renteon 账户凭证
type Credentials struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// Credential 访问令牌，只存在于 TokenProvider 内部，不落库
type Credential struct {
	Token  string
	Expiry time.Time
}

// IsExpired 检查令牌是否过期，Expiry 为零值表示在 provider 生命周期内一直有效
func (c *Credential) IsExpired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return now.After(c.Expiry.Add(-tokenRenewMargin))
}

// tokenResponse /token 响应
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenProvider 获取并缓存访问令牌。
// 每个同步任务或每个请求持有自己的 TokenProvider，不在进程内共享。
type TokenProvider struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
	newSalt    func() (string, error)
	now        func() time.Time

	mu         sync.Mutex
	credential *Credential
}

// NewTokenProvider 创建令牌提供者
func NewTokenProvider(httpClient *http.Client, baseURL string, creds Credentials) *TokenProvider {
	return &TokenProvider{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		newSalt:    NewSalt,
		now:        time.Now,
	}
}

// NewSalt 生成随机盐值（16 字节，十六进制编码）
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Signature 计算登录签名：
// base64(sha512(username + salt + clientSecret + password + salt + clientSecret + clientID))
func Signature(creds Credentials, salt string) string {
	var b strings.Builder
	b.WriteString(creds.Username)
	b.WriteString(salt)
	b.WriteString(creds.ClientSecret)
	b.WriteString(creds.Password)
	b.WriteString(salt)
	b.WriteString(creds.ClientSecret)
	b.WriteString(creds.ClientID)

	sum := sha512.Sum512([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Token 返回可用的访问令牌，必要时重新认证
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.credential != nil && !p.credential.IsExpired(p.now()) {
		return p.credential.Token, nil
	}

	credential, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	p.credential = credential
	return credential.Token, nil
}

// Invalidate 丢弃缓存的令牌，下次调用 Token 时重新认证
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.credential = nil
	p.mu.Unlock()
}

// acquire 使用密码模式换取令牌
func (p *TokenProvider) acquire(ctx context.Context) (*Credential, error) {
	salt, err := p.newSalt()
	if err != nil {
		return nil, err
	}

	data := url.Values{}
	data.Set("grant_type", "password")
	data.Set("username", p.creds.Username)
	data.Set("password", p.creds.Password)
	data.Set("client_id", p.creds.ClientID)
	data.Set("signature", Signature(p.creds, salt))
	data.Set("salt", salt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: "empty access_token"}
	}

	credential := &Credential{Token: tokenResp.AccessToken}
	if tokenResp.ExpiresIn > 0 {
		credential.Expiry = p.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return credential, nil
}
