package renteon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RequestHook 每次远端调用结束后回调，statusCode 为 0 表示网络错误
type RequestHook func(endpoint string, statusCode int, duration time.Duration)

// Client Renteon API 客户端。
// Client 本身不持有令牌，令牌随 Session 创建、随 Session 结束。
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
	hook       RequestHook
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestHook 设置请求回调
func WithRequestHook(hook RequestHook) Option {
	return func(c *Client) {
		c.hook = hook
	}
}

// NewClient 创建新的 Renteon API 客户端
func NewClient(baseURL string, creds Credentials, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewTokenProvider 创建一个新的令牌提供者
func (c *Client) NewTokenProvider() *TokenProvider {
	return NewTokenProvider(c.httpClient, c.baseURL, c.creds)
}

// NewSession 创建会话，会话内所有调用复用同一个令牌
func (c *Client) NewSession() *Session {
	return &Session{client: c, tokens: c.NewTokenProvider()}
}

// Session 一次任务或一次请求范围内的远端会话
type Session struct {
	client *Client
	tokens *TokenProvider
}

// doRequest 执行带认证的请求
func (s *Session) doRequest(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "rentsync/1.0")

	return s.client.httpClient.Do(req)
}

// call 执行请求并返回响应体，非 2xx 转换为 RemoteError / AuthError
func (s *Session) call(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	endpoint := method + " " + endpointName(path)
	start := time.Now()

	resp, err := s.doRequest(ctx, method, path, payload)
	if err != nil {
		s.observe(endpoint, 0, start)
		if IsAuthError(err) {
			return nil, err
		}
		return nil, &RemoteError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	s.observe(endpoint, resp.StatusCode, start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// 令牌被拒绝，丢弃缓存
		s.tokens.Invalidate()
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &RemoteError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

func (s *Session) observe(endpoint string, statusCode int, start time.Time) {
	if s.client.hook != nil {
		s.client.hook(endpoint, statusCode, time.Since(start))
	}
}

// endpointName 去掉路径中的数字 ID，便于作为指标标签
func endpointName(path string) string {
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if strings.Trim(p, "0123456789") == "" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// ListCategories 获取所有车辆分类（含车型）
func (s *Session) ListCategories(ctx context.Context) ([]CarCategory, error) {
	body, err := s.call(ctx, http.MethodGet, "/carCategories", nil)
	if err != nil {
		return nil, err
	}

	var categories []CarCategory
	if err := json.Unmarshal(body, &categories); err != nil {
		return nil, fmt.Errorf("decode car categories: %w", err)
	}
	return categories, nil
}

// CheckAvailability 查询时间窗口内可用的分类及价格
func (s *Session) CheckAvailability(ctx context.Context, req AvailabilityRequest) ([]AvailableCategory, error) {
	body, err := s.call(ctx, http.MethodPost, "/bookings/availability", req)
	if err != nil {
		return nil, err
	}
	return parseAvailability(body)
}

// Calculate 按分类计算订单价格
func (s *Session) Calculate(ctx context.Context, req CalculateRequest) (*Calculation, error) {
	body, err := s.call(ctx, http.MethodPost, "/bookings/calculate", req)
	if err != nil {
		return nil, err
	}

	var calc Calculation
	if err := json.Unmarshal(body, &calc); err != nil {
		return nil, fmt.Errorf("decode calculation: %w", err)
	}
	return &calc, nil
}

// CreateBooking 在远端创建订单
func (s *Session) CreateBooking(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	body, err := s.call(ctx, http.MethodPost, "/bookings", req)
	if err != nil {
		return nil, err
	}

	// Id 可能是数字也可能是字符串
	result := gjson.ParseBytes(body)
	booking := &BookingResult{
		ID:     firstString(result, "Id", "BookingId", "id"),
		Number: firstString(result, "Number", "BookingNumber"),
	}
	if booking.ID == "" {
		return nil, fmt.Errorf("create booking: response carries no booking id")
	}
	return booking, nil
}

// CancelBooking 取消远端订单
func (s *Session) CancelBooking(ctx context.Context, remoteID string) error {
	_, err := s.call(ctx, http.MethodPost, "/bookings/"+url.PathEscape(remoteID)+"/cancel", nil)
	return err
}

// ListOffices 获取门店列表
func (s *Session) ListOffices(ctx context.Context) ([]Office, error) {
	body, err := s.call(ctx, http.MethodGet, "/offices", nil)
	if err != nil {
		return nil, err
	}
	var offices []Office
	if err := json.Unmarshal(body, &offices); err != nil {
		return nil, fmt.Errorf("decode offices: %w", err)
	}
	return offices, nil
}

// ListEquipments 获取附加设备列表
func (s *Session) ListEquipments(ctx context.Context) ([]Equipment, error) {
	body, err := s.call(ctx, http.MethodGet, "/equipments", nil)
	if err != nil {
		return nil, err
	}
	var equipments []Equipment
	if err := json.Unmarshal(body, &equipments); err != nil {
		return nil, fmt.Errorf("decode equipments: %w", err)
	}
	return equipments, nil
}

// ListServices 获取附加服务列表
func (s *Session) ListServices(ctx context.Context) ([]AdditionalService, error) {
	body, err := s.call(ctx, http.MethodGet, "/services", nil)
	if err != nil {
		return nil, err
	}
	var services []AdditionalService
	if err := json.Unmarshal(body, &services); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	return services, nil
}

// parseAvailability 解析可用性响应。
// 分类 ID 可能出现在 CarCategoryId / CategoryId / Id 任一字段，押金在 DepositAmount 或 Deposit。
func parseAvailability(body []byte) ([]AvailableCategory, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode availability: invalid json")
	}

	root := gjson.ParseBytes(body)
	items := root
	if !root.IsArray() {
		// 部分版本会把列表包在对象里
		items = gjson.Result{}
		for _, key := range []string{"Items", "Data", "Result", "CarCategories"} {
			if v := root.Get(key); v.IsArray() {
				items = v
				break
			}
		}
		if !items.IsArray() {
			return nil, fmt.Errorf("decode availability: unexpected payload")
		}
	}

	seen := make(map[int64]bool)
	var available []AvailableCategory
	items.ForEach(func(_, item gjson.Result) bool {
		id := firstInt(item, "CarCategoryId", "CategoryId", "Id")
		if id <= 0 || seen[id] {
			return true
		}
		seen[id] = true
		available = append(available, AvailableCategory{
			CategoryID: id,
			Amount:     firstFloat(item, "Amount"),
			Deposit:    firstFloat(item, "DepositAmount", "Deposit"),
		})
		return true
	})

	return available, nil
}

func firstInt(r gjson.Result, keys ...string) int64 {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			return v.Int()
		}
	}
	return 0
}

func firstFloat(r gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			return v.Float()
		}
	}
	return 0
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
