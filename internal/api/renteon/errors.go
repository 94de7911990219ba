package renteon

import (
	"errors"
	"fmt"
)

// ErrRemoteUnavailable 远端网络错误或非 2xx 响应
var ErrRemoteUnavailable = errors.New("renteon unavailable")

// AuthError 令牌交换失败
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("renteon auth failed: status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("renteon auth failed: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RemoteError 业务接口调用失败
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s failed: status=%d body=%s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrRemoteUnavailable) 对所有 RemoteError 成立
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteUnavailable
}

// IsAuthError 判断错误链中是否存在 AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusCode 返回错误链中的 HTTP 状态码，没有则返回 0
func StatusCode(err error) int {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.StatusCode
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.StatusCode
	}
	return 0
}
