package auth

import "github.com/tokmz/cliphub/pkg/errors"

// 错误定义
var (
	ErrNoSession    = errors.ErrUnauthorized.WithMessage("未登录")
	ErrInvalidToken = errors.ErrUnauthorized.WithMessage("会话无效或已过期")
	ErrRevoked      = errors.ErrUnauthorized.WithMessage("会话已退出")
	ErrInvalidRoom  = errors.ErrBadRequest.WithMessage("房间号必须为 6 位数字")
)
