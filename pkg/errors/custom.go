package errors

// 通用错误码，HTTP 接口直接使用
// 1006 之后的码由各接口按需定义
var (
	ErrServer       = New(1000, 500, "服务器异常", nil)
	ErrBadRequest   = New(1001, 400, "请求异常", nil)
	ErrUnauthorized = New(1002, 401, "未登录或会话已失效", nil)
	// ErrForbidden 会话房间与请求房间不一致
	ErrForbidden = New(1003, 403, "禁止访问", nil)
	ErrNotFound  = New(1004, 404, "资源不存在", nil)
	// ErrTooManyRequests 登录限流和广播队列已满
	ErrTooManyRequests = New(1005, 429, "请求过于频繁，请稍后再试", nil)
)
