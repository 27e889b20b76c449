package cliphub

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/cliphub/pkg/errors"
	"github.com/tokmz/cliphub/pkg/tracing"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// NewResponse 创建响应
func NewResponse(code int, data any, message string) *Response {
	return &Response{
		Code:    code,
		Data:    data,
		Message: message,
	}
}

// WithTraceID 设置追踪ID
func (r *Response) WithTraceID(traceID string) *Response {
	r.TraceID = traceID
	return r
}

// Success 创建成功响应
func Success(data any) *Response {
	return NewResponse(0, data, "success")
}

// Fail 创建失败响应
func Fail(err *errors.Error) *Response {
	return NewResponse(err.Code, nil, err.Message)
}

// respond 写出响应，附带当前请求的 trace_id
func respond(c *gin.Context, status int, resp *Response) {
	c.JSON(status, resp.WithTraceID(tracing.TraceID(c.Request.Context())))
}

// ok 200 成功响应
func ok(c *gin.Context, data any) {
	respond(c, http.StatusOK, Success(data))
}

// fail 按错误的 HttpCode 中断请求，非业务错误统一为 500
func fail(c *gin.Context, err error) {
	e := errors.From(err)
	if e.Err != nil {
		_ = c.Error(e.Err)
	}
	c.Abort()
	respond(c, e.HttpCode, Fail(e))
}
