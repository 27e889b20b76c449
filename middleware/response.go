package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/tokmz/cliphub/pkg/errors"
	"github.com/tokmz/cliphub/pkg/tracing"
)

// abortWithError 以统一响应格式中断请求
func abortWithError(c *gin.Context, err *errors.Error) {
	c.AbortWithStatusJSON(err.HttpCode, gin.H{
		"code":     err.Code,
		"data":     nil,
		"message":  err.Message,
		"trace_id": tracing.TraceID(c.Request.Context()),
	})
}
