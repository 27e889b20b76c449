package cliphub

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 版本号
const Version = "1.0.0"

const banner = `
  ___ _ _      _  _      _
 / __| (_)_ __| || |_  _| |__   房间剪贴板实时广播服务
| (__| | | '_ \ __ | || | '_ \  open: %s
 \___|_|_| .__/_||_|\_,_|_.__/  version: %s
         |_|
`

// printBanner 打印启动 banner 和路由表
func (e *Engine) printBanner(addr string) {
	out := e.banner

	var open string
	switch {
	case strings.HasPrefix(addr, ":"):
		open = "http://127.0.0.1" + addr
	case strings.HasPrefix(addr, "[::]:"):
		open = "http://127.0.0.1:" + strings.TrimPrefix(addr, "[::]:")
	default:
		open = "http://" + addr
	}

	fPrint(out, banner, open, Version)
	fPrint(out, "\n")

	routes := e.engine.Routes()
	if len(routes) > 0 {
		printRoutes(out, routes, gin.Mode())
		fPrint(out, "\n")
	}

	fPrint(out, "[cliphub] Running in %q mode | Go %s | %s/%s\n", gin.Mode(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m" // 蓝色
	case "POST":
		return "\033[32m" // 绿色
	case "DELETE":
		return "\033[31m" // 红色
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 格式化打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo, mode string) {
	maxPathLen := 0
	for _, r := range routes {
		if len(r.Path) > maxPathLen {
			maxPathLen = len(r.Path)
		}
	}

	for _, r := range routes {
		fPrint(out, "[cliphub-%s] %s %-7s %s %-*s --> %s\n",
			mode,
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出，请求日志由 middleware.Logger 负责
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误（banner 输出场景）
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
