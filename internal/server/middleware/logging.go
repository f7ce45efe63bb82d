package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "RelayLane/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThreshold 慢请求阈值
const slowRequestThreshold = 3 * time.Second

// Logging 返回一个记录 HTTP 请求日志的中间件
// 自动生成 Request ID、检测慢请求、注入 Request Context
//
// 日志输出示例:
//
//	🟢 GET /admin/breakers - 200 (12ms) | RequestID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow request detected | GET /admin/breakers | 3438ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				requestID string
			)

			// 提取请求信息
			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					ip = extractClientIP(httpReq)

					// 提取或生成 Request ID
					requestID = httpReq.Header.Get("X-Request-ID")
					if requestID == "" {
						requestID = pkglog.GenerateRequestID()
					}
				}
			}

			// 将 Request Context 注入到 Context 中
			// 后续的所有日志调用都可以自动提取这些信息
			ctx = pkglog.WithRequestContext(ctx, requestID, "", "")

			// 执行实际的处理逻辑
			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()

			status := 200
			if err != nil {
				status = extractHTTPStatus(err)
			}

			logger.RequestWithContext(ctx, method, path, status, duration,
				"ip", ip,
			)

			if duration >= slowRequestThreshold.Milliseconds() {
				logger.SlowRequest(ctx, method, path, duration)
			}

			return reply, err
		}
	}
}

// extractClientIP 从请求中提取客户端真实 IP
// 优先级: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus 从 Kratos 错误中提取 HTTP 状态码
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	if ke := kerrors.FromError(err); ke != nil {
		return int(ke.Code)
	}
	return 500
}
