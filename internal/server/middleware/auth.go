// Package middleware provides HTTP middleware for authentication, logging, and request processing.
package middleware

import (
	"context"
	"strings"

	pkglog "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// adminPathPrefix marks the paths protected by the admin token.
const adminPathPrefix = "/admin"

// AdminAuth 返回管理接口的 Bearer Token 认证中间件
// 仅保护 /admin 路径；健康检查等公开路径直接放行
//
// 日志输出示例:
//
//	🔓 Authenticated admin request (a1b2c3d4***)
//	🔒 Rejected admin request: invalid token
func AdminAuth(adminToken string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			var path, token string

			if tr, ok := transport.FromServerContext(ctx); ok {
				path = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					path = httpReq.URL.Path

					authHeader := httpReq.Header.Get("Authorization")
					if authHeader != "" {
						// 支持 "Bearer {token}" 格式
						token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
					}
				}
			}

			if !strings.HasPrefix(path, adminPathPrefix) {
				return handler(ctx, req)
			}

			// 未配置 admin token 时拒绝所有管理请求
			if adminToken == "" {
				logger.Security("Rejected admin request: admin token not configured",
					"path", path)
				return nil, errors.Forbidden("ADMIN_DISABLED", "admin surface is not configured")
			}

			if token == "" || token != adminToken {
				logger.Security("Rejected admin request: invalid token",
					"path", path)
				return nil, errors.Unauthorized("INVALID_ADMIN_TOKEN", "invalid or missing admin token")
			}

			logger.Auth("Authenticated admin request ("+maskToken(token)+")",
				"path", path)
			return handler(ctx, req)
		}
	}
}

// maskToken 脱敏 Token，仅显示前 8 位
// 示例: "a1b2c3d4e5f6" -> "a1b2c3d4***"
func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "***"
}
