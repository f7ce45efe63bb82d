// Package server wires the HTTP admin/health surface.
package server

import (
	"context"

	"RelayLane/internal/conf"
	"RelayLane/internal/server/middleware"
	"RelayLane/internal/service"
	pkglog "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, ac *conf.Auth, adminService *service.AdminService, sessionService *service.SessionService, logger log.Logger) *http.Server {
	// 创建增强的日志辅助器
	logHelper := pkglog.NewLogHelper(logger)

	adminToken := ""
	if ac != nil {
		adminToken = ac.AdminToken
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.AdminAuth(adminToken, logHelper), // 认证中间件：保护 /admin 路径
			middleware.Logging(logHelper),               // 请求日志中间件：记录请求方法、路径、耗时
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, adminService, sessionService)

	return srv
}

// registerRoutes mounts the health, session and admin endpoints. Handlers
// run through the server middleware chain via ctx.Middleware.
func registerRoutes(srv *http.Server, adminService *service.AdminService, sessionService *service.SessionService) {
	route := srv.Route("/")

	route.GET("/healthz", func(ctx http.Context) error {
		h := ctx.Middleware(func(context.Context, interface{}) (interface{}, error) {
			return map[string]string{"status": "ok"}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	route.POST("/sessions", func(ctx http.Context) error {
		var req service.CreateSessionRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
			return sessionService.CreateSession(c, in.(*service.CreateSessionRequest))
		})
		out, err := h(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(201, out)
	})

	route.GET("/sessions/{id}", func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return sessionService.GetSession(c, id)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	route.POST("/sessions/{id}/heartbeat", func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			if err := sessionService.HeartbeatSession(c, id); err != nil {
				return nil, err
			}
			return map[string]string{"status": "alive", "session_id": id}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	route.DELETE("/sessions/{id}", func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			if err := sessionService.TerminateSession(c, id); err != nil {
				return nil, err
			}
			return map[string]string{"status": "terminated", "session_id": id}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	route.GET("/admin/breakers", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return adminService.ListBreakers(c), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	route.GET("/admin/breakers/health", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return adminService.BreakerHealth(c), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	route.POST("/admin/breakers/{name}/reset", func(ctx http.Context) error {
		name := ctx.Vars().Get("name")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			if err := adminService.ResetBreaker(c, name); err != nil {
				return nil, err
			}
			return map[string]string{"status": "reset", "breaker": name}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	route.POST("/admin/breakers/{name}/open", func(ctx http.Context) error {
		name := ctx.Vars().Get("name")
		reason := ctx.Query().Get("reason")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			if err := adminService.ForceOpenBreaker(c, name, reason); err != nil {
				return nil, err
			}
			return map[string]string{"status": "open", "breaker": name}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}
