package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper，提供便捷的日志方法
// 通过在日志调用时自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// API 记录 API 相关日志（表情符号: 🔗）
func (h *LogHelper) API(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "api")
	h.Infow(allKvs...)
}

// Auth 记录认证相关日志（表情符号: 🔓）
func (h *LogHelper) Auth(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "auth")
	h.Infow(allKvs...)
}

// Request 记录 HTTP 请求日志（表情符号: 🌐 或根据状态码）
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// Redis 记录 Redis 操作日志（表情符号: 📦）
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "redis")
	h.Debugw(allKvs...)
}

// Breaker 记录熔断器相关日志（表情符号: 🚦）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "breaker")
	h.Warnw(allKvs...)
}

// EventStore 记录事件存储相关日志（表情符号: 💾）
func (h *LogHelper) EventStore(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "eventstore")
	h.Debugw(allKvs...)
}

// Realtime 记录实时连接相关日志（表情符号: ⚡）
func (h *LogHelper) Realtime(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "realtime")
	h.Infow(allKvs...)
}

// Session 记录会话相关日志（表情符号: 👤）
func (h *LogHelper) Session(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "session")
	h.Infow(allKvs...)
}

// Success 记录成功操作日志（表情符号: ✅）
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "success")
	h.Infow(allKvs...)
}

// Startup 记录启动相关日志（表情符号: 🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "startup")
	h.Infow(allKvs...)
}

// Security 记录安全相关日志（表情符号: 🔒）
func (h *LogHelper) Security(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "security")
	h.Warnw(allKvs...)
}

// Cleanup 记录清理任务日志（表情符号: 🧹）
func (h *LogHelper) Cleanup(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "cleanup")
	h.Infow(allKvs...)
}

// RequestWithContext 记录 HTTP 请求日志，自动从 Context 提取 Request ID
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("%s %s - %d (%s) | RequestID: %s", method, url, status, formatDuration(durationMs), reqCtx.RequestID)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"request_id", reqCtx.RequestID,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// SlowRequest 记录慢请求警告日志（表情符号: 🐌）
// 自动从 Context 提取 Request ID
func (h *LogHelper) SlowRequest(ctx context.Context, method, path string, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms", reqCtx.RequestID, method, path, durationMs)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"method", method,
		"path", path,
		"duration_ms", durationMs,
		"type", "slow_request",
	)
	h.Warnw(allKvs...)
}

// QueueDrop 记录队列溢出丢弃日志（表情符号: ⚠️）
// 队列溢出是静默的、策略驱动的数据丢弃，必须可观测但绝不抛错
func (h *LogHelper) QueueDrop(event string, queueSize int, kvs ...interface{}) {
	msg := fmt.Sprintf("Queued event evicted - Event: %s, Queue size: %d", event, queueSize)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"event", event,
		"queue_size", queueSize,
		"type", "error_count",
	)
	h.Warnw(allKvs...)
}
