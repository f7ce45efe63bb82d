package main

import (
	"context"
	"time"

	"RelayLane/internal/biz"
	"RelayLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartCleanupCron 启动事件存储清理定时任务
// 执行频率：每天 03:00 执行一次
// 清理策略：移除已过期事件的索引条目和过期的快照
func StartCleanupCron(uc *biz.EventStoreUsecase, esc *conf.EventStore, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	retention := time.Duration(0)
	if esc != nil && esc.EventTtl != nil {
		retention = esc.EventTtl.AsDuration()
	}

	// 未配置事件 TTL 时事件永久保留，无需清理
	if retention <= 0 {
		helper.Info("Event store cleanup cron disabled: no event TTL configured")
		c.Start()
		return c
	}

	// Cron 表达式：0 0 3 * * * （秒 分 时 日 月 周）
	_, err := c.AddFunc("0 0 3 * * *", func() {
		helper.Info("Starting event store cleanup task...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		removed, err := uc.Cleanup(ctx, retention)
		if err != nil {
			helper.Errorw("Event store cleanup task failed", "error", err)
		} else {
			helper.Infow("Event store cleanup task completed successfully", "removed", removed)
		}
	})

	if err != nil {
		helper.Errorw("failed to register cleanup cron job", "error", err)
		return nil
	}

	c.Start()
	helper.Info("Event store cleanup cron job started: runs daily at 03:00")

	return c
}
