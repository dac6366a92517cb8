package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-editor/internal/service"
	"collaborative-editor/internal/tasks"
)

// Flusher 执行一轮自动保存，由 service.AutosaveService 实现
type Flusher interface {
	FlushAll(ctx context.Context) service.FlushReport
}

// AutosaveTickHandler 处理 autosave:tick 任务
type AutosaveTickHandler struct {
	flusher Flusher
}

// NewAutosaveTickHandler 创建 Handler 实例
func NewAutosaveTickHandler(flusher Flusher) *AutosaveTickHandler {
	if flusher == nil {
		panic("Flusher cannot be nil for AutosaveTickHandler")
	}
	return &AutosaveTickHandler{flusher: flusher}
}

// ProcessTask 实现 asynq.Handler 接口。
// 所有房间都写入失败时返回错误 (不重试)，部分失败只记录日志。
func (h *AutosaveTickHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})

	payload, err := tasks.ParseAutosaveTickPayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("interval", payload.Interval)

	report := h.flusher.FlushAll(ctx)
	logCtx = logCtx.WithFields(logrus.Fields{
		"rooms":   report.Rooms,
		"saved":   report.Saved,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	})
	if report.Failed > 0 && report.Saved == 0 {
		logCtx.Error("Autosave tick failed for every room")
		return fmt.Errorf("autosave failed for %d rooms: %w", report.Failed, asynq.SkipRetry)
	}
	logCtx.Debug("Autosave tick processed")
	return nil
}
