package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-editor/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑
type WorkerServer struct {
	server  *asynq.Server
	log     *logrus.Entry
	flusher Flusher
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(redisOpt asynq.RedisClientOpt, flusher Flusher, logger *logrus.Logger) *WorkerServer {
	if flusher == nil {
		panic("Flusher cannot be nil for WorkerServer")
	}
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// 自动保存本身已经按房间并发，单个 worker 即可，避免两轮同时运行
			Concurrency: 1,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			LogLevel:        asynq.WarnLevel,
			ShutdownTimeout: 10 * time.Second,
		},
	)

	return &WorkerServer{
		server:  server,
		log:     logEntry,
		flusher: flusher,
	}
}

// Start 注册任务处理器并在后台启动 Worker，非阻塞
func (ws *WorkerServer) Start() error {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeAutosaveTick, NewAutosaveTickHandler(ws.flusher))

	ws.log.Info("Worker server starting...")
	if err := ws.server.Start(mux); err != nil {
		return fmt.Errorf("asynq: start worker server: %w", err)
	}
	return nil
}

// Shutdown 优雅地关闭 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}

// AutosaveScheduler 使用 asynq.Scheduler 按固定周期投递 autosave:tick
type AutosaveScheduler struct {
	scheduler *asynq.Scheduler
	interval  time.Duration
	log       *logrus.Entry
}

// NewAutosaveScheduler 创建调度器
func NewAutosaveScheduler(redisOpt asynq.RedisClientOpt, interval time.Duration, logger *logrus.Logger) *AutosaveScheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &AutosaveScheduler{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.WarnLevel,
		}),
		interval: interval,
		log:      logger.WithField("component", "autosave_scheduler"),
	}
}

// Start 注册周期任务并启动调度，非阻塞
func (s *AutosaveScheduler) Start() error {
	task, err := tasks.NewAutosaveTickTask(s.interval)
	if err != nil {
		return fmt.Errorf("asynq: build autosave task: %w", err)
	}
	cronspec := fmt.Sprintf("@every %s", s.interval)
	entryID, err := s.scheduler.Register(cronspec, task)
	if err != nil {
		return fmt.Errorf("asynq: register autosave entry %q: %w", cronspec, err)
	}
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("asynq: start scheduler: %w", err)
	}
	s.log.WithFields(logrus.Fields{"entry_id": entryID, "cronspec": cronspec}).Info("Autosave scheduler started")
	return nil
}

// Shutdown 停止调度
func (s *AutosaveScheduler) Shutdown() {
	s.scheduler.Shutdown()
	s.log.Info("Autosave scheduler stopped")
}
