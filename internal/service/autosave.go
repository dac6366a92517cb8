package service

import (
	"context"
	"sync"
	"time"

	"collaborative-editor/internal/metrics"
	"collaborative-editor/internal/repository"

	"github.com/sirupsen/logrus"
)

// defaultFlushConcurrency 单轮自动保存中同时写库的房间数上限
const defaultFlushConcurrency = 8

// FlushReport 一轮自动保存的统计
type FlushReport struct {
	Rooms   int // 扫描到的缓存房间数
	Saved   int
	Failed  int
	Skipped int // 上一轮的写入仍未完成或缓存已过期
}

// AutosaveService 把缓存中的代码周期性写回数据库，并追加历史快照。
type AutosaveService struct {
	cache       repository.CodeCache
	roomRepo    repository.RoomRepository
	flags       FlagReader
	concurrency int
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewAutosaveService 创建 AutosaveService 实例
func NewAutosaveService(cache repository.CodeCache, roomRepo repository.RoomRepository, flags FlagReader) *AutosaveService {
	if cache == nil || roomRepo == nil || flags == nil {
		panic("cache, roomRepo and flags must be non-nil for AutosaveService")
	}
	return &AutosaveService{
		cache:       cache,
		roomRepo:    roomRepo,
		flags:       flags,
		concurrency: defaultFlushConcurrency,
		now:         time.Now,
		inFlight:    make(map[string]struct{}),
	}
}

// Persist 把一份代码写入数据库：更新 code/status 并追加一条历史。
// status 取自当前运行时标记；数据库中已是 archived/disabled 的记录状态不会被覆盖。
func (s *AutosaveService) Persist(ctx context.Context, roomID, code string) error {
	state := s.flags.Flags(ctx, roomID).State()
	return s.roomRepo.Upsert(ctx, roomID, repository.RoomUpsert{
		Code:          code,
		Status:        state,
		AppendHistory: true,
		SavedAt:       s.now().UTC(),
	})
}

// FlushAll 枚举所有缓存中的房间并逐个持久化。单个房间失败只记录日志，不影响其他房间。
// 某房间上一次的写入尚未返回时本轮跳过该房间，避免慢写阻塞其他房间的保存。
func (s *AutosaveService) FlushAll(ctx context.Context) FlushReport {
	start := time.Now()
	defer func() { metrics.AutosaveDuration.Observe(time.Since(start).Seconds()) }()

	var report FlushReport
	roomIDs, err := s.cache.ListRoomIDs(ctx)
	if err != nil {
		logrus.WithError(err).Error("Autosave: failed to enumerate cached rooms")
		return report
	}
	report.Rooms = len(roomIDs)
	if len(roomIDs) == 0 {
		return report
	}

	var (
		wg      sync.WaitGroup
		countMu sync.Mutex
		sem     = make(chan struct{}, s.concurrency)
	)
	record := func(result string) {
		countMu.Lock()
		defer countMu.Unlock()
		switch result {
		case "saved":
			report.Saved++
		case "failed":
			report.Failed++
		default:
			report.Skipped++
		}
		metrics.AutosaveRoomsTotal.WithLabelValues(result).Inc()
	}

	for _, roomID := range roomIDs {
		if !s.acquire(roomID) {
			record("skipped")
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(roomID string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.release(roomID)
			record(s.flushRoom(ctx, roomID))
		}(roomID)
	}
	wg.Wait()

	logrus.WithFields(logrus.Fields{
		"rooms":   report.Rooms,
		"saved":   report.Saved,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	}).Debug("Autosave pass finished")
	return report
}

func (s *AutosaveService) flushRoom(ctx context.Context, roomID string) string {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "Autosave"})

	code, ok, err := s.cache.Peek(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read cached code")
		return "failed"
	}
	if !ok {
		// 枚举后到读取前缓存已过期
		return "skipped"
	}
	if err := s.Persist(ctx, roomID, code); err != nil {
		logCtx.WithError(err).Error("Failed to persist room code")
		return "failed"
	}
	return "saved"
}

func (s *AutosaveService) acquire(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[roomID]; busy {
		return false
	}
	s.inFlight[roomID] = struct{}{}
	return true
}

func (s *AutosaveService) release(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, roomID)
}

// AutosaveLoop 以固定间隔触发 FlushAll 的进程内调度器。
// 每次触发都在独立 goroutine 中运行，一次卡住的保存不会推迟后续的触发。
type AutosaveLoop struct {
	svc      *AutosaveService
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
	done    chan struct{}
}

// NewAutosaveLoop 创建调度器，interval <= 0 时使用 5 秒
func NewAutosaveLoop(svc *AutosaveService, interval time.Duration) *AutosaveLoop {
	if svc == nil {
		panic("AutosaveService cannot be nil for AutosaveLoop")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &AutosaveLoop{svc: svc, interval: interval}
}

// Start 启动调度，重复调用无效果
func (l *AutosaveLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		logrus.WithField("interval", l.interval).Info("Autosave loop started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.running.Add(1)
				go func() {
					defer l.running.Done()
					l.svc.FlushAll(ctx)
				}()
			}
		}
	}(l.done)
}

// Stop 停止调度并等待进行中的保存结束，重复调用无效果
func (l *AutosaveLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.running.Wait()
	logrus.Info("Autosave loop stopped")
}
