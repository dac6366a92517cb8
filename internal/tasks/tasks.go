package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeAutosaveTick = "autosave:tick" // 一轮自动保存
)

// AutosaveTickPayload 自动保存任务的数据。FlushAll 自己枚举缓存中的房间，这里只记录调度信息
type AutosaveTickPayload struct {
	Interval     time.Duration `json:"interval"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// NewAutosaveTickTask 创建一个自动保存任务。
// 任务不重试 (下一轮会再次覆盖所有房间)，并在一个周期内去重，避免积压。
func NewAutosaveTickTask(interval time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(AutosaveTickPayload{
		Interval:     interval,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(0), asynq.Queue("critical")}
	if interval > 0 {
		opts = append(opts, asynq.Unique(interval), asynq.Timeout(interval*2))
	}
	return asynq.NewTask(TypeAutosaveTick, payload, opts...), nil
}

// ParseAutosaveTickPayload 解析任务数据
func ParseAutosaveTickPayload(data []byte) (AutosaveTickPayload, error) {
	var p AutosaveTickPayload
	err := json.Unmarshal(data, &p)
	return p, err
}
