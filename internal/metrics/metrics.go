package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients 当前建立的 WebSocket 连接数
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_editor_connected_clients",
		Help: "Number of open WebSocket connections",
	})

	// CodeChangesTotal 按结果统计 code-change 事件 (applied / rejected)
	CodeChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_editor_code_changes_total",
		Help: "Total code-change events by outcome",
	}, []string{"result"})

	// HydrationsTotal 按来源统计快照加载 (cache / store / empty)
	HydrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_editor_hydrations_total",
		Help: "Total snapshot loads by source",
	}, []string{"source"})

	// LifecycleTransitionsTotal 按动作与结果统计生命周期操作
	LifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_editor_lifecycle_transitions_total",
		Help: "Total lifecycle operations by action and outcome",
	}, []string{"action", "result"})

	// AutosaveRoomsTotal 自动保存中每个房间的结果 (saved / failed / skipped)
	AutosaveRoomsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_editor_autosave_rooms_total",
		Help: "Total per-room autosave outcomes",
	}, []string{"result"})

	// AutosaveDuration 每轮自动保存的耗时
	AutosaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collab_editor_autosave_duration_seconds",
		Help:    "Duration of one autosave pass over all cached rooms",
		Buckets: prometheus.DefBuckets,
	})

	// ProtocolErrorsTotal 被拒绝的入站帧 (按原因)
	ProtocolErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_editor_protocol_errors_total",
		Help: "Total inbound frames rejected by the gateway",
	}, []string{"reason"})
)
