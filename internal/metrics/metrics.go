// Package metrics 业务指标，通过 /metrics 暴露给 Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "binancedash"

// 工作流结果
const (
	OutcomeSuccess      = "success"
	OutcomeWarning      = "warning"
	OutcomeRejected     = "rejected"
	OutcomeUnauthorized = "unauthorized"
	OutcomeBusy         = "busy"
	OutcomeError        = "error"
)

// WorkflowTotal bind / switch / unbind / avatar 的调用结果
var WorkflowTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "account",
		Name:      "workflow_total",
		Help:      "Account workflow invocations by outcome",
	},
	[]string{"workflow", "outcome"},
)

// AnomalyTotal 不影响调用结果的异常，例如头像上传失败、解绑后偏好清理失败
var AnomalyTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "account",
		Name:      "anomaly_total",
		Help:      "Recoverable anomalies logged without failing the call",
	},
	[]string{"kind"},
)

var UpstreamLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Upstream market API latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"operation", "outcome"},
)

var OutboxPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Outbox messages by delivery status",
	},
	[]string{"status"},
)

// OutboxFailedBacklog 超过重试次数、需要人工处理的消息
var OutboxFailedBacklog = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "failed_messages",
		Help:      "Outbox messages stuck in FAILED status",
	},
)

var ReconcileRepaired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "preference",
		Name:      "reconcile_repaired_total",
		Help:      "Preferences repaired by the reconcile job",
	},
	[]string{"action"},
)

var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	},
	[]string{"route", "status"},
)
