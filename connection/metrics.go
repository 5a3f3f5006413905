package connection

import (
	"sync"
	"sync/atomic"
	"time"
)

// 指标收集器接口
type MetricsCollector interface {
	// 会话指标
	IncrementSessionsOpened(protocol Protocol)
	IncrementSessionsFailed(protocol Protocol)
	IncrementSessionsDropped(protocol Protocol)
	IncrementSessionsClosed(protocol Protocol)

	// 操作指标
	RecordOperation(protocol Protocol, operation string, duration time.Duration, err error)

	GetMetrics() *MetricsSnapshot
	Reset()
}

// 指标快照
type MetricsSnapshot struct {
	Timestamp        time.Time                                 `json:"timestamp"`
	Uptime           time.Duration                             `json:"uptime"`
	SessionMetrics   map[Protocol]*SessionMetrics              `json:"session_metrics"`
	OperationMetrics map[Protocol]map[string]*OperationMetrics `json:"operation_metrics"`
}

type SessionMetrics struct {
	Opened  int64 `json:"opened"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Closed  int64 `json:"closed"`
}

// 操作指标
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	ErrorRate     float64       `json:"error_rate"`
}

// 默认指标收集器实现
type DefaultMetricsCollector struct {
	mu sync.RWMutex

	sessionMetrics   map[Protocol]*atomicSessionMetrics
	operationMetrics map[Protocol]map[string]*atomicOperationMetrics

	startTime time.Time
}

type atomicSessionMetrics struct {
	opened  int64
	failed  int64
	dropped int64
	closed  int64
}

type atomicOperationMetrics struct {
	count         int64
	errors        int64
	totalDuration int64 // nanoseconds
	maxDuration   int64 // nanoseconds
}

// NewDefaultMetricsCollector 创建默认指标收集器
func NewDefaultMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{
		sessionMetrics:   make(map[Protocol]*atomicSessionMetrics),
		operationMetrics: make(map[Protocol]map[string]*atomicOperationMetrics),
		startTime:        time.Now(),
	}
}

func (c *DefaultMetricsCollector) IncrementSessionsOpened(protocol Protocol) {
	atomic.AddInt64(&c.getSessionMetrics(protocol).opened, 1)
}

func (c *DefaultMetricsCollector) IncrementSessionsFailed(protocol Protocol) {
	atomic.AddInt64(&c.getSessionMetrics(protocol).failed, 1)
}

func (c *DefaultMetricsCollector) IncrementSessionsDropped(protocol Protocol) {
	atomic.AddInt64(&c.getSessionMetrics(protocol).dropped, 1)
}

func (c *DefaultMetricsCollector) IncrementSessionsClosed(protocol Protocol) {
	atomic.AddInt64(&c.getSessionMetrics(protocol).closed, 1)
}

// RecordOperation 记录一次设备操作
func (c *DefaultMetricsCollector) RecordOperation(protocol Protocol, operation string, duration time.Duration, err error) {
	metrics := c.getOperationMetrics(protocol, operation)
	nanos := duration.Nanoseconds()

	atomic.AddInt64(&metrics.count, 1)
	atomic.AddInt64(&metrics.totalDuration, nanos)
	if err != nil {
		atomic.AddInt64(&metrics.errors, 1)
	}

	// 更新最大值
	for {
		current := atomic.LoadInt64(&metrics.maxDuration)
		if nanos <= current || atomic.CompareAndSwapInt64(&metrics.maxDuration, current, nanos) {
			break
		}
	}
}

// GetMetrics 获取指标快照
func (c *DefaultMetricsCollector) GetMetrics() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	snapshot := &MetricsSnapshot{
		Timestamp:        now,
		Uptime:           now.Sub(c.startTime),
		SessionMetrics:   make(map[Protocol]*SessionMetrics, len(c.sessionMetrics)),
		OperationMetrics: make(map[Protocol]map[string]*OperationMetrics, len(c.operationMetrics)),
	}

	for protocol, m := range c.sessionMetrics {
		snapshot.SessionMetrics[protocol] = &SessionMetrics{
			Opened:  atomic.LoadInt64(&m.opened),
			Failed:  atomic.LoadInt64(&m.failed),
			Dropped: atomic.LoadInt64(&m.dropped),
			Closed:  atomic.LoadInt64(&m.closed),
		}
	}

	for protocol, operations := range c.operationMetrics {
		out := make(map[string]*OperationMetrics, len(operations))
		for name, m := range operations {
			count := atomic.LoadInt64(&m.count)
			errs := atomic.LoadInt64(&m.errors)
			total := time.Duration(atomic.LoadInt64(&m.totalDuration))
			om := &OperationMetrics{
				Count:         count,
				Errors:        errs,
				TotalDuration: total,
				MaxDuration:   time.Duration(atomic.LoadInt64(&m.maxDuration)),
			}
			if count > 0 {
				om.AvgDuration = total / time.Duration(count)
				om.ErrorRate = float64(errs) / float64(count)
			}
			out[name] = om
		}
		snapshot.OperationMetrics[protocol] = out
	}

	return snapshot
}

// Reset 重置指标
func (c *DefaultMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionMetrics = make(map[Protocol]*atomicSessionMetrics)
	c.operationMetrics = make(map[Protocol]map[string]*atomicOperationMetrics)
	c.startTime = time.Now()
}

func (c *DefaultMetricsCollector) getSessionMetrics(protocol Protocol) *atomicSessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if metrics, exists := c.sessionMetrics[protocol]; exists {
		return metrics
	}
	metrics := &atomicSessionMetrics{}
	c.sessionMetrics[protocol] = metrics
	return metrics
}

func (c *DefaultMetricsCollector) getOperationMetrics(protocol Protocol, operation string) *atomicOperationMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	operations, exists := c.operationMetrics[protocol]
	if !exists {
		operations = make(map[string]*atomicOperationMetrics)
		c.operationMetrics[protocol] = operations
	}
	if metrics, exists := operations[operation]; exists {
		return metrics
	}
	metrics := &atomicOperationMetrics{}
	operations[operation] = metrics
	return metrics
}

// 全局指标收集器
var globalMetricsCollector MetricsCollector = NewDefaultMetricsCollector()

// GetGlobalMetricsCollector 获取全局指标收集器
func GetGlobalMetricsCollector() MetricsCollector {
	return globalMetricsCollector
}
