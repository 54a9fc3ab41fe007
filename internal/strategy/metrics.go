package strategy

import (
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/cache"
)

// maxResponseSamples bounds the response-time samples kept for averages.
const maxResponseSamples = 1000

// counters is the process-lifetime aggregate mutated after every Process call.
type counters struct {
	mu            sync.Mutex
	total         int64
	successful    int64
	failed        int64
	responseTimes []time.Duration
	usage         map[string]int64
	startedAt     time.Time
}

func newCounters() *counters {
	return &counters{usage: make(map[string]int64), startedAt: time.Now()}
}

func (c *counters) request() {
	c.mu.Lock()
	c.total++
	c.mu.Unlock()
}

func (c *counters) success(strategyName string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successful++
	c.usage[strategyName]++
	c.responseTimes = append(c.responseTimes, elapsed)
	if len(c.responseTimes) > maxResponseSamples {
		c.responseTimes = c.responseTimes[len(c.responseTimes)-maxResponseSamples:]
	}
}

func (c *counters) failure() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

func (c *counters) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total, c.successful, c.failed = 0, 0, 0
	c.responseTimes = nil
	c.usage = make(map[string]int64)
	c.startedAt = time.Now()
}

// Stats is a read-only snapshot of manager metrics. Key names are stable.
type Stats struct {
	TotalRequests       int64            `json:"total_requests"`
	SuccessfulRequests  int64            `json:"successful_requests"`
	FailedRequests      int64            `json:"failed_requests"`
	SuccessRate         float64          `json:"success_rate"`
	AverageResponseTime float64          `json:"average_response_time"`
	UptimeSeconds       float64          `json:"uptime_seconds"`
	StrategyUsage       map[string]int64 `json:"strategy_usage"`
	Strategies          []string         `json:"strategies"`
	FallbackStrategy    string           `json:"fallback_strategy"`
	MaxResponseTime     float64          `json:"max_response_time"`
	Cache               *cache.Stats     `json:"cache,omitempty"`
}

// PerformanceReport extends Stats with distribution and latency details.
type PerformanceReport struct {
	Summary              Stats              `json:"summary"`
	MinResponseTime      float64            `json:"min_response_time"`
	MaxResponseTimeSeen  float64            `json:"max_response_time_seen"`
	StrategyDistribution map[string]float64 `json:"strategy_distribution"`
	Recommendations      []string           `json:"recommendations"`
	GeneratedAt          time.Time          `json:"generated_at"`
}

type snapshot struct {
	total, successful, failed int64
	times                     []time.Duration
	usage                     map[string]int64
	startedAt                 time.Time
}

func (c *counters) snapshot() snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	usage := make(map[string]int64, len(c.usage))
	for k, v := range c.usage {
		usage[k] = v
	}
	times := make([]time.Duration, len(c.responseTimes))
	copy(times, c.responseTimes)
	return snapshot{
		total:      c.total,
		successful: c.successful,
		failed:     c.failed,
		times:      times,
		usage:      usage,
		startedAt:  c.startedAt,
	}
}
