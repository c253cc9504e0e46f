package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Health is the /health response body.
type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status `json:"status"`
	Optional  bool   `json:"optional,omitempty"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type entry struct {
	checker  Checker
	optional bool
}

// CheckerRegistry runs every registered checker concurrently, each bounded
// by the same timeout.
type CheckerRegistry struct {
	entries []entry
	timeout time.Duration
	now     func() time.Time
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{timeout: checkTimeout, now: time.Now}
}

// Register adds a checker whose failure makes the service unhealthy.
func (r *CheckerRegistry) Register(checker Checker) {
	r.entries = append(r.entries, entry{checker: checker})
}

// RegisterOptional adds a checker whose failure only degrades the service.
func (r *CheckerRegistry) RegisterOptional(checker Checker) {
	r.entries = append(r.entries, entry{checker: checker, optional: true})
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(r.entries))
		g       errgroup.Group
	)
	for _, e := range r.entries {
		g.Go(func() error {
			start := r.now()
			err := e.checker.Check(ctx)
			result := CheckResult{
				Status:    StatusHealthy,
				Optional:  e.optional,
				LatencyMs: r.now().Sub(start).Milliseconds(),
			}
			if err != nil {
				result.Message = err.Error()
				result.Status = StatusUnhealthy
				if e.optional {
					result.Status = StatusDegraded
				}
			}

			mu.Lock()
			results[e.checker.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Health{Status: overall(results), Timestamp: r.now().UTC(), Checks: results}
}

func overall(results map[string]CheckResult) Status {
	status := StatusHealthy
	for _, res := range results {
		switch res.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Handler serves the registry as JSON: 503 when unhealthy, 200 otherwise.
func (r *CheckerRegistry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := r.Check(c.Request.Context())
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, h)
	}
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string                    { return c.name }
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// RuleSource is the part of the rule store the rules checker reads.
type RuleSource interface {
	Loaded() (bool, time.Time)
	Source() string
}

// NewRulesChecker fails until rules have loaded once, and again when the last
// successful load is older than maxAge. maxAge <= 0 disables the age check.
func NewRulesChecker(store RuleSource, maxAge time.Duration) *CheckFunc {
	return NewCheckFunc("rules", func(context.Context) error {
		loaded, at := store.Loaded()
		if !loaded {
			return fmt.Errorf("rules from %s not loaded", store.Source())
		}
		if age := time.Since(at); maxAge > 0 && age > maxAge {
			return fmt.Errorf("rules from %s last loaded %s ago", store.Source(), age.Truncate(time.Second))
		}
		return nil
	})
}

// NewPostgreSQLChecker pings the rule database.
func NewPostgreSQLChecker(db *sql.DB) *CheckFunc {
	return NewCheckFunc("postgresql", func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgresql ping failed: %w", err)
		}
		return nil
	})
}

// NewRedisChecker pings the shared catalog tier.
func NewRedisChecker(client *redis.Client) *CheckFunc {
	return NewCheckFunc("redis", func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}
