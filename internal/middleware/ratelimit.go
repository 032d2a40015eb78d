package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	redisclient "github.com/whiskertales/backend/internal/clients/redis"
	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/requestdata"
)

// Capabilities, one per rate-limited surface. Routes declare a capability;
// the policy table owns the numbers.
const (
	CapAPI            = "api"
	CapAIGenerate     = "ai_generate"
	CapUpload         = "upload"
	CapSimplifyCreate = "simplify_create"
	CapPublicView     = "public_view"
	CapDownload       = "download"
	CapAuthAttempts   = "auth_attempts"
	CapSearch         = "search"
	CapBulk           = "bulk"
	CapReport         = "report"
	CapNotify         = "notify"
	CapShareAccess    = "share_access"
)

// KeyKind selects the principal a rule counts against.
type KeyKind int

const (
	KeyUser KeyKind = iota
	KeyIP
	KeyGlobal
)

// Rule is one fixed-window counter: at most Max hits per Window.
type Rule struct {
	Max    int64
	Window time.Duration
	Key    KeyKind
}

// Policy maps capability to its rules. Multiple rules on one capability all
// have to pass; the AI ones stack a burst limit, a sustained limit, and a
// global spend guard.
type Policy map[string][]Rule

func DefaultPolicy() Policy {
	return Policy{
		CapAPI:            {{Max: 300, Window: time.Minute, Key: KeyUser}},
		CapAIGenerate:     {{Max: 5, Window: time.Minute, Key: KeyUser}, {Max: 50, Window: time.Hour, Key: KeyUser}, {Max: 500, Window: time.Hour, Key: KeyGlobal}},
		CapUpload:         {{Max: 20, Window: time.Hour, Key: KeyUser}},
		CapSimplifyCreate: {{Max: 10, Window: time.Minute, Key: KeyUser}},
		CapPublicView:     {{Max: 60, Window: time.Minute, Key: KeyIP}},
		CapDownload:       {{Max: 30, Window: time.Minute, Key: KeyUser}},
		CapAuthAttempts:   {{Max: 10, Window: 15 * time.Minute, Key: KeyIP}},
		CapSearch:         {{Max: 60, Window: time.Minute, Key: KeyUser}},
		CapBulk:           {{Max: 5, Window: time.Minute, Key: KeyUser}},
		CapReport:         {{Max: 10, Window: time.Hour, Key: KeyIP}},
		CapNotify:         {{Max: 30, Window: time.Hour, Key: KeyUser}},
		CapShareAccess:    {{Max: 120, Window: time.Minute, Key: KeyIP}},
	}
}

// RateLimiter evaluates the policy table against fixed-window counters in
// the cache. One evaluator for every capability; no per-capability code.
type RateLimiter struct {
	log    *logger.Logger
	cache  redisclient.Cache
	policy Policy
	now    func() time.Time
}

func NewRateLimiter(log *logger.Logger, cache redisclient.Cache, policy Policy) *RateLimiter {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &RateLimiter{
		log:    log.With("middleware", "RateLimiter"),
		cache:  cache,
		policy: policy,
		now:    time.Now,
	}
}

// Limit returns middleware enforcing the named capability. Unknown
// capabilities pass everything through, so a route cannot be bricked by a
// policy typo.
func (rl *RateLimiter) Limit(capability string) gin.HandlerFunc {
	rules := rl.policy[capability]
	return func(c *gin.Context) {
		for i, rule := range rules {
			count, err := rl.cache.Increment(c.Request.Context(), rl.counterKey(capability, i, rule, c), rule.Window)
			if err != nil {
				// Fail open: a cache outage must not take the API down.
				rl.log.Warn("Rate limit counter unavailable", "capability", capability, "error", err)
				continue
			}

			remaining := rule.Max - count
			if remaining < 0 {
				remaining = 0
			}
			c.Header("X-RateLimit-Limit", strconv.FormatInt(rule.Max, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > rule.Max {
				retryAfter := secondsToWindowEnd(rl.now(), rule.Window)
				c.Header("Retry-After", strconv.Itoa(retryAfter))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":       "rate limit exceeded",
					"capability":  capability,
					"retry_after": retryAfter,
				})
				return
			}
		}
		c.Next()
	}
}

func (rl *RateLimiter) counterKey(capability string, ruleIdx int, rule Rule, c *gin.Context) string {
	principal := "global"
	switch rule.Key {
	case KeyUser:
		if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil && rd.UserID != uuid.Nil {
			principal = "u:" + rd.UserID.String()
		} else {
			// Unauthenticated hit on a user-keyed rule falls back to IP.
			principal = "ip:" + c.ClientIP()
		}
	case KeyIP:
		principal = "ip:" + c.ClientIP()
	}
	bucket := rl.now().UTC().Truncate(rule.Window).Unix()
	return fmt.Sprintf("rl:%s:%d:%s:%d", capability, ruleIdx, principal, bucket)
}

func secondsToWindowEnd(now time.Time, window time.Duration) int {
	elapsed := now.UTC().Sub(now.UTC().Truncate(window))
	secs := int((window - elapsed).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}
