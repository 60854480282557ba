package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// rateLimitMiddleware throttles by client address through the shared redis
// bucket. Without redis the limiter is absent and requests pass through.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		key := "bookvault:api:" + c.ClientIP()
		res, err := s.limiter.Allow(c.Request.Context(), key, s.cfg.Orders.APIRateLimit, s.cfg.Orders.APIRateBurst)
		if err != nil {
			// Redis trouble should not take the API down.
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}

// userID reads the authenticated subject from the X-User-ID header. Auth
// itself terminates upstream; only the identity is forwarded here.
func userID(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if raw == "" {
		return 0, false
	}
	parsed, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func requireUser(c *gin.Context) (snowflake.ID, bool) {
	id, ok := userID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorPayload{
			Type:    "unauthorized",
			Message: "missing or invalid user identity",
		}})
		return 0, false
	}
	return id, true
}
