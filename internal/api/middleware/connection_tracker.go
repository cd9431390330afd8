package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// ConnectionTracker counts in-flight requests. Server.ActiveConnections exposes
// the count and Server.Stop logs it when shutdown begins.
type ConnectionTracker struct {
	count atomic.Int64
}

// Increment atomically increases the active connection count by 1.
func (ct *ConnectionTracker) Increment() {
	ct.count.Add(1)
}

// Decrement atomically decreases the active connection count by 1.
func (ct *ConnectionTracker) Decrement() {
	ct.count.Add(-1)
}

// Count returns the current number of active connections.
func (ct *ConnectionTracker) Count() int64 {
	return ct.count.Load()
}

// Middleware returns a Gin middleware that tracks requests on ct.
func (ct *ConnectionTracker) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ct.Increment()
		defer ct.Decrement()
		c.Next()
	}
}
