// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"dream-weaver-go/internal/service"
	"dream-weaver-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SessionKey 是会话在 Gin 上下文中的键名。
const SessionKey = "session"

// SessionAuth 创建一个 Gin 中间件，用于会话 JWT 认证。
// 它会从请求头中提取 token，找到对应的会话并存入 Gin 的上下文中。
func SessionAuth(sessions *service.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头", "data": nil})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式", "data": nil})
			return
		}

		sess, err := sessions.Resolve(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Warnf("会话认证失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的会话", "data": nil})
			return
		}

		c.Set(SessionKey, sess)
		c.Next()
	}
}

// CurrentSession 取出 SessionAuth 存入的会话。
func CurrentSession(c *gin.Context) (*service.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*service.Session)
	return sess, ok
}
