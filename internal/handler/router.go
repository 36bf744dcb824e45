package handler

import (
	"time"

	"dream-weaver-go/internal/middleware"
	"dream-weaver-go/internal/service"

	"github.com/gin-gonic/gin"
)

// RouterDeps 汇总了注册路由所需的依赖。Images 为 nil 时不注册图片转发路由。
type RouterDeps struct {
	Sessions    *service.SessionManager
	Journal     *service.Journal
	Search      service.SearchService
	Images      ImageLinker
	ImageExpiry time.Duration
}

// NewRouter 创建路由引擎并注册所有路由。
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	sessionHandler := NewSessionHandler(deps.Sessions)
	journalHandler := NewJournalHandler(deps.Journal, deps.Search)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/sessions", sessionHandler.Create)

		// 会话路由组，需要认证
		session := apiV1.Group("/session")
		session.Use(middleware.SessionAuth(deps.Sessions))
		{
			session.GET("", sessionHandler.Snapshot)
			session.POST("/recording/start", sessionHandler.StartRecording)
			session.POST("/recording/stop", sessionHandler.StopRecording)
			session.POST("/dreams/:id/view", sessionHandler.ViewDream)
			session.PUT("/tags", sessionHandler.SetTags)
			session.POST("/tags", sessionHandler.AddTag)
			session.DELETE("/tags/:tag", sessionHandler.RemoveTag)
			session.POST("/save", sessionHandler.Save)
			session.POST("/reset", sessionHandler.Reset)
			session.POST("/chat", sessionHandler.Chat)
		}

		// 日志路由组，需要认证
		dreams := apiV1.Group("/dreams")
		dreams.Use(middleware.SessionAuth(deps.Sessions))
		{
			dreams.GET("", journalHandler.List)
			dreams.GET("/search", journalHandler.Search)
			dreams.GET("/:id", journalHandler.Get)
		}

		if deps.Images != nil {
			apiV1.GET("/images/*object", NewImageHandler(deps.Images, deps.ImageExpiry).Redirect)
		}
	}

	// 语音识别 (WebSocket)
	r.GET("/ws/speech/:token", NewSpeechHandler(deps.Sessions).Handle)
	return r
}
