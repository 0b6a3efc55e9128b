package router

import (
	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/db"
	"github.com/draftflow/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(cfg config.AppConfig) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	r.Use(sessions.Sessions("draftflow_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	api := handler.NewAPI(db.DB, cfg.Pipeline)

	r.POST("/api/login", handler.Login)
	r.POST("/api/logout", handler.Logout)

	// 需要认证的 API 路由
	auth := r.Group("/api")
	auth.Use(handler.AuthRequired())
	{
		auth.GET("/me", handler.Me)

		auth.POST("/research", api.Research)
		auth.GET("/topics", api.GetTopics)
		auth.GET("/topics/:id", api.GetTopic)
		auth.PUT("/topics/:id/status", api.UpdateTopicStatus)
		auth.POST("/topics/:id/outline", api.GenerateOutline)
		auth.POST("/topics/:id/outline/stream", api.StreamOutline)

		auth.GET("/outlines/:id", api.GetOutline)
		auth.POST("/outlines/:id/approve", api.ApproveOutline)
		auth.POST("/outlines/:id/draft", api.GenerateDraft)
		auth.POST("/outlines/:id/draft/stream", api.StreamDraft)

		auth.GET("/articles", api.GetArticles)
		auth.GET("/articles/:id", api.GetArticle)
		auth.PUT("/articles/:id/status", api.UpdateArticleStatus)
		auth.GET("/articles/:id/versions", api.GetArticleVersions)
		auth.POST("/articles/:id/edit/stream", api.StreamEdit)
		auth.POST("/articles/:id/links/suggest", api.SuggestLinks)
		auth.GET("/articles/:id/links", api.GetLinkOpportunities)
		auth.POST("/articles/:id/links/apply", api.ApplyLinks)
		auth.PUT("/links/:id/status", api.UpdateLinkOpportunity)

		auth.GET("/settings", api.GetSettings)
		auth.PUT("/settings", api.UpdateSettings)
		auth.POST("/settings/test-connection", api.TestAIConnection)
	}

	return r
}
