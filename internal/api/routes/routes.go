package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/jastalk/jastalk/internal/api/handlers"
	"github.com/jastalk/jastalk/internal/api/middleware"
)

type Deps struct {
	Session        *handlers.SessionHandler
	Credit         *handlers.CreditHandler
	Conversation   *handlers.ConversationHandler
	JobDescription *handlers.JobDescriptionHandler
	WS             *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.GET("/credits", d.Credit.Balance)
	auth.POST("/credits/refresh", d.Credit.Refresh)
	auth.POST("/credits/purchase", d.Credit.Purchase)

	auth.POST("/jobdescriptions", d.JobDescription.Upload)
	auth.GET("/jobdescriptions", d.JobDescription.List)
	auth.GET("/jobdescriptions/:id", d.JobDescription.Get)
	auth.POST("/jobdescriptions/:id/questions", d.JobDescription.GenerateQuestions)

	auth.POST("/interviews", d.Session.Create)
	auth.GET("/interviews/:session_id", d.Session.Get)
	auth.POST("/interviews/:session_id/start", d.Session.Start)
	auth.POST("/interviews/:session_id/pause", d.Session.Pause)
	auth.POST("/interviews/:session_id/resume", d.Session.Resume)
	auth.POST("/interviews/:session_id/finish", d.Session.Finish)

	auth.GET("/conversation/:session_id", d.Conversation.ListBySession)

	// WebSocket
	auth.GET("/ws/interview/:session_id", d.WS.InterviewWS)

	// Admin
	admin := auth.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/credits/:user_id/grant", d.Credit.AdminGrant)
}
