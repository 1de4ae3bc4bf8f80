package routes

import (
	"log"
	"net/http"

	"matchquiz/handlers"
	"matchquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the bridge only listens on a local interface
	},
}

func SetupRoutes(router *gin.Engine, sessionHandler *handlers.SessionHandler, hub *services.Hub) {
	api := router.Group("/api")
	{
		session := api.Group("/session")
		{
			session.GET("", sessionHandler.GetSession)
			session.POST("", sessionHandler.JoinSession)
			session.POST("/start", sessionHandler.StartSession)
			session.POST("/answer", sessionHandler.SubmitAnswer)
			session.POST("/media", sessionHandler.RequestMedia)
			session.POST("/notice/dismiss", sessionHandler.DismissNotice)
			session.DELETE("", sessionHandler.ResetSession)
			session.GET("/share.png", sessionHandler.ShareCode)
		}
	}

	// Live view for local UI clients
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := hub.RegisterClient(conn)
		log.Printf("UI client %s connected (%d total)", client.ID(), hub.ClientCount())
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
