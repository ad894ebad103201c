package http

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"askdoc/internal/bootstrap"
	"askdoc/internal/transport/http/handler"
	"askdoc/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), middleware.Recovery())

	router.GET("/healthz", newHealthHandler(app).Check)

	authHandler := handler.NewAuthHandler(app.AuthService)
	messageHandler := handler.NewMessageHandler(app.QueryPipeline, app.MessageService)
	documentHandler := handler.NewDocumentHandler(app.IngestService, int64(app.Config.Ingest.MaxUploadMB)<<20)

	Register(router, app.Config.Auth.JWTSecret, authHandler, messageHandler, documentHandler)
	return router
}

// Register mounts the API routes on router.
func Register(
	router gin.IRouter,
	jwtSecret string,
	authHandler *handler.AuthHandler,
	messageHandler *handler.MessageHandler,
	documentHandler *handler.DocumentHandler,
) {
	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(jwtSecret), authHandler.Me)

	protected := v1.Group("")
	protected.Use(middleware.AuthJWT(jwtSecret))
	protected.POST("/messages", messageHandler.SendMessage)
	protected.POST("/documents", documentHandler.Upload)
	protected.GET("/documents", documentHandler.List)
	protected.GET("/documents/:id", documentHandler.Get)
	protected.GET("/documents/:id/messages", messageHandler.ListMessages)
}

func newHealthHandler(app *bootstrap.App) *handler.HealthHandler {
	return handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt,
		handler.DependencyCheck{Name: "mysql", Check: func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		handler.DependencyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}},
		handler.DependencyCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if app.MQConn == nil || app.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
		handler.DependencyCheck{Name: "vector", Check: app.VectorIndex.Ping},
	)
}
