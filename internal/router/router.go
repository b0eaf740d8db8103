package router

import (
	"net/http"

	"github.com/foxrun/chandrive/internal/config"
	"github.com/foxrun/chandrive/internal/handlers"
	"github.com/foxrun/chandrive/internal/middlewares"
	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// Handlers bundles every handler group the router wires up.
type Handlers struct {
	Upload   *handlers.UploadHandlers
	Files    *handlers.FileHandlers
	Download *handlers.DownloadHandlers
	Stream   *handlers.StreamHandlers
	System   *handlers.SystemHandlers
}

// InitRouter builds the gin engine and registers every route from
// spec.md §6.
func InitRouter(cfg *config.Config, h *Handlers) *gin.Engine {
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := r.Group("/api")
	api.Use(middlewares.AuthMiddleware(cfg.Auth.Secret))
	{
		uploadGroup := api.Group("/upload/file")
		{
			uploadGroup.POST("/init", h.Upload.Init)
			uploadGroup.POST("/:id/chunk", h.Upload.Chunk)
			uploadGroup.GET("/:id/chunks", h.Upload.Chunks)
			uploadGroup.POST("/:id/finalize", h.Upload.Finalize)
			uploadGroup.POST("/:id/abort", h.Upload.Abort)
			uploadGroup.DELETE("/pending/all", h.Upload.PurgePending)
		}

		filesGroup := api.Group("/files")
		{
			filesGroup.GET("", h.Files.List)
			filesGroup.GET("/search", h.Files.Search)
			filesGroup.DELETE("/trash", h.Files.EmptyTrash)
			filesGroup.GET("/:id", h.Files.Get)
			filesGroup.POST("/:id/restore", h.Files.Restore)
			filesGroup.DELETE("/:id", h.Files.Delete)
		}

		api.GET("/download/:id", h.Download.Download)
		api.GET("/stream/file/:id", h.Stream.Stream)

		systemGroup := api.Group("/system")
		{
			systemGroup.GET("/health", h.System.Health)
			systemGroup.GET("/stats", h.System.Stats)
			systemGroup.POST("/backup", h.System.Backup)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		xerr.Fail(c, xerr.New(xerr.CodeNotFound, xerr.ErrNotFound))
	})

	return r
}
