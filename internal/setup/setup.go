// Package setup wires every component together: the metadata index, the
// object-store adapter, the refresh layer, and the engines and handlers
// that sit on top of them.
package setup

import (
	"fmt"

	"github.com/foxrun/chandrive/internal/attachmentstore"
	"github.com/foxrun/chandrive/internal/attachmentstore/refresh"
	"github.com/foxrun/chandrive/internal/backup"
	"github.com/foxrun/chandrive/internal/config"
	"github.com/foxrun/chandrive/internal/download"
	"github.com/foxrun/chandrive/internal/files"
	"github.com/foxrun/chandrive/internal/handlers"
	"github.com/foxrun/chandrive/internal/index"
	"github.com/foxrun/chandrive/internal/rangestream"
	"github.com/foxrun/chandrive/internal/router"
	"github.com/foxrun/chandrive/internal/upload"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Application holds every long-lived component constructed at startup, so
// main can close the index cleanly on shutdown.
type Application struct {
	DB     *gorm.DB
	Router *gin.Engine
}

// Build constructs the full dependency graph and returns the ready-to-serve
// application.
func Build(cfg *config.Config) (*Application, error) {
	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("setup: failed to open index: %w", err)
	}
	store := index.New(db)

	client := attachmentstore.NewClient(cfg.Attachment.BaseURL, cfg.Attachment.BotToken, cfg.Attachment.RequestTimeout)
	adapter := attachmentstore.NewAdapter(client, cfg.Attachment.ChannelID, cfg.Attachment.BackupChannelID)

	backupProtocol := backup.New(adapter, cfg.Index.Path)
	refreshLayer := refresh.New(adapter, store)

	uploadEngine := upload.New(store, adapter, backupProtocol)
	filesService := files.NewService(store, adapter)
	downloadEngine := download.New(store, refreshLayer)
	streamEngine := rangestream.New(store, refreshLayer)

	h := &router.Handlers{
		Upload:   handlers.NewUploadHandlers(uploadEngine, cfg.DownloadChunk.LogicalSize),
		Files:    handlers.NewFileHandlers(filesService),
		Download: handlers.NewDownloadHandlers(downloadEngine, store),
		Stream:   handlers.NewStreamHandlers(streamEngine, store),
		System:   handlers.NewSystemHandlers(store, adapter, backupProtocol, cfg.Index.Path),
	}

	return &Application{
		DB:     db,
		Router: router.InitRouter(cfg, h),
	}, nil
}
