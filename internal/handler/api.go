package handler

import (
	"github.com/draftflow/internal/config"
	"github.com/draftflow/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db       *gorm.DB
	research *service.ResearchService
	outlines *service.OutlineService
	writer   *service.WriterService
	editor   *service.EditorService
	linker   *service.LinkingService
	articles *service.ArticleService
	system   *service.SystemSettingService
}

// NewAPI constructs a handler set with shared services.
func NewAPI(db *gorm.DB, pipeline config.PipelineConfig) *API {
	systemService := service.NewSystemSettingService(db)
	embeddingService := service.NewEmbeddingService(systemService)
	similarityService := service.NewSimilarityService(db)
	articleService := service.NewArticleService(db, pipeline.Writer)

	return &API{
		db:       db,
		research: service.NewResearchService(db, systemService, embeddingService, similarityService, pipeline.Similarity),
		outlines: service.NewOutlineService(db, systemService, pipeline.Writer),
		writer:   service.NewWriterService(db, systemService, embeddingService, articleService, pipeline.Writer),
		editor:   service.NewEditorService(db, systemService, embeddingService, articleService, pipeline.Writer),
		linker:   service.NewLinkingService(db, systemService, embeddingService, similarityService, articleService, pipeline.Linking),
		articles: articleService,
		system:   systemService,
	}
}

// DB exposes the underlying gorm instance for legacy paths.
func (a *API) DB() *gorm.DB {
	return a.db
}
