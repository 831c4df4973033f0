package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/data/repos/catalog"
	"github.com/yungbote/neurobridge-ale/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-ale/internal/data/repos/learning"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type CatalogRepo = catalog.CatalogRepo

type BlockAnalyticsRepo = learning.BlockAnalyticsRepo
type QuestionAnalyticsRepo = learning.QuestionAnalyticsRepo
type RecommendationRepo = learning.RecommendationRepo
type GeneratedContentRepo = learning.GeneratedContentRepo
type ProgressRepo = learning.ProgressRepo

type JobRunRepo = jobs.JobRunRepo

type Repos struct {
	Catalog           CatalogRepo
	BlockAnalytics    BlockAnalyticsRepo
	QuestionAnalytics QuestionAnalyticsRepo
	Recommendation    RecommendationRepo
	GeneratedContent  GeneratedContentRepo
	Progress          ProgressRepo
	JobRun            JobRunRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Catalog:           catalog.NewCatalogRepo(db, log),
		BlockAnalytics:    learning.NewBlockAnalyticsRepo(db, log),
		QuestionAnalytics: learning.NewQuestionAnalyticsRepo(db, log),
		Recommendation:    learning.NewRecommendationRepo(db, log),
		GeneratedContent:  learning.NewGeneratedContentRepo(db, log),
		Progress:          learning.NewProgressRepo(db, log),
		JobRun:            jobs.NewJobRunRepo(db, log),
	}
}
