package domain

import (
	"github.com/yungbote/neurobridge-ale/internal/domain/catalog"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
)

type (
	Learner  = catalog.Learner
	Course   = catalog.Course
	Module   = catalog.Module
	Sequence = catalog.Sequence
	Block    = catalog.Block
	Quiz     = catalog.Quiz
	Question = catalog.Question

	BlockAnalytics    = learning.BlockAnalytics
	QuestionAnalytics = learning.QuestionAnalytics
	GeneratedContent  = learning.GeneratedContent
	Recommendation    = learning.Recommendation
	BlockProgress     = learning.BlockProgress
	SequenceProgress  = learning.SequenceProgress
	ModuleProgress    = learning.ModuleProgress
	CourseProgress    = learning.CourseProgress

	JobRun = jobs.JobRun
)

// CatalogModels are owned by the curriculum service; migrations create them
// only for local and test databases.
func CatalogModels() []any {
	return []any{
		&Learner{}, &Course{}, &Module{}, &Sequence{}, &Block{}, &Quiz{}, &Question{},
	}
}

// EngineModels are the tables the engine owns.
func EngineModels() []any {
	return []any{
		&BlockAnalytics{}, &QuestionAnalytics{},
		&GeneratedContent{}, &Recommendation{},
		&BlockProgress{}, &SequenceProgress{}, &ModuleProgress{}, &CourseProgress{},
		&JobRun{},
	}
}
