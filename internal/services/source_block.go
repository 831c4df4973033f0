package services

import (
	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
)

// resolveSourceBlock returns the block a question teaches: its own block when
// set, else the first visible block of its quiz's sequence. nil when neither
// resolves.
func resolveSourceBlock(dbc dbctx.Context, catalog repos.CatalogRepo, q *types.Question) (*types.Block, error) {
	if q == nil {
		return nil, nil
	}
	if q.BlockID != nil {
		b, err := catalog.GetBlock(dbc, *q.BlockID)
		if err != nil || b != nil {
			return b, err
		}
	}
	if q.QuizID == nil {
		return nil, nil
	}
	quiz, err := catalog.GetQuiz(dbc, *q.QuizID)
	if err != nil || quiz == nil || quiz.SequenceID == nil {
		return nil, err
	}
	return catalog.FirstVisibleBlock(dbc, *quiz.SequenceID)
}
