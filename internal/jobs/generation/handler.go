// Package generation runs content generation jobs.
package generation

import (
	"fmt"

	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

type Handler struct {
	svc services.GenerationService
}

func New(svc services.GenerationService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Type() string { return services.JobTypeGenerateContent }

func (h *Handler) Run(jc *runtime.Context) error {
	req, err := RequestFromContext(jc)
	if err != nil {
		return runtime.Permanent(err)
	}
	job := services.GenerationJob{ID: jc.Job.ID, Attempt: jc.Attempt, Final: jc.Final}
	res, err := h.svc.Execute(jc.Ctx, job, req)
	if err != nil && !job.Final && llm.IsRejected(err) {
		// A rejected request fails the same way on every retry.
		jc.Log.Warn("Provider rejected generation; using fallback", "error", err)
		job.Final = true
		res, err = h.svc.Execute(jc.Ctx, job, req)
	}
	if err != nil {
		// Missing rows or a malformed request will not heal on retry.
		if apierr.IsNotFound(err) || apierr.IsValidation(err) {
			return runtime.Permanent(err)
		}
		return err
	}
	result := map[string]any{
		"generated_content_id": res.Content.ID.String(),
		"generator":            res.Content.Generator,
	}
	if res.Recommendation != nil {
		result["recommendation_id"] = res.Recommendation.ID.String()
	}
	jc.SetResult(result)
	return nil
}

// RequestFromContext decodes the payload written by GenerationRequest.Payload.
func RequestFromContext(jc *runtime.Context) (services.GenerationRequest, error) {
	req := services.GenerationRequest{
		Kind:               learning.GenerationKind(jc.PayloadString("kind")),
		RecommendationKind: learning.RecommendationKind(jc.PayloadString("recommendation_kind")),
	}
	if !req.Kind.Valid() {
		return req, fmt.Errorf("payload kind %q is not a generation kind", req.Kind)
	}
	learnerID, ok := jc.PayloadInt64("learner_id")
	if !ok || learnerID <= 0 {
		return req, fmt.Errorf("payload missing learner_id")
	}
	blockID, ok := jc.PayloadInt64("block_id")
	if !ok || blockID <= 0 {
		return req, fmt.Errorf("payload missing block_id")
	}
	req.LearnerID, req.BlockID = learnerID, blockID
	if q, ok := jc.PayloadInt64("question_id"); ok && q > 0 {
		req.QuestionID = &q
	}
	return req, nil
}
