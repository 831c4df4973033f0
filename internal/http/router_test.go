package http

import (
	"bytes"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-ale/internal/contentgen"
	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	"github.com/yungbote/neurobridge-ale/internal/data/repos/testutil"
	httpH "github.com/yungbote/neurobridge-ale/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-ale/internal/http/middleware"
	"github.com/yungbote/neurobridge-ale/internal/learning/distress"
	"github.com/yungbote/neurobridge-ale/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ale/internal/realtime/bus"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *testutil.Curriculum) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	cur := testutil.SeedCurriculum(t, db)
	r := repos.New(db, log)

	tmpl, err := contentgen.NewTemplateGenerator()
	require.NoError(t, err)
	th := distress.DefaultThresholds()
	notify := services.NewNotifier(bus.NewMemoryBus(), log)
	jobs := services.NewJobService(db, log, r.JobRun, nil, nil, "")
	gen := services.NewGenerationService(db, log, r, jobs, tmpl, tmpl, notify, nil)
	recs := services.NewRecommendationService(db, log, r, gen, notify, th, nil)
	progression := services.NewProgressionService(db, log, r, nil)

	router := NewRouter(RouterConfig{
		Log:            log,
		AuthMiddleware: httpMW.NewAuthMiddleware(log, testSecret),
		AnalyticsHandler: httpH.NewAnalyticsHandler(log,
			services.NewTelemetryService(db, log, r, recs, progression, th, nil),
			services.NewAttemptService(db, log, r, recs, th, nil)),
		RecommendationHandler: httpH.NewRecommendationHandler(log, recs),
		ContentHandler:        httpH.NewContentHandler(log, services.NewContentService(db, log, r, nil)),
		HealthHandler:         httpH.NewHealthHandler(db),
	})
	return router, cur
}

func token(t *testing.T, learnerID int64, role ctxutil.Role) string {
	t.Helper()
	tok, err := httpMW.SignToken(testSecret, ctxutil.Principal{LearnerID: learnerID, Role: role, InstitutionID: 9}, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, r *gin.Engine, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTrackBlockEventRoute(t *testing.T) {
	r, cur := newTestRouter(t)
	learner := token(t, cur.Learner.ID, ctxutil.RoleLearner)

	rec := do(t, r, nethttp.MethodPost, "/analytics/block-events", learner, map[string]any{
		"block_id": cur.A1.ID, "dt_seconds": 950, "scroll_pct": 80, "interactions": map[string]int{"clicks": 2},
	})
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		TotalTime float64 `json:"total_time"`
		Visits    int     `json:"visits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 950.0, got.TotalTime)
	require.Equal(t, 1, got.Visits)
	require.NotEmpty(t, rec.Header().Get(httpMW.HeaderRequestID))

	rec = do(t, r, nethttp.MethodGet, "/recommendations", learner, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Recommendations []struct {
			ID   uuid.UUID `json:"id"`
			Kind string    `json:"kind"`
		} `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Recommendations, 1)
	require.Equal(t, "change-approach", list.Recommendations[0].Kind)

	rec = do(t, r, nethttp.MethodPost, "/recommendations/"+list.Recommendations[0].ID.String()+"/seen", learner, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = do(t, r, nethttp.MethodGet, "/recommendations", learner, nil)
	require.JSONEq(t, `{"recommendations":[]}`, rec.Body.String())
}

func TestRouteErrors(t *testing.T) {
	r, cur := newTestRouter(t)
	learner := token(t, cur.Learner.ID, ctxutil.RoleLearner)

	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		body   any
		want   int
		code   string
	}{
		{"no token", nethttp.MethodGet, "/recommendations", "", nil, nethttp.StatusUnauthorized, "unauthorized"},
		{"instructor", nethttp.MethodGet, "/recommendations", token(t, 5, ctxutil.RoleInstructor), nil, nethttp.StatusForbidden, "forbidden"},
		{"scroll out of range", nethttp.MethodPost, "/analytics/block-events", learner, map[string]any{"block_id": cur.A1.ID, "dt_seconds": 1, "scroll_pct": 150}, nethttp.StatusBadRequest, "invalid_input"},
		{"unknown block", nethttp.MethodPost, "/analytics/block-events", learner, map[string]any{"block_id": 9999, "dt_seconds": 1}, nethttp.StatusNotFound, "block_not_found"},
		{"attempt missing is_correct", nethttp.MethodPost, "/analytics/attempts", learner, map[string]any{"question_id": cur.QA.ID}, nethttp.StatusBadRequest, "invalid_input"},
		{"bad recommendation id", nethttp.MethodPost, "/recommendations/not-a-uuid/seen", learner, nil, nethttp.StatusBadRequest, "invalid_recommendation_id"},
		{"unknown recommendation", nethttp.MethodPost, "/recommendations/" + uuid.NewString() + "/followed", learner, nil, nethttp.StatusNotFound, ""},
		{"unknown content", nethttp.MethodGet, "/generated-content/" + uuid.NewString(), learner, nil, nethttp.StatusNotFound, ""},
		{"feedback without helpful", nethttp.MethodPost, "/generated-content/" + uuid.NewString() + "/feedback", learner, map[string]any{}, nethttp.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, r, tc.method, tc.path, tc.tok, tc.body)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())
			if tc.code == "" {
				return
			}
			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestAttemptRoute(t *testing.T) {
	r, cur := newTestRouter(t)
	learner := token(t, cur.Learner.ID, ctxutil.RoleLearner)
	body := map[string]any{"question_id": cur.QB.ID, "is_correct": false, "response_time_s": 9.5, "chosen_ids": []string{"c"}}

	rec := do(t, r, nethttp.MethodPost, "/analytics/attempts", learner, body)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"attempts":1,"failures":1}`, rec.Body.String())
}

func TestHealthcheck(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := do(t, r, nethttp.MethodGet, "/healthcheck", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
