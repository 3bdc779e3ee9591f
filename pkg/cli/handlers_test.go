package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mchmarny/regretguard/pkg/dataset"
	"github.com/mchmarny/regretguard/pkg/feature"
	"github.com/mchmarny/regretguard/pkg/model"
	"github.com/mchmarny/regretguard/pkg/score"
	"github.com/mchmarny/regretguard/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scorerOnce sync.Once
	testScorer *score.Scorer
	scorerErr  error
)

func getScorer(t *testing.T) *score.Scorer {
	t.Helper()
	scorerOnce.Do(func() {
		rows, err := dataset.NewSynthesizer(500, 42).Generate(context.Background())
		if err != nil {
			scorerErr = err
			return
		}
		tbl, err := dataset.NewTable(rows)
		if err != nil {
			scorerErr = err
			return
		}
		opt := model.DefaultTrainOptions()
		opt.Forest.Trees = 20
		b, err := model.Train(context.Background(), tbl, opt)
		if err != nil {
			scorerErr = err
			return
		}
		testScorer, scorerErr = score.New(b)
	})
	require.NoError(t, scorerErr)
	return testScorer
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := getScorer(t)
	ts := httptest.NewServer(makeRouter(s, session.New(s), newMetrics()))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL+path, r)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

const (
	ordinaryPurchase = `{"price":150,"account_balance":1250,"mood_score":6,"is_limited_offer":false,"sleep_hours":7.5,"merchant_risk_score":0.15}`
	riskyPurchase    = `{"price":5000,"account_balance":1000,"mood_score":1,"is_limited_offer":true,"sleep_hours":3,"merchant_risk_score":0.5}`
)

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, body := do(t, ts, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)

	var h healthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Greater(t, h.MAE, 0.0)
}

func TestModelAPI(t *testing.T) {
	ts := newTestServer(t)
	code, body := do(t, ts, http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, code)

	var m modelResponse
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, feature.Names(), m.Features)
	assert.Equal(t, 20, m.Trees)
	assert.Len(t, m.TopFeatures, score.TopKDefault)
	assert.Equal(t, score.DefaultThresholds(), m.Thresholds)
}

func TestScoreAPI(t *testing.T) {
	ts := newTestServer(t)

	t.Run("ordinary", func(t *testing.T) {
		code, body := do(t, ts, http.MethodPost, "/api/score", ordinaryPurchase)
		require.Equal(t, http.StatusOK, code)

		var a score.Assessment
		require.NoError(t, json.Unmarshal(body, &a))
		assert.InDelta(t, 0.12, a.Features.RelativePrice, 1e-9)
		assert.InDelta(t, 2.55, a.Features.ImpulsivityIndex, 1e-9)
		assert.GreaterOrEqual(t, a.RegretScore, 0.0)
		assert.LessOrEqual(t, a.RegretScore, 100.0)
		assert.Len(t, a.TopFeatures, 3)
	})

	t.Run("risky", func(t *testing.T) {
		code, body := do(t, ts, http.MethodPost, "/api/score", riskyPurchase)
		require.Equal(t, http.StatusOK, code)

		var a score.Assessment
		require.NoError(t, json.Unmarshal(body, &a))
		assert.Equal(t, score.LevelHigh, a.Level)
	})

	tests := []struct {
		name string
		body string
	}{
		{"mood out of range", `{"price":10,"account_balance":100,"mood_score":0,"sleep_hours":7,"merchant_risk_score":0.1}`},
		{"zero balance", `{"price":10,"account_balance":0,"mood_score":5,"sleep_hours":7,"merchant_risk_score":0.1}`},
		{"unknown field", `{"price":10,"account_balance":100,"mood_score":5,"sleep_hours":7,"merchant_risk_score":0.1,"color":"red"}`},
		{"malformed", `{"price":`},
		{"relative price overflow", `{"price":1e300,"account_balance":1e-10,"mood_score":5,"sleep_hours":7,"merchant_risk_score":0.1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, ts, http.MethodPost, "/api/score", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)

			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func action(name, ctx string) string {
	if ctx == "" {
		return fmt.Sprintf(`{"action":%q}`, name)
	}
	return fmt.Sprintf(`{"action":%q,"item":"Headphones","context":%s}`, name, ctx)
}

func TestSessionFlow(t *testing.T) {
	ts := newTestServer(t)

	code, body := do(t, ts, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, code)
	var v session.View
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, session.StateHome, v.State)
	assert.Contains(t, v.Actions, session.ActionStartCheckout)

	code, _ = do(t, ts, http.MethodPost, "/api/session/actions", action("defer", ""))
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, ts, http.MethodPost, "/api/session/actions", action("start_checkout", ""))
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, ts, http.MethodPost, "/api/session/actions", `{"action":"submit"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, ts, http.MethodPost, "/api/session/actions", action("submit", riskyPurchase))
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, session.StateEvaluation, v.State)
	require.NotNil(t, v.Assessment)
	require.Equal(t, score.LevelHigh, v.Assessment.Level)

	code, body = do(t, ts, http.MethodPost, "/api/session/actions", action("defer", ""))
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, session.StateVault, v.State)
	require.Len(t, v.Vault, 1)
	assert.Equal(t, "Headphones", v.Vault[0].Item)
	assert.Equal(t, "5000", v.Vault[0].Amount.String())

	code, body = do(t, ts, http.MethodGet, "/api/vault", "")
	require.Equal(t, http.StatusOK, code)
	var vr vaultResponse
	require.NoError(t, json.Unmarshal(body, &vr))
	assert.Equal(t, 1, vr.Count)
	assert.Equal(t, "5000", vr.Total.String())

	code, body = do(t, ts, http.MethodDelete, "/api/vault", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &vr))
	assert.Equal(t, 0, vr.Count)
	assert.True(t, vr.Total.IsZero())

	code, body = do(t, ts, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, session.StateVault, v.State)
	assert.Equal(t, 1, v.Summary.Deferred)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	code, _ := do(t, ts, http.MethodPost, "/api/score", ordinaryPurchase)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, ts, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "regretguard_assessments_total")
	assert.Contains(t, string(body), "regretguard_http_requests_total")
	assert.Contains(t, string(body), `path="POST /api/score"`)

	for _, a := range []string{"bogus-", "bogus-x", "bogus-xx"} {
		code, _ = do(t, ts, http.MethodPost, "/api/session/actions", action(a, ""))
		require.Equal(t, http.StatusConflict, code)
	}
	code, _ = do(t, ts, http.MethodPost, "/api/session/actions", action("defer", ""))
	require.Equal(t, http.StatusConflict, code)

	code, body = do(t, ts, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `regretguard_failures_total{reason="unknown_action"} 3`)
	assert.Contains(t, string(body), `regretguard_failures_total{reason="defer"} 1`)
	assert.NotContains(t, string(body), "bogus")
}

func TestActionReason(t *testing.T) {
	for _, a := range session.Actions() {
		assert.Equal(t, string(a), actionReason(a))
	}
	assert.Equal(t, "unknown_action", actionReason("drop table"))
	assert.Equal(t, "unknown_action", actionReason(""))
}

func TestWriteJSON_EncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"relative_price": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Contains(t, e.Error, "unsupported value")
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, &healthResponse{Status: "ok", MAE: 1.5})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var h healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
}

func TestRouterWithoutMetrics(t *testing.T) {
	s := getScorer(t)
	ts := httptest.NewServer(makeRouter(s, session.New(s), nil))
	defer ts.Close()

	code, _ := do(t, ts, http.MethodPost, "/api/score", ordinaryPurchase)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, ts, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", feature.ErrInvalidInput), http.StatusBadRequest},
		{session.ErrMissingContext, http.StatusBadRequest},
		{session.ErrInvalidTransition, http.StatusConflict},
		{session.ErrNotFlagged, http.StatusConflict},
		{model.ErrMissingArtifact, http.StatusServiceUnavailable},
		{model.ErrSchemaMismatch, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}
