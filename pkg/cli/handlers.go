package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/mchmarny/regretguard/pkg/feature"
	"github.com/mchmarny/regretguard/pkg/model"
	"github.com/mchmarny/regretguard/pkg/score"
	"github.com/mchmarny/regretguard/pkg/session"
	"github.com/mchmarny/regretguard/pkg/vault"
	"github.com/shopspring/decimal"
)

const maxRequestBytes = 1 << 16

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string  `json:"status"`
	MAE    float64 `json:"mae"`
}

type modelResponse struct {
	SchemaVersion int                       `json:"schema_version"`
	Features      []string                  `json:"features"`
	MAE           float64                   `json:"mae"`
	TrainRows     int                       `json:"train_rows"`
	TestRows      int                       `json:"test_rows"`
	Trees         int                       `json:"trees"`
	Thresholds    score.Thresholds          `json:"thresholds"`
	TopFeatures   []string                  `json:"top_features"`
	Importances   []model.FeatureImportance `json:"importances"`
	MerchantRisk  []float64                 `json:"merchant_risk_levels"`
}

type vaultResponse struct {
	Items []vault.Entry   `json:"items"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

func healthHandler(s *score.Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, &healthResponse{
			Status: "ok",
			MAE:    s.Bundle().MAE,
		})
	}
}

func modelAPIHandler(s *score.Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := s.Bundle()
		writeJSON(w, http.StatusOK, &modelResponse{
			SchemaVersion: b.SchemaVersion,
			Features:      b.Features,
			MAE:           b.MAE,
			TrainRows:     b.TrainRows,
			TestRows:      b.TestRows,
			Trees:         len(b.Forest.Trees),
			Thresholds:    s.Thresholds(),
			TopFeatures:   s.TopFeatures(),
			Importances:   s.Ranking(),
			MerchantRisk:  feature.MerchantRiskLevels,
		})
	}
}

func scoreAPIHandler(s *score.Scorer, m *metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c feature.Context
		if err := decodeBody(w, r, &c); err != nil {
			m.fail("decode")
			writeError(w, http.StatusBadRequest, err)
			return
		}

		a, err := s.Score(c)
		if err != nil {
			m.fail("score")
			writeError(w, errorStatus(err), err)
			return
		}
		m.observe(a)

		slog.Debug("scored", "score", a.RegretScore, "level", a.Level)
		writeJSON(w, http.StatusOK, a)
	}
}

func sessionAPIHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func sessionActionAPIHandler(sess *session.Session, m *metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req session.Request
		if err := decodeBody(w, r, &req); err != nil {
			m.fail("decode")
			writeError(w, http.StatusBadRequest, err)
			return
		}

		v, err := sess.Apply(req)
		if err != nil {
			m.fail(actionReason(req.Action))
			writeError(w, errorStatus(err), err)
			return
		}
		if req.Action == session.ActionSubmit {
			m.observe(v.Assessment)
		}
		m.vault(len(v.Vault))

		writeJSON(w, http.StatusOK, v)
	}
}

func vaultAPIHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newVaultResponse(sess.Vault()))
	}
}

func vaultClearAPIHandler(sess *session.Session, m *metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess.ClearVault()
		m.vault(0)
		writeJSON(w, http.StatusOK, newVaultResponse(sess.Vault()))
	}
}

func newVaultResponse(v *vault.Vault) *vaultResponse {
	items := v.Items()
	return &vaultResponse{
		Items: items,
		Count: len(items),
		Total: v.Total(),
	}
}

// actionReason bounds the failure label to known actions.
func actionReason(a session.Action) string {
	if slices.Contains(session.Actions(), a) {
		return string(a)
	}
	return "unknown_action"
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, feature.ErrInvalidInput),
		errors.Is(err, session.ErrMissingContext):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotFlagged):
		return http.StatusConflict
	case errors.Is(err, model.ErrMissingArtifact):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	d := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON encodes v before writing the header. Values that cannot be
// encoded are reported as a 500 error body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("error encoding response", "status", status, "error", err)
		status = http.StatusInternalServerError
		b, _ = json.Marshal(&errorResponse{Error: fmt.Sprintf("error encoding response: %v", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(b, '\n')); err != nil {
		slog.Debug("error writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, &errorResponse{Error: err.Error()})
}
