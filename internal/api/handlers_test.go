package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rewired-gh/boxoracle/internal/engine"
	"github.com/rewired-gh/boxoracle/internal/models"
	"github.com/rewired-gh/boxoracle/internal/storage"
)

type fakeCalculator struct {
	calc    *models.Calculation
	err     error
	gotPack string
	gotUser string
	limit   int
}

func (f *fakeCalculator) Calculate(_ context.Context, packID, userID string) (*models.Calculation, error) {
	f.gotPack, f.gotUser = packID, userID
	return f.calc, f.err
}

func (f *fakeCalculator) History(_ context.Context, packID string, limit int) ([]models.Calculation, error) {
	f.gotPack, f.limit = packID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []models.Calculation{*f.calc}, nil
}

func (f *fakeCalculator) Packs(context.Context) ([]*models.Pack, error) {
	return []*models.Pack{{ID: "op-07", Name: "test", BoxPrice: 3000}}, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func sampleCalculation() *models.Calculation {
	return &models.Calculation{
		ID:     "calc-1",
		PackID: "op-07",
		Method: "normal",
		StdDev: 500,
		Result: models.CalculationResult{
			ExpectedValue:     500,
			ProfitProbability: 0.0001,
			BoxPrice:          3000,
			TotalCards:        10,
			PricesEntered:     8,
		},
	}
}

func serve(t *testing.T, h *Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Router(RouterOptions{AllowedOrigins: []string{"*"}}).ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestCalculate_ReturnsResultShape(t *testing.T) {
	fc := &fakeCalculator{calc: sampleCalculation()}
	rec := serve(t, NewHandler(fc, nil), http.MethodGet, "/api/v1/packs/op-07/calculate?user_id=u1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if fc.gotPack != "op-07" || fc.gotUser != "u1" {
		t.Errorf("called with (%q, %q)", fc.gotPack, fc.gotUser)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"expectedValue", "profitProbability", "boxPrice", "totalCards", "pricesEntered"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q: %v", key, body)
		}
	}
	if len(body) != 5 {
		t.Errorf("summary response has %d fields, want 5", len(body))
	}
}

func TestCalculate_Detail(t *testing.T) {
	fc := &fakeCalculator{calc: sampleCalculation()}
	rec := serve(t, NewHandler(fc, nil), http.MethodPost, "/api/v1/packs/op-07/calculate?detail=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var calc models.Calculation
	if err := json.Unmarshal(rec.Body.Bytes(), &calc); err != nil {
		t.Fatal(err)
	}
	if calc.ID != "calc-1" || calc.StdDev != 500 {
		t.Errorf("unexpected detail %+v", calc)
	}
}

func TestCalculate_ErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		wantKind string
	}{
		{fmt.Errorf("pack x: %w", storage.ErrNotFound), http.StatusNotFound, "not_found"},
		{&engine.CalculationError{Kind: engine.ErrInvalidInput}, http.StatusBadRequest, "invalid_input"},
		{&engine.CalculationError{Kind: engine.ErrInsufficientData}, http.StatusUnprocessableEntity, "insufficient_data"},
		{&engine.CalculationError{Kind: engine.ErrInvalidRarityConfig, Tier: "R"}, http.StatusUnprocessableEntity, "invalid_rarity_config"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			rec := serve(t, NewHandler(&fakeCalculator{err: tt.err}, nil), http.MethodGet, "/api/v1/packs/x/calculate")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["kind"] != tt.wantKind {
				t.Errorf("kind = %q, want %q", body["kind"], tt.wantKind)
			}
		})
	}
}

func TestCalculate_UnencodableResult(t *testing.T) {
	calc := sampleCalculation()
	calc.Result.ExpectedValue = math.Inf(1)
	rec := serve(t, NewHandler(&fakeCalculator{calc: calc}, nil), http.MethodGet, "/api/v1/packs/op-07/calculate")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["kind"] != "internal" {
		t.Errorf("body = %q (%v)", rec.Body.String(), err)
	}
}

func TestHistory(t *testing.T) {
	fc := &fakeCalculator{calc: sampleCalculation()}
	h := NewHandler(fc, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/packs/op-07/calculations?limit=5")
	if rec.Code != http.StatusOK || fc.limit != 5 {
		t.Errorf("status = %d, limit = %d", rec.Code, fc.limit)
	}

	rec = serve(t, h, http.MethodGet, "/api/v1/packs/op-07/calculations?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}

func TestListPacks(t *testing.T) {
	rec := serve(t, NewHandler(&fakeCalculator{}, nil), http.MethodGet, "/api/v1/packs/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Packs []models.Pack `json:"packs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Packs) != 1 || body.Packs[0].ID != "op-07" {
		t.Errorf("unexpected packs %+v", body.Packs)
	}
}

func TestHealthCheck(t *testing.T) {
	rec := serve(t, NewHandler(&fakeCalculator{}, fakePinger{}), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("healthy: status = %d", rec.Code)
	}
	rec = serve(t, NewHandler(&fakeCalculator{}, fakePinger{err: errors.New("closed")}), http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded: status = %d", rec.Code)
	}
}
