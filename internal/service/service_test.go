package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/rewired-gh/boxoracle/internal/engine"
	"github.com/rewired-gh/boxoracle/internal/models"
	"github.com/rewired-gh/boxoracle/internal/storage"
)

type fakeRepo struct {
	packs      map[string]*models.Pack
	tiers      map[string][]models.RarityTier
	cards      map[string][]models.Card
	overrides  map[string]map[string]float64 // user -> card -> price
	recorded   []*models.Calculation
	addErr     error
	overrideOf []string
}

func newFakeRepo() *fakeRepo {
	r := &fakeRepo{
		packs:     map[string]*models.Pack{},
		tiers:     map[string][]models.RarityTier{},
		cards:     map[string][]models.Card{},
		overrides: map[string]map[string]float64{},
	}
	r.packs["op-07"] = &models.Pack{ID: "op-07", Name: "test", BoxPrice: 3000}
	r.tiers["op-07"] = []models.RarityTier{{PackID: "op-07", Name: "SR", BoxRateNew: 1, NewCount: 10}}
	for i := 0; i < 10; i++ {
		r.cards["op-07"] = append(r.cards["op-07"], models.Card{
			ID: fmt.Sprintf("sr-%d", i), PackID: "op-07", Rarity: "SR", ReferencePrice: models.Price(500),
		})
	}
	return r
}

func (r *fakeRepo) GetPack(_ context.Context, id string) (*models.Pack, error) {
	p, ok := r.packs[id]
	if !ok {
		return nil, fmt.Errorf("pack %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (r *fakeRepo) ListRarityTiers(_ context.Context, id string) ([]models.RarityTier, error) {
	return r.tiers[id], nil
}

func (r *fakeRepo) ListCards(_ context.Context, id string) ([]models.Card, error) {
	return r.cards[id], nil
}

func (r *fakeRepo) ListPriceOverrides(_ context.Context, userID, _ string) (map[string]float64, error) {
	r.overrideOf = append(r.overrideOf, userID)
	return r.overrides[userID], nil
}

func (r *fakeRepo) AddCalculation(_ context.Context, c *models.Calculation) error {
	if r.addErr != nil {
		return r.addErr
	}
	r.recorded = append(r.recorded, c)
	return nil
}

func (r *fakeRepo) ListCalculations(_ context.Context, packID string, limit int) ([]models.Calculation, error) {
	var out []models.Calculation
	for i := len(r.recorded) - 1; i >= 0 && len(out) < limit; i-- {
		if r.recorded[i].PackID == packID {
			out = append(out, *r.recorded[i])
		}
	}
	return out, nil
}

func (r *fakeRepo) ListPacks(context.Context) ([]*models.Pack, error) {
	var out []*models.Pack
	for _, p := range r.packs {
		out = append(out, p)
	}
	return out, nil
}

type fakePublisher struct {
	published []*models.Calculation
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, c *models.Calculation) error {
	p.published = append(p.published, c)
	return p.err
}

func TestCalculate_RecordsAndPublishes(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, pub, engine.DefaultOptions())

	calc, err := svc.Calculate(context.Background(), "op-07", "")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if math.Abs(calc.Result.ExpectedValue-500) > 1e-9 {
		t.Errorf("ExpectedValue = %v, want 500", calc.Result.ExpectedValue)
	}
	if calc.ID == "" || calc.PackID != "op-07" || calc.Method != engine.MethodNormal {
		t.Errorf("unexpected calculation record %+v", calc)
	}
	if len(repo.recorded) != 1 || len(pub.published) != 1 {
		t.Errorf("recorded %d, published %d; want 1 and 1", len(repo.recorded), len(pub.published))
	}
	if len(repo.overrideOf) != 0 {
		t.Errorf("overrides loaded for anonymous request: %v", repo.overrideOf)
	}
}

func TestCalculate_UserOverridesApplied(t *testing.T) {
	repo := newFakeRepo()
	repo.overrides["u1"] = map[string]float64{"sr-0": 10500}
	svc := New(repo, nil, engine.DefaultOptions())

	calc, err := svc.Calculate(context.Background(), "op-07", "u1")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// nine cards at 0.1*500 plus one at 0.1*10500
	if want := 450.0 + 1050; math.Abs(calc.Result.ExpectedValue-want) > 1e-9 {
		t.Errorf("ExpectedValue = %v, want %v", calc.Result.ExpectedValue, want)
	}
	if calc.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", calc.UserID)
	}
}

func TestCalculate_SideEffectFailuresDoNotFail(t *testing.T) {
	repo := newFakeRepo()
	repo.addErr = errors.New("disk full")
	pub := &fakePublisher{err: errors.New("redis down")}
	svc := New(repo, pub, engine.DefaultOptions())

	if _, err := svc.Calculate(context.Background(), "op-07", ""); err != nil {
		t.Errorf("Calculate failed on side-effect errors: %v", err)
	}
}

func TestCalculate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *fakeRepo)
		packID string
		want   error
	}{
		{"unknown pack", func(r *fakeRepo) {}, "missing", storage.ErrNotFound},
		{"no cards", func(r *fakeRepo) { r.cards["op-07"] = nil }, "op-07", engine.ErrInsufficientData},
		{"zero box price", func(r *fakeRepo) { r.packs["op-07"].BoxPrice = 0 }, "op-07", engine.ErrInvalidInput},
		{
			name: "reprint rate without reprints",
			mutate: func(r *fakeRepo) {
				r.tiers["op-07"][0].BoxRateReprint = 5
			},
			packID: "op-07",
			want:   engine.ErrInvalidRarityConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			tt.mutate(repo)
			pub := &fakePublisher{}
			svc := New(repo, pub, engine.DefaultOptions())

			_, err := svc.Calculate(context.Background(), tt.packID, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if len(repo.recorded) != 0 || len(pub.published) != 0 {
				t.Error("failed calculation was recorded or published")
			}
		})
	}
}

func TestHistory(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil, engine.DefaultOptions())
	for i := 0; i < 3; i++ {
		if _, err := svc.Calculate(context.Background(), "op-07", ""); err != nil {
			t.Fatal(err)
		}
	}
	calcs, err := svc.History(context.Background(), "op-07", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(calcs) != 2 {
		t.Errorf("got %d, want 2", len(calcs))
	}
	if _, err := svc.History(context.Background(), "missing", 2); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCalculate_AgainstSQLite(t *testing.T) {
	store, err := storage.New(storage.DriverSQLite, ":memory:", "", 10)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.SavePack(ctx, &models.Pack{ID: "p", Name: "Pack", BoxPrice: 3000}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRarityTier(ctx, &models.RarityTier{PackID: "p", Name: "SR", BoxRateNew: 1, NewCount: 10}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		card := models.Card{ID: fmt.Sprintf("p-%02d", i), PackID: "p", Name: "card", Rarity: "SR", ReferencePrice: models.Price(500)}
		if err := store.SaveCard(ctx, &card); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SetPriceOverride(ctx, &models.PriceOverride{UserID: "u", CardID: "p-00", Price: 0}); err != nil {
		t.Fatal(err)
	}

	svc := New(store, nil, engine.Options{Method: engine.MethodExact, MaxLattice: engine.DefaultMaxLattice})
	calc, err := svc.Calculate(ctx, "p", "u")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if math.Abs(calc.Result.ExpectedValue-450) > 1e-9 {
		t.Errorf("ExpectedValue = %v, want 450", calc.Result.ExpectedValue)
	}
	if calc.Result.PricesEntered != 10 {
		t.Errorf("PricesEntered = %d, want 10 (zero override counts as entered)", calc.Result.PricesEntered)
	}
	history, err := svc.History(ctx, "p", 5)
	if err != nil || len(history) != 1 || history[0].ID != calc.ID {
		t.Errorf("history = %v, %v", history, err)
	}
}
