// Package service runs box calculations against stored pack data and records the outcome.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/boxoracle/internal/engine"
	"github.com/rewired-gh/boxoracle/internal/logger"
	"github.com/rewired-gh/boxoracle/internal/models"
)

// Repository is the read side the calculation needs, plus history recording.
type Repository interface {
	GetPack(ctx context.Context, packID string) (*models.Pack, error)
	ListRarityTiers(ctx context.Context, packID string) ([]models.RarityTier, error)
	ListCards(ctx context.Context, packID string) ([]models.Card, error)
	ListPriceOverrides(ctx context.Context, userID, packID string) (map[string]float64, error)
	AddCalculation(ctx context.Context, calc *models.Calculation) error
	ListCalculations(ctx context.Context, packID string, limit int) ([]models.Calculation, error)
	ListPacks(ctx context.Context) ([]*models.Pack, error)
}

// Publisher announces completed calculations.
type Publisher interface {
	Publish(ctx context.Context, calc *models.Calculation) error
}

// Service wires storage, engine and publisher together.
type Service struct {
	repo      Repository
	publisher Publisher
	options   engine.Options
	now       func() time.Time
}

// New creates a calculation service. publisher may be nil.
func New(repo Repository, publisher Publisher, options engine.Options) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		options:   options,
		now:       time.Now,
	}
}

// Snapshot reads everything a calculation of packID needs. An empty userID skips
// price overrides.
func (s *Service) Snapshot(ctx context.Context, packID, userID string) (engine.Snapshot, error) {
	pack, err := s.repo.GetPack(ctx, packID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	tiers, err := s.repo.ListRarityTiers(ctx, packID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	cards, err := s.repo.ListCards(ctx, packID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	var overrides map[string]float64
	if userID != "" {
		overrides, err = s.repo.ListPriceOverrides(ctx, userID, packID)
		if err != nil {
			return engine.Snapshot{}, err
		}
	}
	return engine.Snapshot{Pack: *pack, Tiers: tiers, Cards: cards, Overrides: overrides}, nil
}

// Calculate evaluates a stored pack for a user, records the calculation and
// publishes it. Recording and publishing failures are logged, not returned.
func (s *Service) Calculate(ctx context.Context, packID, userID string) (*models.Calculation, error) {
	snap, err := s.Snapshot(ctx, packID, userID)
	if err != nil {
		return nil, err
	}

	calc, err := s.evaluate(snap, userID)
	if err != nil {
		logger.Warn("Calculation for pack %s failed: %v", packID, err)
		return nil, err
	}

	if err := s.repo.AddCalculation(ctx, calc); err != nil {
		logger.Warn("Failed to record calculation %s: %v", calc.ID, err)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, calc); err != nil {
			logger.Warn("Failed to publish calculation %s: %v", calc.ID, err)
		}
	}
	return calc, nil
}

// CalculateSnapshot evaluates a snapshot that did not come from storage. Nothing is
// recorded or published.
func (s *Service) CalculateSnapshot(snap engine.Snapshot, userID string) (*models.Calculation, error) {
	return s.evaluate(snap, userID)
}

func (s *Service) evaluate(snap engine.Snapshot, userID string) (*models.Calculation, error) {
	start := s.now()
	eval, err := engine.Calculate(snap, s.options)
	if err != nil {
		return nil, err
	}

	calc := &models.Calculation{
		ID:        uuid.NewString(),
		PackID:    snap.Pack.ID,
		UserID:    userID,
		Method:    eval.Method,
		StdDev:    eval.StdDev,
		Result:    eval.Result,
		Breakdown: eval.Breakdown,
		CreatedAt: start,
	}

	r := calc.Result
	logger.Info("Calculated pack %s (user=%q, method=%s): EV=%.2f box=%.2f P(profit)=%.4f, %d/%d prices entered",
		snap.Pack.ID, userID, calc.Method, r.ExpectedValue, r.BoxPrice, r.ProfitProbability, r.PricesEntered, r.TotalCards)
	if missing := r.MissingPrices(); missing > 0 {
		logger.Debug("Pack %s: %d cards valued at zero for lack of a price", snap.Pack.ID, missing)
	}
	return calc, nil
}

// History returns recent calculations of a pack, newest first.
func (s *Service) History(ctx context.Context, packID string, limit int) ([]models.Calculation, error) {
	if _, err := s.repo.GetPack(ctx, packID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	calcs, err := s.repo.ListCalculations(ctx, packID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return calcs, nil
}

// Packs lists every stored pack.
func (s *Service) Packs(ctx context.Context) ([]*models.Pack, error) {
	return s.repo.ListPacks(ctx)
}
