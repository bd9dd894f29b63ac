package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/boxoracle/internal/models"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SavePack inserts or updates a pack.
func (s *Storage) SavePack(ctx context.Context, pack *models.Pack) error {
	return s.savePack(ctx, s.db, pack)
}

func (s *Storage) savePack(ctx context.Context, ex execer, pack *models.Pack) error {
	now := time.Now()
	if pack.CreatedAt.IsZero() {
		pack.CreatedAt = now
	}
	pack.UpdatedAt = now
	if pack.Currency == "" {
		pack.Currency = models.DefaultCurrency
	}
	if err := pack.Validate(); err != nil {
		return fmt.Errorf("invalid pack: %w", err)
	}

	_, err := ex.ExecContext(ctx, s.rebind(`
		INSERT INTO packs (id, name, box_price, currency, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			box_price = excluded.box_price,
			currency = excluded.currency,
			updated_at = excluded.updated_at`),
		pack.ID, pack.Name, pack.BoxPrice, pack.Currency,
		pack.CreatedAt.UnixNano(), pack.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save pack: %w", err)
	}
	return nil
}

const packCols = `id, name, box_price, currency, created_at, updated_at`

func scanPack(scan func(...any) error) (*models.Pack, error) {
	var p models.Pack
	var createdAtNano, updatedAtNano int64
	if err := scan(&p.ID, &p.Name, &p.BoxPrice, &p.Currency, &createdAtNano, &updatedAtNano); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(0, createdAtNano)
	p.UpdatedAt = time.Unix(0, updatedAtNano)
	return &p, nil
}

// GetPack returns the pack with the given id, or an error wrapping ErrNotFound.
func (s *Storage) GetPack(ctx context.Context, id string) (*models.Pack, error) {
	p, err := scanPack(s.queryRow(ctx, `SELECT `+packCols+` FROM packs WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pack %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pack: %w", err)
	}
	return p, nil
}

// ListPacks returns all packs ordered by name.
func (s *Storage) ListPacks(ctx context.Context) ([]*models.Pack, error) {
	rows, err := s.query(ctx, `SELECT `+packCols+` FROM packs ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query packs: %w", err)
	}
	defer rows.Close()

	packs := []*models.Pack{}
	for rows.Next() {
		p, err := scanPack(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pack: %w", err)
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

// SaveRarityTier inserts or updates a tier. Tiers are listed back in the order
// they were first saved.
func (s *Storage) SaveRarityTier(ctx context.Context, tier *models.RarityTier) error {
	return s.saveRarityTier(ctx, s.db, tier)
}

func (s *Storage) saveRarityTier(ctx context.Context, ex execer, tier *models.RarityTier) error {
	if err := tier.Validate(); err != nil {
		return fmt.Errorf("invalid rarity tier: %w", err)
	}
	_, err := ex.ExecContext(ctx, s.rebind(`
		INSERT INTO rarity_tiers
			(pack_id, name, box_rate_new, box_rate_reprint, new_count, reprint_count, position)
		VALUES (?,?,?,?,?,?,
			(SELECT COUNT(*) FROM rarity_tiers WHERE pack_id = ?))
		ON CONFLICT (pack_id, name) DO UPDATE SET
			box_rate_new = excluded.box_rate_new,
			box_rate_reprint = excluded.box_rate_reprint,
			new_count = excluded.new_count,
			reprint_count = excluded.reprint_count`),
		tier.PackID, tier.Name, tier.BoxRateNew, tier.BoxRateReprint,
		tier.NewCount, tier.ReprintCount, tier.PackID,
	)
	if err != nil {
		return fmt.Errorf("failed to save rarity tier: %w", err)
	}
	return nil
}

// ListRarityTiers returns the tiers of a pack.
func (s *Storage) ListRarityTiers(ctx context.Context, packID string) ([]models.RarityTier, error) {
	rows, err := s.query(ctx, `
		SELECT pack_id, name, box_rate_new, box_rate_reprint, new_count, reprint_count
		FROM rarity_tiers WHERE pack_id = ? ORDER BY position, name`, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rarity tiers: %w", err)
	}
	defer rows.Close()

	var tiers []models.RarityTier
	for rows.Next() {
		var t models.RarityTier
		if err := rows.Scan(&t.PackID, &t.Name, &t.BoxRateNew, &t.BoxRateReprint, &t.NewCount, &t.ReprintCount); err != nil {
			return nil, fmt.Errorf("failed to scan rarity tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// SaveCard inserts or updates a card.
func (s *Storage) SaveCard(ctx context.Context, card *models.Card) error {
	return s.saveCard(ctx, s.db, card)
}

func (s *Storage) saveCard(ctx context.Context, ex execer, card *models.Card) error {
	if err := card.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}
	var price sql.NullFloat64
	if card.ReferencePrice != nil {
		price = sql.NullFloat64{Float64: *card.ReferencePrice, Valid: true}
	}
	_, err := ex.ExecContext(ctx, s.rebind(`
		INSERT INTO cards (id, pack_id, name, rarity, reprint, reference_price)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			pack_id = excluded.pack_id,
			name = excluded.name,
			rarity = excluded.rarity,
			reprint = excluded.reprint,
			reference_price = excluded.reference_price`),
		card.ID, card.PackID, card.Name, card.Rarity, boolToInt(card.Reprint), price,
	)
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// ListCards returns the cards of a pack ordered by id.
func (s *Storage) ListCards(ctx context.Context, packID string) ([]models.Card, error) {
	rows, err := s.query(ctx, `
		SELECT id, pack_id, name, rarity, reprint, reference_price
		FROM cards WHERE pack_id = ? ORDER BY id`, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var c models.Card
		var reprint int
		var price sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.PackID, &c.Name, &c.Rarity, &reprint, &price); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		c.Reprint = reprint != 0
		if price.Valid {
			c.ReferencePrice = models.Price(price.Float64)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// SetPriceOverride records a user's own price for a card.
func (s *Storage) SetPriceOverride(ctx context.Context, o *models.PriceOverride) error {
	return s.setPriceOverride(ctx, s.db, o)
}

func (s *Storage) setPriceOverride(ctx context.Context, ex execer, o *models.PriceOverride) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid price override: %w", err)
	}
	_, err := ex.ExecContext(ctx, s.rebind(`
		INSERT INTO price_overrides (user_id, card_id, price, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT (user_id, card_id) DO UPDATE SET
			price = excluded.price,
			updated_at = excluded.updated_at`),
		o.UserID, o.CardID, o.Price, o.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save price override: %w", err)
	}
	return nil
}

// ListPriceOverrides returns a user's prices for the cards of one pack, keyed by card id.
func (s *Storage) ListPriceOverrides(ctx context.Context, userID, packID string) (map[string]float64, error) {
	rows, err := s.query(ctx, `
		SELECT o.card_id, o.price
		FROM price_overrides o
		JOIN cards c ON c.id = o.card_id
		WHERE o.user_id = ? AND c.pack_id = ?`, userID, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]float64)
	for rows.Next() {
		var cardID string
		var price float64
		if err := rows.Scan(&cardID, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price override: %w", err)
		}
		overrides[cardID] = price
	}
	return overrides, rows.Err()
}

// ReplacePack writes a pack so that storage holds exactly the given tiers and cards,
// all in one transaction. Tiers are rewritten in the given order; cards of the pack
// that are not listed are deleted together with every override on them. When userID
// is non-empty, that user's overrides on the pack are replaced by overrides; other
// users' overrides on cards that remain are kept.
func (s *Storage) ReplacePack(ctx context.Context, pack *models.Pack, tiers []models.RarityTier, cards []models.Card, userID string, overrides map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.savePack(ctx, tx, pack); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM rarity_tiers WHERE pack_id = ?`), pack.ID); err != nil {
		return fmt.Errorf("failed to clear rarity tiers: %w", err)
	}
	for i := range tiers {
		if err := s.saveRarityTier(ctx, tx, &tiers[i]); err != nil {
			return err
		}
	}

	stale, err := s.staleCards(ctx, tx, pack.ID, cards)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM cards WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete card %s: %w", id, err)
		}
	}
	for i := range cards {
		if err := s.saveCard(ctx, tx, &cards[i]); err != nil {
			return err
		}
	}

	if userID != "" {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM price_overrides
			WHERE user_id = ? AND card_id IN (SELECT id FROM cards WHERE pack_id = ?)`),
			userID, pack.ID); err != nil {
			return fmt.Errorf("failed to clear price overrides: %w", err)
		}
		for cardID, price := range overrides {
			o := models.PriceOverride{UserID: userID, CardID: cardID, Price: price}
			if err := s.setPriceOverride(ctx, tx, &o); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pack %s: %w", pack.ID, err)
	}
	return nil
}

// staleCards returns the stored card ids of a pack that keep is missing.
func (s *Storage) staleCards(ctx context.Context, tx *sql.Tx, packID string, keep []models.Card) ([]string, error) {
	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT id FROM cards WHERE pack_id = ?`), packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	listed := make(map[string]bool, len(keep))
	for i := range keep {
		listed[keep[i].ID] = true
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		if !listed[id] {
			stale = append(stale, id)
		}
	}
	return stale, rows.Err()
}
