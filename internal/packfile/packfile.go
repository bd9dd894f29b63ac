// Package packfile reads pack snapshots from YAML files, for offline calculation
// and for loading a pack into storage.
package packfile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/boxoracle/internal/engine"
	"github.com/rewired-gh/boxoracle/internal/models"
)

// File is one pack snapshot. Overrides maps card id to a price that supersedes
// the card's reference price.
type File struct {
	Pack      models.Pack         `yaml:"pack"`
	Tiers     []models.RarityTier `yaml:"tiers"`
	Cards     []models.Card       `yaml:"cards"`
	Overrides map[string]float64  `yaml:"overrides"`
}

// Load reads and validates a pack file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pack file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a pack snapshot and stamps the pack id onto its tiers and cards.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pack file: %w", err)
	}
	for i := range f.Tiers {
		f.Tiers[i].PackID = f.Pack.ID
	}
	for i := range f.Cards {
		f.Cards[i].PackID = f.Pack.ID
	}
	if f.Pack.Currency == "" {
		f.Pack.Currency = models.DefaultCurrency
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every record in the file and that overrides name known cards.
func (f *File) Validate() error {
	if err := f.Pack.Validate(); err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	for i := range f.Tiers {
		if err := f.Tiers[i].Validate(); err != nil {
			return fmt.Errorf("tiers[%d]: %w", i, err)
		}
	}
	ids := make(map[string]bool, len(f.Cards))
	for i := range f.Cards {
		if err := f.Cards[i].Validate(); err != nil {
			return fmt.Errorf("cards[%d]: %w", i, err)
		}
		if ids[f.Cards[i].ID] {
			return fmt.Errorf("cards[%d]: duplicate card id %s", i, f.Cards[i].ID)
		}
		ids[f.Cards[i].ID] = true
	}
	for cardID, price := range f.Overrides {
		if !ids[cardID] {
			return fmt.Errorf("override for unknown card %s", cardID)
		}
		if !models.ValidPrice(price) {
			return fmt.Errorf("override for card %s must be a non-negative finite number", cardID)
		}
	}
	return nil
}

// Snapshot converts the file into an engine snapshot, overrides included.
func (f *File) Snapshot() engine.Snapshot {
	return engine.Snapshot{
		Pack:      f.Pack,
		Tiers:     f.Tiers,
		Cards:     f.Cards,
		Overrides: f.Overrides,
	}
}

// Writer is the storage side of Import.
type Writer interface {
	ReplacePack(ctx context.Context, pack *models.Pack, tiers []models.RarityTier, cards []models.Card, userID string, overrides map[string]float64) error
}

// Import makes storage match the file in one step: tiers and cards dropped from the
// file are removed. Overrides are stored for userID, replacing that user's earlier
// overrides on the pack, and are skipped when userID is empty.
func Import(ctx context.Context, w Writer, f *File, userID string) error {
	if f == nil {
		return errors.New("nil pack file")
	}
	pack := f.Pack
	tiers := append([]models.RarityTier(nil), f.Tiers...)
	cards := append([]models.Card(nil), f.Cards...)
	if err := w.ReplacePack(ctx, &pack, tiers, cards, userID, f.Overrides); err != nil {
		return fmt.Errorf("import pack %s: %w", pack.ID, err)
	}
	return nil
}
