package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// Seed: начальное содержимое каталога. Каждая запись обязана иметь id,
// чтобы повторная загрузка пропускала уже созданные записи.
type Seed struct {
	Categories []CategoryInput `json:"categories"`
	Products   []ProductInput  `json:"products"`
	Variants   []VariantInput  `json:"variants"`
	Rules      []RuleInput     `json:"pricingRules"`
}

// SeedResult: итог загрузки.
type SeedResult struct {
	Created int
	Skipped int
}

// LoadSeedFile читает seed из JSON-файла path и применяет его.
func (s *Service) LoadSeedFile(ctx context.Context, path string) (SeedResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeedResult{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	return s.LoadSeed(ctx, f)
}

// LoadSeed применяет seed: категории в порядке файла (родитель раньше потомка),
// затем товары, варианты и правила. Записи с существующим id пропускаются.
func (s *Service) LoadSeed(ctx context.Context, r io.Reader) (SeedResult, error) {
	var seed Seed
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&seed); err != nil {
		return SeedResult{}, fmt.Errorf("decode seed: %w", err)
	}

	var result SeedResult
	apply := func(kind, id string, create func() error) error {
		if id == "" {
			return fmt.Errorf("seed %s without id", kind)
		}
		err := create()
		if errors.Is(err, domain.ErrAlreadyExists) {
			result.Skipped++
			s.logger.WithField("kind", kind).WithField("id", id).Debug("seed record already exists")
			return nil
		}
		if err != nil {
			return fmt.Errorf("seed %s %s: %w", kind, id, err)
		}
		result.Created++
		return nil
	}

	for _, in := range seed.Categories {
		if err := apply("category", in.ID, func() error {
			_, err := s.CreateCategory(ctx, in)
			return err
		}); err != nil {
			return result, err
		}
	}
	for _, in := range seed.Products {
		if err := apply("product", in.ID, func() error {
			_, err := s.CreateProduct(ctx, in)
			return err
		}); err != nil {
			return result, err
		}
	}
	for _, in := range seed.Variants {
		if err := apply("variant", in.ID, func() error {
			_, err := s.CreateVariant(ctx, in)
			return err
		}); err != nil {
			return result, err
		}
	}
	for _, in := range seed.Rules {
		if err := apply("pricing rule", in.ID, func() error {
			_, err := s.CreateRule(ctx, in)
			return err
		}); err != nil {
			return result, err
		}
	}

	s.logger.WithField("created", result.Created).WithField("skipped", result.Skipped).Info("catalog seed applied")
	return result, nil
}
