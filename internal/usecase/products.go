package usecase

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/pkg/textx"
)

const (
	maxProductNameLen     = 200
	maxProductDescLen     = 5000
	maxProductKeyFeatures = 20
)

// ProductInput is the create-product request.
type ProductInput struct {
	Name        string
	Description string
	Price       *float64
	Currency    string
	Category    string
	KeyFeatures []string
}

// ProductService manages the product catalog.
type ProductService struct {
	products domain.ProductRepository
}

// NewProductService constructs a ProductService.
func NewProductService(products domain.ProductRepository) ProductService {
	return ProductService{products: products}
}

// Create validates and stores a product for userID.
func (s ProductService) Create(ctx domain.Context, userID int64, in ProductInput) (int64, error) {
	name := textx.SanitizeText(in.Name)
	if name == "" {
		return 0, fmt.Errorf("%w: product name required", domain.ErrInvalidArgument)
	}
	if len([]rune(name)) > maxProductNameLen {
		return 0, fmt.Errorf("%w: product name too long", domain.ErrInvalidArgument)
	}
	desc := textx.SanitizeText(in.Description)
	if desc == "" {
		return 0, fmt.Errorf("%w: product description required", domain.ErrInvalidArgument)
	}
	if len([]rune(desc)) > maxProductDescLen {
		return 0, fmt.Errorf("%w: product description too long", domain.ErrInvalidArgument)
	}
	if in.Price != nil && *in.Price < 0 {
		return 0, fmt.Errorf("%w: price must not be negative", domain.ErrInvalidArgument)
	}
	if in.Price != nil && strings.TrimSpace(in.Currency) == "" {
		return 0, fmt.Errorf("%w: currency required when price is set", domain.ErrInvalidArgument)
	}
	if len(in.KeyFeatures) > maxProductKeyFeatures {
		return 0, fmt.Errorf("%w: at most %d key features", domain.ErrInvalidArgument, maxProductKeyFeatures)
	}
	features := make([]string, 0, len(in.KeyFeatures))
	for _, f := range in.KeyFeatures {
		if f = textx.SanitizeText(f); f != "" {
			features = append(features, f)
		}
	}
	return s.products.Create(ctx, domain.Product{
		UserID:      userID,
		Name:        name,
		Description: desc,
		Price:       in.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(in.Currency)),
		Category:    textx.SanitizeText(in.Category),
		KeyFeatures: features,
	})
}

// Get loads one product. A product owned by someone else surfaces as
// domain.ErrForbidden; a missing or deleted one as domain.ErrNotFound.
func (s ProductService) Get(ctx domain.Context, userID, id int64) (domain.Product, error) {
	p, err := s.products.GetAny(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if p.Deleted {
		return domain.Product{}, fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
	}
	if p.UserID != userID {
		return domain.Product{}, fmt.Errorf("%w: product %d", domain.ErrForbidden, id)
	}
	return p, nil
}

// List loads every product owned by userID.
func (s ProductService) List(ctx domain.Context, userID int64) ([]domain.Product, error) {
	return s.products.ListByUser(ctx, userID)
}

// Delete soft-deletes one product, with the same ownership semantics as Get.
func (s ProductService) Delete(ctx domain.Context, userID, id int64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.products.SoftDelete(ctx, userID, id)
}
