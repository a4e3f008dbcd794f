package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput signals invalid admin input.
var ErrInvalidInput = errors.New("inventory: invalid input")

// Repository is the admin-facing inventory store.
type Repository interface {
	GetStock(ctx context.Context, productID string) (Stock, error)
	SetStock(ctx context.Context, productID string, quantity int, lowStockThreshold *int) (Stock, error)
	ListLowStock(ctx context.Context) ([]Stock, error)
}

// SetStockCommand overwrites sellable quantity; reserved units are not touched.
type SetStockCommand struct {
	ProductID         string
	Quantity          int
	LowStockThreshold *int
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, errors.New("inventory service: repository is required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) GetStock(ctx context.Context, productID string) (Stock, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Stock{}, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	return s.repo.GetStock(ctx, productID)
}

func (s *Service) SetStock(ctx context.Context, cmd SetStockCommand) (Stock, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Stock{}, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if cmd.Quantity < 0 {
		return Stock{}, fmt.Errorf("%w: quantity must be >= 0", ErrInvalidInput)
	}
	if cmd.LowStockThreshold != nil && *cmd.LowStockThreshold < 0 {
		return Stock{}, fmt.Errorf("%w: low stock threshold must be >= 0", ErrInvalidInput)
	}
	return s.repo.SetStock(ctx, productID, cmd.Quantity, cmd.LowStockThreshold)
}

func (s *Service) ListLowStock(ctx context.Context) ([]Stock, error) {
	return s.repo.ListLowStock(ctx)
}
