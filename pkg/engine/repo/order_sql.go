package repo

import (
	"context"
	"errors"

	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"gorm.io/gorm"
)

type OrderSQLRepo struct {
	db *gorm.DB
}

func NewOrderSQLRepo(db *gorm.DB) *OrderSQLRepo {
	return &OrderSQLRepo{db: db}
}

func (s *OrderSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *OrderSQLRepo) Create(ctx context.Context, record *model.Order) error {
	return s.dbWithContext(ctx).Create(record).Error
}

func (s *OrderSQLRepo) Update(ctx context.Context, record *model.Order) error {
	return s.dbWithContext(ctx).Save(record).Error
}

func (s *OrderSQLRepo) GetByID(ctx context.Context, id string) (*model.Order, error) {
	var record model.Order
	err := s.dbWithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *OrderSQLRepo) ListLive(ctx context.Context, baseToken, quoteToken string) ([]*model.Order, error) {
	var records []*model.Order
	err := s.dbWithContext(ctx).
		Where("base_token = ? AND quote_token = ? AND status IN ?",
			baseToken, quoteToken,
			[]model.OrderStatus{model.OrderStatusRevealed, model.OrderStatusPartiallyFilled}).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
