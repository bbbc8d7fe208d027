package repo

import (
	"context"
	"errors"

	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"gorm.io/gorm"
)

type MatchSQLRepo struct {
	db *gorm.DB
}

func NewMatchSQLRepo(db *gorm.DB) *MatchSQLRepo {
	return &MatchSQLRepo{db: db}
}

func (s *MatchSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *MatchSQLRepo) Create(ctx context.Context, record *model.Match) error {
	return s.dbWithContext(ctx).Create(record).Error
}

func (s *MatchSQLRepo) GetByID(ctx context.Context, id string) (*model.Match, error) {
	var record model.Match
	err := s.dbWithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateSettlement persists a settlement transition guarded by the expected
// prior state, so two workers cannot both advance the same match and a
// terminal row can never be rewound.
func (s *MatchSQLRepo) UpdateSettlement(ctx context.Context, record *model.Match, from model.SettlementStatus) error {
	res := s.dbWithContext(ctx).Model(&model.Match{}).
		Where("id = ? AND settlement_status = ?", record.ID, from).
		Updates(map[string]any{
			"settlement_status": record.SettlementStatus,
			"settled_at":        record.SettledAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MatchSQLRepo) ListBySettlementStatus(ctx context.Context, status model.SettlementStatus, limit int) ([]*model.Match, error) {
	var records []*model.Match
	q := s.dbWithContext(ctx).
		Where("settlement_status = ?", status).
		Order("matched_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
