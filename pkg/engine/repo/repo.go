package repo

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) IRepo {
	return &Repo{db: db}
}

func (r *Repo) Order() IOrder {
	return NewOrderSQLRepo(r.db)
}

func (r *Repo) Match() IMatch {
	return NewMatchSQLRepo(r.db)
}

func (r *Repo) Transaction(ctx context.Context, fn func(IRepo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}
