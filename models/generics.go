package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
)

// GetResource loads one row by id, returning *utils.NotFoundError when it does not exist.
func GetResource[T any](ctx context.Context, resource string, id int, associations ...string) (*T, error) {
	db := config.GetDB()
	return getResourceTx[T](db.WithContext(ctx), resource, id, associations...)
}

func getResourceTx[T any](tx *gorm.DB, resource string, id int, associations ...string) (*T, error) {
	query := tx
	for _, field := range associations {
		query = query.Preload(field)
	}
	var result T
	if err := query.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &utils.NotFoundError{Resource: resource, ID: id}
		}
		return nil, utils.ClassifyStorageError(err)
	}
	return &result, nil
}

// lockResource is getResourceTx with a row lock held until tx ends.
func lockResource[T any](tx *gorm.DB, resource string, id int) (*T, error) {
	return getResourceTx[T](forUpdate(tx), resource, id)
}

// Pagination is shared by list queries.
type Pagination struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

func (p Pagination) apply(query *gorm.DB) *gorm.DB {
	limit := p.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return query.Limit(limit).Offset(offset)
}
