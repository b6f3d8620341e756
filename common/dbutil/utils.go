package dbutil

import (
	"database/sql"

	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/pkg/errors"
)

// TxOptions returns the strongest isolation the dialect supports. SQLite
// transactions are already serial, so it keeps the driver default there.
func TxOptions(db *gorm.DB) *sql.TxOptions {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// FindOne loads the single row selected by db or returns notFound.
func FindOne[T any](db *gorm.DB, notFound *errors.Error) (*T, error) {
	var item T
	result := db.Limit(1).Find(&item)
	if result.Error != nil {
		return nil, WrapError(result.Error, notFound, nil)
	}
	if result.RowsAffected == 0 {
		return nil, notFound
	}
	return &item, nil
}

// Page is a 1-based page request.
type Page struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

const maxPageSize = 100

// Normalize clamps the page into [1, ...] and the size into [1, 100], default 20.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// Scope applies LIMIT/OFFSET for the page.
func (p Page) Scope() func(*gorm.DB) *gorm.DB {
	n := p.Normalize()
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((n.Page - 1) * n.PageSize).Limit(n.PageSize)
	}
}
