package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/studioflow-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// Base provides a shared foundation for domain repositories.
type Base struct {
	db      *gorm.DB
	dialect string
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(conn *gorm.DB) Base {
	return Base{db: conn, dialect: db.Dialect(conn)}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// IsPostgres reports whether vector operators and row locks are available.
func (b Base) IsPostgres() bool {
	return b.dialect == db.DialectPostgres
}

// Transaction runs fn inside a transaction bound to ctx.
func (b Base) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return b.DB(ctx).Transaction(fn)
}

// Classify maps gorm errors onto the shared error codes.
func Classify(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s not found", resource))
	case db.IsUniqueViolation(err, ""):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("%s already exists", resource))
	case pkgerrors.As(err) != nil:
		return err
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s query failed", resource))
	}
}
