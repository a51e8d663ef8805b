package service

import (
	"errors"

	"github.com/cyroid/backend/internal/domain"
	"gorm.io/gorm"
)

var (
	ErrBlueprintNotFound = errors.New("blueprint not found")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrRangeNotFound     = errors.New("range not found")
	ErrInvalidConfig     = domain.ErrInvalidConfig
	ErrInvalidBasePrefix = errors.New("invalid base subnet prefix")
	ErrInvalidPackage    = errors.New("invalid blueprint package")
)

// notFound 把gorm的未找到错误换成业务错误
func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
