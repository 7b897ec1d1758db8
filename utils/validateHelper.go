package utils

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// report json names so messages match the request body
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateInput runs the struct's `validate` tags and returns the first violation as a *ValidationError.
func ValidateInput(input any) error {
	err := getValidator().Struct(input)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := ves[0]
	// drop the top-level struct name: "NewInvoice.items[0].quantity_sold" -> "items[0].quantity_sold"
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return &ValidationError{Field: field, Message: validationMessage(fe)}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())
	default:
		return "failed on " + fe.Tag()
	}
}

// ValidateResourceId checks that the row exists, returning *NotFoundError otherwise.
func ValidateResourceId[T any](ctx context.Context, db *gorm.DB, resource string, id int) error {
	var count int64
	if err := db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
		return ClassifyStorageError(err)
	}
	if count <= 0 {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// ValidateUnique fails with *ValidationError when another row already has the value.
func ValidateUnique[T any](ctx context.Context, db *gorm.DB, column string, value any, exceptId int) error {
	var count int64
	query := db.WithContext(ctx).Model(new(T)).Where(column+" = ?", value)
	if exceptId > 0 {
		query = query.Where("id <> ?", exceptId)
	}
	if err := query.Count(&count).Error; err != nil {
		return ClassifyStorageError(err)
	}
	if count > 0 {
		return &ValidationError{Field: column, Message: fmt.Sprintf("%v already exists", value)}
	}
	return nil
}
