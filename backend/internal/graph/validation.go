package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "circl/backend/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func profileValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateProfile checks a profile before it is sent to the store
func ValidateProfile(p UserProfile) error {
	if err := profileValidator().Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperrors.NewValidation(strings.ToLower(fe.Namespace()), fmt.Sprintf("failed %q check", fe.Tag()))
		}
		return apperrors.NewValidation("profile", err.Error())
	}
	return ValidatePreferences(p.Preferences)
}

// ValidatePreferences checks cross-field preference bounds
func ValidatePreferences(p Preferences) error {
	if p.MinAge > 0 && p.MaxAge > 0 && p.MaxAge < p.MinAge {
		return apperrors.NewValidation("preferences.max_age", "must be >= min_age")
	}
	return nil
}

// ValidateDegreeRange checks the bounds shared by every degree query
func ValidateDegreeRange(minDegree, maxDegree int) error {
	if minDegree < 1 {
		return apperrors.NewValidation("min_degree", "must be at least 1")
	}
	if maxDegree < minDegree {
		return apperrors.NewValidation("max_degree", "must be >= min_degree")
	}
	return nil
}

// ValidatePair rejects empty ids and self references
func ValidatePair(operation, idA, idB string) error {
	if idA == "" {
		return apperrors.NewValidation("source_id", "must not be empty")
	}
	if idB == "" {
		return apperrors.NewValidation("target_id", "must not be empty")
	}
	if idA == idB {
		return apperrors.NewSelfReference(operation, idA)
	}
	return nil
}
