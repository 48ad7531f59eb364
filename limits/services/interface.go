// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"

	"github.com/qolzam/entitystore/internal/value"
	"github.com/qolzam/entitystore/limits/models"
)

// RecordLimitChecker guards every write of a governed record
type RecordLimitChecker interface {
	// CheckLimits fails with a LimitExceededError when a scope is full
	CheckLimits(ctx context.Context, kind models.Kind, candidate value.Object) error

	// CheckUniqueness fails with a UniquenessViolationError when a scope already has a record
	CheckUniqueness(ctx context.Context, kind models.Kind, candidate value.Object) error
}
