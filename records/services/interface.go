// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"

	"github.com/qolzam/entitystore/internal/value"
)

// RecordService writes the records of one kind through the limit checks
type RecordService interface {
	// Create enriches and stores a new record. A record already stored under
	// the same idempotency key is returned instead.
	Create(ctx context.Context, data value.Object) (value.Object, error)

	// Update merges patch over the stored record
	Update(ctx context.Context, id string, patch value.Object) (value.Object, error)

	// Replace overwrites the stored record, keeping its id and creation time
	Replace(ctx context.Context, id string, data value.Object) (value.Object, error)

	// Get retrieves a record by id
	Get(ctx context.Context, id string) (value.Object, error)
}
