// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
)

// MockCounter is a mock implementation of repository.Counter for testing
type MockCounter struct {
	mock.Mock
}

// Count mocks the Count method
func (m *MockCounter) Count(ctx context.Context, kind models.Kind, where *filter.Where) (int64, error) {
	args := m.Called(ctx, kind, where)
	return args.Get(0).(int64), args.Error(1)
}

// CountRelations mocks the CountRelations method
func (m *MockCounter) CountRelations(ctx context.Context, where, listWhere, entityWhere *filter.Where) (int64, error) {
	args := m.Called(ctx, where, listWhere, entityWhere)
	return args.Get(0).(int64), args.Error(1)
}

var _ repository.Counter = (*MockCounter)(nil)
