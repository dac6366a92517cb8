package mocks

import (
	"context"

	"collaborative-editor/internal/repository"

	"github.com/stretchr/testify/mock"
)

// CodeCache 是 repository.CodeCache 的 testify mock
type CodeCache struct {
	mock.Mock
}

var _ repository.CodeCache = (*CodeCache)(nil)

func (m *CodeCache) Get(ctx context.Context, roomID string) (string, bool, error) {
	args := m.Called(ctx, roomID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *CodeCache) Peek(ctx context.Context, roomID string) (string, bool, error) {
	args := m.Called(ctx, roomID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *CodeCache) Set(ctx context.Context, roomID string, code string) error {
	args := m.Called(ctx, roomID, code)
	return args.Error(0)
}

func (m *CodeCache) Delete(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *CodeCache) ListRoomIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}
