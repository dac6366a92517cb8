package mocks

import (
	"context"
	"time"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/repository"

	"github.com/stretchr/testify/mock"
)

// RoomRepository 是 repository.RoomRepository 的 testify mock
type RoomRepository struct {
	mock.Mock
}

var _ repository.RoomRepository = (*RoomRepository)(nil)

func (m *RoomRepository) FindByRoomID(ctx context.Context, roomID string) (*domain.Room, error) {
	args := m.Called(ctx, roomID)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) FindOrCreate(ctx context.Context, roomID string) (*domain.Room, bool, error) {
	args := m.Called(ctx, roomID)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Bool(1), args.Error(2)
}

func (m *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomRepository) Upsert(ctx context.Context, roomID string, fields repository.RoomUpsert) error {
	args := m.Called(ctx, roomID, fields)
	return args.Error(0)
}

func (m *RoomRepository) MarkStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error {
	args := m.Called(ctx, roomID, status, at)
	return args.Error(0)
}
