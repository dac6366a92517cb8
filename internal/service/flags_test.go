package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/repository"
	"collaborative-editor/internal/repository/mocks"
	"collaborative-editor/internal/service"
)

func TestRoomFlagsStore_RecoversFromStatus(t *testing.T) {
	cases := []struct {
		status domain.RoomStatus
		want   domain.RoomFlags
	}{
		{domain.RoomStatusActive, domain.RoomFlags{}},
		{domain.RoomStatusPaused, domain.RoomFlags{Paused: true}},
		{domain.RoomStatusArchived, domain.RoomFlags{Paused: true}},
		{domain.RoomStatusDisabled, domain.RoomFlags{Disabled: true}},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			repo := new(mocks.RoomRepository)
			ctx := context.Background()
			repo.On("FindByRoomID", ctx, "r1").Return(&domain.Room{RoomID: "r1", Status: tc.status}, nil).Once()
			store := service.NewRoomFlagsStore(repo)

			assert.Equal(t, tc.want, store.Flags(ctx, "r1"))
			// 第二次读取命中内存，不再查询数据库
			assert.Equal(t, tc.want, store.Flags(ctx, "r1"))
			repo.AssertNumberOfCalls(t, "FindByRoomID", 1)
		})
	}
}

func TestRoomFlagsStore_UnknownRoomIsNotRetained(t *testing.T) {
	repo := new(mocks.RoomRepository)
	ctx := context.Background()
	repo.On("FindByRoomID", ctx, "r1").Return(nil, repository.ErrRoomNotFound).Twice()
	repo.On("FindByRoomID", ctx, "r1").Return(&domain.Room{RoomID: "r1", Status: domain.RoomStatusPaused}, nil).Once()
	store := service.NewRoomFlagsStore(repo)

	assert.Equal(t, domain.RoomFlags{}, store.Flags(ctx, "r1"))
	assert.Equal(t, domain.RoomFlags{}, store.Flags(ctx, "r1"))
	assert.Equal(t, 0, store.Len(), "不存在的房间不应常驻内存")

	// 记录随后被创建时能读到真实状态
	assert.Equal(t, domain.RoomFlags{Paused: true}, store.Flags(ctx, "r1"))
	assert.Equal(t, 1, store.Len())
	repo.AssertNumberOfCalls(t, "FindByRoomID", 3)
}

func TestRoomFlagsStore_StoreErrorIsRetried(t *testing.T) {
	repo := new(mocks.RoomRepository)
	ctx := context.Background()
	repo.On("FindByRoomID", ctx, "r1").Return(nil, errors.New("db down")).Once()
	repo.On("FindByRoomID", ctx, "r1").Return(&domain.Room{RoomID: "r1", Status: domain.RoomStatusPaused}, nil).Once()
	store := service.NewRoomFlagsStore(repo)

	assert.Equal(t, domain.RoomFlags{}, store.Flags(ctx, "r1"), "查询失败时按 active 处理")
	assert.Equal(t, domain.RoomFlags{Paused: true}, store.Flags(ctx, "r1"))
}

func TestRoomFlagsStore_NilRepoPanics(t *testing.T) {
	assert.Panics(t, func() { service.NewRoomFlagsStore(nil) })
}
