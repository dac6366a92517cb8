package http

import (
	"fmt"
	"net/http"
	"strings"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/service"

	"github.com/gin-gonic/gin"
)

// RoomHandler 提供房间状态与成员的只读 HTTP 接口
type RoomHandler struct {
	lifecycle *service.LifecycleService
	members   *service.MembershipRegistry
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(lifecycle *service.LifecycleService, members *service.MembershipRegistry) *RoomHandler {
	if lifecycle == nil || members == nil {
		panic("LifecycleService and MembershipRegistry must be non-nil for RoomHandler")
	}
	return &RoomHandler{lifecycle: lifecycle, members: members}
}

// MembersResponse 成员列表响应
type MembersResponse struct {
	RoomID  string          `json:"roomId"`
	Members []domain.Member `json:"members"`
}

// GetStatus GET /api/rooms/:roomId/status，结果与 check-room-status 的应答一致
func (h *RoomHandler) GetStatus(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	result := h.lifecycle.QueryStatus(c.Request.Context(), roomID)
	SuccessResponse(c, http.StatusOK, result)
}

// GetMembers GET /api/rooms/:roomId/members
func (h *RoomHandler) GetMembers(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	if roomID == "" {
		HandleServiceError(c, fmt.Errorf("%w: missing room id", service.ErrInvalidRequest))
		return
	}
	SuccessResponse(c, http.StatusOK, MembersResponse{
		RoomID:  roomID,
		Members: h.members.Members(roomID),
	})
}
