package domain

import "encoding/json"

// UserIdentity 是客户端在加入房间时提供的用户身份。
// 登录与会话由外部系统负责，这里只把它当作值对象使用。
type UserIdentity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	IsHost bool   `json:"isHost,omitempty"`
}

// UnmarshalJSON 兼容前端把用户 ID 放在 "id" 字段里的写法
func (u *UserIdentity) UnmarshalJSON(b []byte) error {
	type alias UserIdentity
	var raw struct {
		alias
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*u = UserIdentity(raw.alias)
	if u.UserID == "" {
		u.UserID = raw.ID
	}
	return nil
}

// Valid 身份至少需要一个用户 ID
func (u *UserIdentity) Valid() bool {
	return u != nil && u.UserID != ""
}

// Member 房间成员：用户身份 + 所在连接。
type Member struct {
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	IsHost       bool   `json:"isHost,omitempty"`
	ConnectionID string `json:"connectionId"`
}

// NewMember 把用户身份绑定到一个连接上
func NewMember(user UserIdentity, connectionID string) Member {
	return Member{
		UserID:       user.UserID,
		Name:         user.Name,
		Email:        user.Email,
		IsHost:       user.IsHost,
		ConnectionID: connectionID,
	}
}

// Identity 去掉连接信息，得到广播 user-joined/user-left 时使用的用户身份
func (m Member) Identity() UserIdentity {
	return UserIdentity{UserID: m.UserID, Name: m.Name, Email: m.Email, IsHost: m.IsHost}
}
