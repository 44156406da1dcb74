package model

import "time"

// User 定义了 users 表的 ORM 模型。
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(128);not null" json:"-"`
	Role      string    `gorm:"type:varchar(20);not null;default:'USER'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// HasRole 是边界处的能力检查：在调用核心操作前显式调用，
// 判断用户是否具备所需角色。ADMIN 视为拥有全部角色。
func HasRole(u *User, required string) bool {
	if u == nil {
		return false
	}
	if u.Role == "ADMIN" {
		return true
	}
	return u.Role == required
}
