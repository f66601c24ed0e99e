package users

import (
	"time"
)

// User is a mobile worker who submits forms and is paid for completed work.
type User struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
	Username  string    `gorm:"column:username;uniqueIndex"`
	Name      string    `gorm:"column:name"`
}

// ConnectIDUserLink maps a CommCare HQ username to a platform user. A user may
// carry one link per HQ domain they submit from.
type ConnectIDUserLink struct {
	ID               string    `gorm:"column:id;primaryKey"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UserID           string    `gorm:"column:user_id;index"`
	CommCareUsername string    `gorm:"column:commcare_username;uniqueIndex"`
}
