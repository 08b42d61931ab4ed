package models

import (
	"time"
)

// User maps the 'users' table.
type User struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	Email          string    `gorm:"uniqueIndex;size:100;not null" json:"email"`
	PasswordHash   string    `gorm:"not null" json:"-"`
	Phone          string    `gorm:"uniqueIndex;size:20;not null" json:"phone"` // stored as 2547XXXXXXXX
	JoinedDate     time.Time `gorm:"type:date" json:"joinedDate"`
	ProfilePicture *string   `gorm:"size:255" json:"profilePicture"`
	FCMToken       string    `gorm:"size:255" json:"-"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// UserView is what the API exposes about a user.
type UserView struct {
	ID             uint64    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	JoinedDate     time.Time `json:"joinedDate"`
	ProfilePicture *string   `json:"profilePicture"`
}

func (u User) View() UserView {
	return UserView{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		JoinedDate:     u.JoinedDate,
		ProfilePicture: u.ProfilePicture,
	}
}

type RegisterInput struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email,max=100"`
	Password string `json:"password" binding:"required,min=6"`
	Phone    string `json:"phone" binding:"required,msisdn"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FCMToken string `json:"fcm_token"`
}

type UpdatePhoneInput struct {
	Phone string `json:"phone" binding:"required,msisdn"`
}
