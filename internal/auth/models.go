package auth

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"-"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	CreatedAt    time.Time `json:"date_joined"`
}

type SignupRequest struct {
	Username  string `json:"username" form:"username" validate:"required,max=150,username"`
	Email     string `json:"email" form:"email" validate:"omitempty,email,max=254"`
	Password  string `json:"password" form:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" form:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" form:"last_name" validate:"max=150"`
}

type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type SessionResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}
