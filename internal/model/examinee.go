package model

import "time"

// Examinee represents a registered exam taker.
type Examinee struct {
	ID           int       `json:"id"`
	ExamineeNo   string    `json:"examinee_no"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExamineeLoginRequest is the examinee login payload.
type ExamineeLoginRequest struct {
	ExamineeNo string `json:"examinee_no" binding:"required,min=3,max=30"`
	Password   string `json:"password" binding:"required,min=6"`
}

// Proctor represents an exam supervisor with access to live monitoring.
type Proctor struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProctorLoginRequest is the proctor login payload.
type ProctorLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}
