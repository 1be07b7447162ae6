package models

import "gorm.io/gorm"

// User is the account row the identity verifier resolves tokens against.
// Account lifecycle (registration, password changes) is owned by the auth
// service; this layer only reads.
type User struct {
	gorm.Model
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `json:"-"`
}
