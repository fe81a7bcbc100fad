package models

import (
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Name         string `gorm:"not null"`
	DisplayName  string // Отображаемое имя; если пустое — используется Name
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Avatar       string // URL аватара (опционально)
}

// ReaderName возвращает имя для отображения в очереди.
func (u *User) ReaderName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Name != "" {
		return u.Name
	}
	return "Unknown reader"
}
