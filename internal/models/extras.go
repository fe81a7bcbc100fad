package models

import (
	"time"

	"gorm.io/gorm"
)

// PasscodeGrant — временное подтверждение пасскода для пары (сессия, пользователь).
// На пару хранится не более одной живой записи: повторная верификация
// сдвигает ExpiresAt, а не добавляет строку.
type PasscodeGrant struct {
	gorm.Model
	SessionID uint      `gorm:"index:idx_grant_session_user,unique;not null"`
	UserID    uint      `gorm:"index:idx_grant_session_user,unique;not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

type PushSubscription struct {
	gorm.Model
	UserID   uint   `gorm:"index;not null"`
	Endpoint string `gorm:"not null"`
	P256dh   string `gorm:"not null"`
	Auth     string `gorm:"not null"`
}

// SessionWord — слово, сохранённое участником во время сессии.
type SessionWord struct {
	gorm.Model
	SessionID uint   `gorm:"index;not null"`
	UserID    uint   `gorm:"index;not null"`
	Word      string `gorm:"not null"`
	Context   string
}
