package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

const (
	RoleHost   = "host"
	RoleReader = "reader"
)

type Session struct {
	gorm.Model
	BookTitle       string `gorm:"not null"`               // Название книги
	AuthorName      string                                 // Автор книги (опционально)
	Title           string                                 // Название сессии (опционально)
	Synopsis        string                                 // Краткое описание (опционально)
	HostPasscode    string                                 // Хеш пасскода; пустая строка — сессия без пасскода
	CreatedBy       uint   `gorm:"index;not null"`         // ID пользователя-хоста
	Status          string `gorm:"not null;default:active"` // active | ended
	EndedAt         *time.Time
	IsRepeatEnabled bool `gorm:"default:false"` // Зацикливание очереди после прохождения круга
}

// IsPasscodeProtected сообщает, требуется ли пасскод для мутаций очереди.
func (s *Session) IsPasscodeProtected() bool {
	return s.HostPasscode != ""
}

type Participant struct {
	gorm.Model
	SessionID uint      `gorm:"index:idx_participant_session_user,unique;not null"`
	UserID    uint      `gorm:"index:idx_participant_session_user,unique;not null"`
	User      User      `gorm:"foreignKey:UserID"`
	Role      string    `gorm:"not null;default:reader"` // host | reader
	JoinedAt  time.Time `gorm:"not null"`
}
