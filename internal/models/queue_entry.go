package models

import (
	"time"

	"gorm.io/gorm"
)

// EntryStatus — закрытый набор статусов записи очереди.
type EntryStatus string

const (
	StatusWaiting EntryStatus = "waiting"
	StatusReading EntryStatus = "reading"
	StatusDone    EntryStatus = "done"
)

type QueueEntry struct {
	gorm.Model
	SessionID uint        `gorm:"index:idx_queue_session_user,unique;index:idx_queue_session_position;not null"`
	UserID    uint        `gorm:"index:idx_queue_session_user,unique;not null"`
	User      User        `gorm:"foreignKey:UserID"`
	Position  int         `gorm:"index:idx_queue_session_position;not null"` // Позиция в очереди, непрерывная с нуля
	Status    EntryStatus `gorm:"not null;default:waiting"`
	JoinedAt  time.Time   `gorm:"not null"` // Информационное поле, порядок хода определяет Position
}
