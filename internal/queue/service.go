// Package queue содержит движок очереди чтения: вступление, выход,
// пропуск хода, продвижение хоста и выборку состояния. Каждая операция
// выполняется в одной транзакции; после фиксации при смене читателя
// срабатывает уведомление.
package queue

import (
	"database/sql"
	"time"

	"bookjourney/internal/access"
	"bookjourney/internal/models"

	"gorm.io/gorm"
)

// TurnEvent описывает смену читателя для коллаборатора-уведомителя.
type TurnEvent struct {
	UserID    uint
	SessionID uint
	BookTitle string
}

// TurnNotifier вызывается после фиксации транзакции (at-least-once,
// best-effort): упавшая доставка не влияет на результат операции.
type TurnNotifier interface {
	NotifyTurn(event TurnEvent)
}

type Service struct {
	db       *gorm.DB
	notifier TurnNotifier
	txOpts   []*sql.TxOptions
}

// NewService собирает движок поверх хранилища. В проде opts задаёт
// serializable-изоляцию; тесты работают с изоляцией драйвера по умолчанию.
func NewService(db *gorm.DB, notifier TurnNotifier, opts ...*sql.TxOptions) *Service {
	return &Service{db: db, notifier: notifier, txOpts: opts}
}

func (s *Service) transaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn, s.txOpts...)
}

func (s *Service) notifyTurn(session *models.Session, promoted *models.QueueEntry) {
	if s.notifier == nil || promoted == nil {
		return
	}
	s.notifier.NotifyTurn(TurnEvent{
		UserID:    promoted.UserID,
		SessionID: session.ID,
		BookTitle: session.BookTitle,
	})
}

// Join добавляет участника в хвост очереди. Повторный вызов идемпотентен
// и возвращает существующую запись. Если в очереди нет ни читающего, ни
// ожидающих, новая запись сразу становится reading.
func (s *Service) Join(sessionID, actorID uint) (*models.QueueEntry, error) {
	var entry *models.QueueEntry

	err := s.transaction(func(tx *gorm.DB) error {
		session, err := loadActiveSession(tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := getParticipant(tx, sessionID, actorID); err != nil {
			return err
		}
		if err := access.Authorize(tx, session, actorID); err != nil {
			return err
		}

		existing, err := getEntry(tx, sessionID, actorID)
		if err == nil {
			entry = existing
			return nil
		}
		if err != ErrEntryNotFound {
			return err
		}

		if err := normalizePositions(tx, sessionID); err != nil {
			return err
		}

		entries, err := orderedEntries(tx, sessionID)
		if err != nil {
			return err
		}

		status := models.StatusReading
		for _, e := range entries {
			if e.Status == models.StatusReading || e.Status == models.StatusWaiting {
				status = models.StatusWaiting
				break
			}
		}

		position := 0
		if len(entries) > 0 {
			position = entries[len(entries)-1].Position + 1
		}

		created := models.QueueEntry{
			SessionID: sessionID,
			UserID:    actorID,
			Position:  position,
			Status:    status,
			JoinedAt:  time.Now(),
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		if err := demoteExtraReaders(tx, sessionID); err != nil {
			return err
		}

		entry = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Leave удаляет запись участника. Отсутствие записи — не ошибка,
// возвращается nil. Если ушёл текущий читатель, продвигается следующий.
func (s *Service) Leave(sessionID, actorID uint) (*models.QueueEntry, error) {
	return s.removeEntry(sessionID, actorID, actorID, false)
}

// RemoveUser — удаление произвольного участника хостом; эффект тот же,
// что и у Leave, но применён к target.
func (s *Service) RemoveUser(sessionID, actorID, targetUserID uint) (*models.QueueEntry, error) {
	return s.removeEntry(sessionID, actorID, targetUserID, true)
}

func (s *Service) removeEntry(sessionID, actorID, targetUserID uint, hostOnly bool) (*models.QueueEntry, error) {
	var removed *models.QueueEntry
	var promoted *models.QueueEntry
	var session *models.Session

	err := s.transaction(func(tx *gorm.DB) error {
		var err error
		session, err = loadActiveSession(tx, sessionID)
		if err != nil {
			return err
		}

		if hostOnly {
			if err := requireHost(tx, sessionID, actorID); err != nil {
				return err
			}
		} else if err := access.Authorize(tx, session, actorID); err != nil {
			return err
		}

		existing, err := getEntry(tx, sessionID, targetUserID)
		if err == ErrEntryNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		wasReader := existing.Status == models.StatusReading
		// Жёсткое удаление: на (session_id, user_id) стоит уникальный
		// индекс, soft delete мешал бы повторному вступлению.
		if err := tx.Unscoped().Delete(&models.QueueEntry{}, existing.ID).Error; err != nil {
			return err
		}
		if err := normalizePositions(tx, sessionID); err != nil {
			return err
		}

		if wasReader {
			promoted, err = promoteNext(tx, session, -1)
			if err != nil {
				return err
			}
		}

		if err := demoteExtraReaders(tx, sessionID); err != nil {
			return err
		}

		removed = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyTurn(session, promoted)
	return removed, nil
}

// SkipMyTurn переводит текущего читателя в done и передаёт ход первой
// ожидающей записи после его позиции (с переходом в начало, если дальше
// никого нет).
func (s *Service) SkipMyTurn(sessionID, actorID uint) (*models.QueueEntry, error) {
	var skipped *models.QueueEntry
	var promoted *models.QueueEntry
	var session *models.Session

	err := s.transaction(func(tx *gorm.DB) error {
		var err error
		session, err = loadActiveSession(tx, sessionID)
		if err != nil {
			return err
		}
		if err := access.Authorize(tx, session, actorID); err != nil {
			return err
		}

		existing, err := getEntry(tx, sessionID, actorID)
		if err != nil {
			return err
		}
		if existing.Status != models.StatusReading {
			return ErrNotReading
		}

		if err := tx.Model(existing).Update("status", models.StatusDone).Error; err != nil {
			return err
		}
		existing.Status = models.StatusDone

		promoted, err = promoteNext(tx, session, existing.Position)
		if err != nil {
			return err
		}

		if err := normalizePositions(tx, sessionID); err != nil {
			return err
		}
		if err := demoteExtraReaders(tx, sessionID); err != nil {
			return err
		}

		skipped = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyTurn(session, promoted)
	return skipped, nil
}

// Advance — ход хоста: текущий читатель (если есть) помечается done,
// следующий выбирается строго после его позиции; без читателя просто
// продвигается первый ожидающий. Возвращает нового читателя или nil.
func (s *Service) Advance(sessionID, actorID uint) (*models.QueueEntry, error) {
	var promoted *models.QueueEntry
	var session *models.Session

	err := s.transaction(func(tx *gorm.DB) error {
		var err error
		session, err = loadActiveSession(tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireHost(tx, sessionID, actorID); err != nil {
			return err
		}

		entries, err := orderedEntries(tx, sessionID)
		if err != nil {
			return err
		}

		minPosition := -1
		for i := range entries {
			if entries[i].Status == models.StatusReading {
				if err := tx.Model(&entries[i]).Update("status", models.StatusDone).Error; err != nil {
					return err
				}
				minPosition = entries[i].Position
				break
			}
		}

		promoted, err = promoteNext(tx, session, minPosition)
		if err != nil {
			return err
		}

		return demoteExtraReaders(tx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	s.notifyTurn(session, promoted)
	return promoted, nil
}

// AddUser — добавление участника в хвост очереди хостом. Цель должна
// состоять в сессии и ещё не стоять в очереди.
func (s *Service) AddUser(sessionID, actorID, targetUserID uint) (*models.QueueEntry, error) {
	var entry *models.QueueEntry

	err := s.transaction(func(tx *gorm.DB) error {
		if _, err := loadActiveSession(tx, sessionID); err != nil {
			return err
		}
		if err := requireHost(tx, sessionID, actorID); err != nil {
			return err
		}
		if _, err := getParticipant(tx, sessionID, targetUserID); err != nil {
			return err
		}

		if _, err := getEntry(tx, sessionID, targetUserID); err == nil {
			return ErrAlreadyQueued
		} else if err != ErrEntryNotFound {
			return err
		}

		if err := normalizePositions(tx, sessionID); err != nil {
			return err
		}

		entries, err := orderedEntries(tx, sessionID)
		if err != nil {
			return err
		}

		status := models.StatusReading
		for _, e := range entries {
			if e.Status == models.StatusReading || e.Status == models.StatusWaiting {
				status = models.StatusWaiting
				break
			}
		}

		created := models.QueueEntry{
			SessionID: sessionID,
			UserID:    targetUserID,
			Position:  len(entries),
			Status:    status,
			JoinedAt:  time.Now(),
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		if err := demoteExtraReaders(tx, sessionID); err != nil {
			return err
		}

		entry = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Item — строка очереди для выдачи наружу.
type Item struct {
	EntryID     uint               `json:"entry_id"`
	UserID      uint               `json:"user_id"`
	DisplayName string             `json:"display_name"`
	Avatar      string             `json:"avatar,omitempty"`
	Position    int                `json:"position"`
	Status      models.EntryStatus `json:"status"`
	JoinedAt    time.Time          `json:"joined_at"`
}

// List возвращает очередь по возрастанию позиций вместе с данными
// пользователей. Доступно любому участнику сессии.
func (s *Service) List(sessionID, actorID uint) ([]Item, error) {
	var items []Item

	err := s.transaction(func(tx *gorm.DB) error {
		if _, err := loadSession(tx, sessionID); err != nil {
			return err
		}
		if _, err := getParticipant(tx, sessionID, actorID); err != nil {
			return err
		}

		var entries []models.QueueEntry
		err := tx.Preload("User").
			Where("session_id = ?", sessionID).
			Order("position ASC").
			Find(&entries).Error
		if err != nil {
			return err
		}

		items = make([]Item, 0, len(entries))
		for _, entry := range entries {
			items = append(items, Item{
				EntryID:     entry.ID,
				UserID:      entry.UserID,
				DisplayName: entry.User.ReaderName(),
				Avatar:      entry.User.Avatar,
				Position:    entry.Position,
				Status:      entry.Status,
				JoinedAt:    entry.JoinedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
