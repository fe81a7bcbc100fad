package queue

import (
	"errors"

	"bookjourney/internal/models"

	"gorm.io/gorm"
)

// Внутренние шаги движка. Все функции работают внутри транзакции,
// переданной вызывающей операцией, и выполняются строго в порядке:
// выбор следующего читателя -> повторный круг -> снятие лишних
// читателей -> нормализация позиций.

func loadSession(tx *gorm.DB, sessionID uint) (*models.Session, error) {
	var session models.Session
	if err := tx.First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func loadActiveSession(tx *gorm.DB, sessionID uint) (*models.Session, error) {
	session, err := loadSession(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionEnded {
		return nil, ErrSessionEnded
	}
	return session, nil
}

func getParticipant(tx *gorm.DB, sessionID, userID uint) (*models.Participant, error) {
	var participant models.Participant
	err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}
	return &participant, nil
}

func requireHost(tx *gorm.DB, sessionID, userID uint) error {
	participant, err := getParticipant(tx, sessionID, userID)
	if err != nil {
		return err
	}
	if participant.Role != models.RoleHost {
		return ErrForbidden
	}
	return nil
}

// orderedEntries возвращает записи очереди сессии по возрастанию позиции.
func orderedEntries(tx *gorm.DB, sessionID uint) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := tx.Where("session_id = ?", sessionID).Order("position ASC").Find(&entries).Error
	return entries, err
}

func getEntry(tx *gorm.DB, sessionID, userID uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// nextReader выбирает следующего читателя: первая запись waiting с
// позицией строго больше minPositionExclusive, при отсутствии — первая
// waiting с начала очереди (циклический проход). Найденная запись
// переводится в reading.
func nextReader(tx *gorm.DB, sessionID uint, minPositionExclusive int) (*models.QueueEntry, error) {
	entries, err := orderedEntries(tx, sessionID)
	if err != nil {
		return nil, err
	}

	var next *models.QueueEntry
	var fallback *models.QueueEntry
	for i := range entries {
		switch entries[i].Status {
		case models.StatusWaiting:
			if fallback == nil {
				fallback = &entries[i]
			}
			if next == nil && entries[i].Position > minPositionExclusive {
				next = &entries[i]
			}
		case models.StatusReading, models.StatusDone:
			// Занятые и отчитавшие свой ход не участвуют в выборе.
		}
	}
	if next == nil {
		next = fallback
	}
	if next == nil {
		return nil, nil
	}

	if err := tx.Model(next).Update("status", models.StatusReading).Error; err != nil {
		return nil, err
	}
	next.Status = models.StatusReading
	return next, nil
}

// recycleDone возвращает все записи done в waiting, сохраняя порядок.
// Вызывается только при включённом повторе и пустом результате выбора.
func recycleDone(tx *gorm.DB, sessionID uint) error {
	return tx.Model(&models.QueueEntry{}).
		Where("session_id = ? AND status = ?", sessionID, models.StatusDone).
		Update("status", models.StatusWaiting).Error
}

// promoteNext объединяет выбор читателя с повторным кругом: если никто
// не ждёт и у сессии включён повтор, done-записи возвращаются в waiting
// и выбор выполняется заново.
func promoteNext(tx *gorm.DB, session *models.Session, minPositionExclusive int) (*models.QueueEntry, error) {
	next, err := nextReader(tx, session.ID, minPositionExclusive)
	if err != nil {
		return nil, err
	}
	if next != nil || !session.IsRepeatEnabled {
		return next, nil
	}

	if err := recycleDone(tx, session.ID); err != nil {
		return nil, err
	}
	return nextReader(tx, session.ID, -1)
}

// demoteExtraReaders страхует инвариант "не более одного reading":
// при гонке двух мутаций лишние читатели (все после первого по позиции)
// возвращаются в waiting. Это самовосстановление, а не блокировка.
func demoteExtraReaders(tx *gorm.DB, sessionID uint) error {
	entries, err := orderedEntries(tx, sessionID)
	if err != nil {
		return err
	}

	seenReader := false
	for i := range entries {
		switch entries[i].Status {
		case models.StatusReading:
			if !seenReader {
				seenReader = true
				continue
			}
			if err := tx.Model(&entries[i]).Update("status", models.StatusWaiting).Error; err != nil {
				return err
			}
		case models.StatusWaiting, models.StatusDone:
		}
	}
	return nil
}

// normalizePositions переписывает позиции в 0,1,2,..., сохраняя
// относительный порядок. Вызывается после каждой вставки/удаления.
func normalizePositions(tx *gorm.DB, sessionID uint) error {
	entries, err := orderedEntries(tx, sessionID)
	if err != nil {
		return err
	}

	for i := range entries {
		if entries[i].Position == i {
			continue
		}
		if err := tx.Model(&entries[i]).Update("position", i).Error; err != nil {
			return err
		}
	}
	return nil
}
