package tasks

import (
	"log"
	"time"

	"bookjourney/internal/models"
	"bookjourney/internal/storage"

	"github.com/robfig/cron/v3"
)

// Сессии, завершённые раньше этого порога, удаляются вместе со всеми
// зависимыми записями.
const endedSessionRetention = 24 * time.Hour

// CleanEndedSessions удаляет давно завершённые сессии и их очереди,
// гранты, слова и участников.
func CleanEndedSessions() {
	threshold := time.Now().Add(-endedSessionRetention)

	var sessions []models.Session
	if err := storage.DB.
		Where("status = ? AND ended_at < ?", models.SessionEnded, threshold).
		Find(&sessions).Error; err != nil {
		log.Println("Ошибка поиска завершённых сессий:", err)
		return
	}

	if len(sessions) == 0 {
		return
	}

	sessionIDs := make([]uint, 0, len(sessions))
	for _, s := range sessions {
		sessionIDs = append(sessionIDs, s.ID)
	}

	if err := storage.DB.Unscoped().Where("session_id IN ?", sessionIDs).Delete(&models.QueueEntry{}).Error; err != nil {
		log.Println("Ошибка удаления записей очереди:", err)
		return
	}
	if err := storage.DB.Unscoped().Where("session_id IN ?", sessionIDs).Delete(&models.PasscodeGrant{}).Error; err != nil {
		log.Println("Ошибка удаления грантов:", err)
		return
	}
	if err := storage.DB.Unscoped().Where("session_id IN ?", sessionIDs).Delete(&models.SessionWord{}).Error; err != nil {
		log.Println("Ошибка удаления слов:", err)
		return
	}
	if err := storage.DB.Unscoped().Where("session_id IN ?", sessionIDs).Delete(&models.Participant{}).Error; err != nil {
		log.Println("Ошибка удаления участников:", err)
		return
	}
	if err := storage.DB.Unscoped().Delete(&models.Session{}, sessionIDs).Error; err != nil {
		log.Println("Ошибка удаления сессий:", err)
		return
	}

	log.Printf("Удалено завершённых сессий: %d\n", len(sessions))
}

// CleanExpiredGrants удаляет истёкшие подтверждения пасскода.
func CleanExpiredGrants() {
	if err := storage.DB.Unscoped().Where("expires_at < ?", time.Now()).Delete(&models.PasscodeGrant{}).Error; err != nil {
		log.Println("Ошибка при удалении истёкших грантов:", err)
	}
}

// InitScheduler инициализирует планировщик cron-задач.
func InitScheduler() *cron.Cron {
	c := cron.New(cron.WithSeconds())

	// Очистка завершённых сессий каждый день в 03:00.
	_, err := c.AddFunc("0 0 3 * * *", CleanEndedSessions)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи CleanEndedSessions:", err)
	}

	// Очистка истёкших грантов каждый час.
	_, err = c.AddFunc("0 0 * * * *", CleanExpiredGrants)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи CleanExpiredGrants:", err)
	}

	c.Start()
	log.Println("Cron-планировщик запущен.")
	return c
}
