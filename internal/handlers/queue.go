package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bookjourney/internal/access"
	"bookjourney/internal/models"
	"bookjourney/internal/queue"
	"bookjourney/internal/response"
	"bookjourney/internal/storage"
	"bookjourney/internal/ws"

	"github.com/gin-gonic/gin"
)

var ctx = context.Background()

// QueueService подключается из main (и из тестов).
var QueueService *queue.Service

const queueCacheTTL = 30 * time.Second

func queueCacheKey(sessionID uint) string {
	return fmt.Sprintf("session:%d:queue", sessionID)
}

// invalidateQueueCache сбрасывает кэш списка очереди после мутации.
func invalidateQueueCache(sessionID uint) {
	if storage.RedisClient == nil {
		return
	}
	storage.RedisClient.Del(ctx, queueCacheKey(sessionID))
}

// respondQueueError переводит ошибку движка в HTTP-ответ с кодом.
func respondQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "SESSION_NOT_FOUND",
			Message: "Сессия не найдена",
		})
	case errors.Is(err, queue.ErrSessionEnded):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "SESSION_ENDED",
			Message: "Сессия уже завершена",
		})
	case errors.Is(err, queue.ErrNotParticipant):
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "NOT_A_PARTICIPANT",
			Message: "Сначала вступите в сессию",
		})
	case errors.Is(err, access.ErrPasscodeRequired):
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "PASSCODE_REQUIRED",
			Message: "Требуется проверка пасскода",
		})
	case errors.Is(err, queue.ErrForbidden):
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "FORBIDDEN",
			Message: "Операция доступна только хосту",
		})
	case errors.Is(err, queue.ErrNotReading):
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "NOT_READING",
			Message: "Пропустить ход может только текущий читатель",
		})
	case errors.Is(err, queue.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_ENTRY_NOT_FOUND",
			Message: "Запись в очереди не найдена",
		})
	case errors.Is(err, queue.ErrAlreadyQueued):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "ALREADY_IN_QUEUE",
			Message: "Пользователь уже состоит в очереди",
		})
	default:
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Внутренняя ошибка очереди",
			Details: err.Error(),
		})
	}
}

func isParticipant(sessionID, userID uint) bool {
	var count int64
	storage.DB.Model(&models.Participant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Count(&count)
	return count > 0
}

func broadcastQueueEvent(sessionID uint, eventType string, data map[string]interface{}) {
	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: eventType,
		SessionID: strconv.Itoa(int(sessionID)),
		Data:      data,
	})
}

// JoinQueueHandler обрабатывает запрос на вступление в очередь
// @Summary		Вступление в очередь чтения
// @Description	Ставит участника в хвост очереди; повторный вызов возвращает существующую запись
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{object}	queue.Item				"Запись очереди"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_SESSION_ID, SESSION_ENDED)"
// @Failure		403	{object}	response.ErrorResponse	"Нет доступа (NOT_A_PARTICIPANT, PASSCODE_REQUIRED)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Router			/api/sessions/{id}/queue/join [post]
func JoinQueueHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	entry, err := QueueService.Join(sessionID, userID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	invalidateQueueCache(sessionID)
	broadcastQueueEvent(sessionID, "queue_updated", map[string]interface{}{
		"user_id":  entry.UserID,
		"position": entry.Position,
		"status":   entry.Status,
	})

	c.JSON(http.StatusOK, gin.H{
		"entry_id": entry.ID,
		"user_id":  entry.UserID,
		"position": entry.Position,
		"status":   entry.Status,
	})
}

// LeaveQueueHandler обрабатывает выход из очереди
// @Summary		Выход из очереди чтения
// @Description	Удаляет запись участника; если ушел читатель — ход передается следующему
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Выход выполнен (removed_entry_id=null, если записи не было)"
// @Failure		400	{object}	response.ErrorResponse		"Ошибка валидации (INVALID_SESSION_ID, SESSION_ENDED)"
// @Failure		403	{object}	response.ErrorResponse		"Нет доступа (PASSCODE_REQUIRED)"
// @Failure		404	{object}	response.ErrorResponse		"Сессия не найдена (SESSION_NOT_FOUND)"
// @Router			/api/sessions/{id}/queue/leave [post]
func LeaveQueueHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	removed, err := QueueService.Leave(sessionID, userID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	var removedID interface{}
	if removed != nil {
		removedID = removed.ID
		invalidateQueueCache(sessionID)
		broadcastQueueEvent(sessionID, "queue_updated", map[string]interface{}{
			"user_id":       removed.UserID,
			"left_position": removed.Position,
		})
	}

	c.JSON(http.StatusOK, gin.H{"message": "Вы вышли из очереди", "removed_entry_id": removedID})
}

// SkipTurnHandler обрабатывает пропуск хода текущим читателем
// @Summary		Пропуск своего хода
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Ход пропущен"
// @Failure		400	{object}	response.ErrorResponse		"Ошибка валидации (INVALID_SESSION_ID, SESSION_ENDED)"
// @Failure		403	{object}	response.ErrorResponse		"Нет доступа (PASSCODE_REQUIRED, NOT_READING)"
// @Failure		404	{object}	response.ErrorResponse		"Сессия или запись не найдена (SESSION_NOT_FOUND, QUEUE_ENTRY_NOT_FOUND)"
// @Router			/api/sessions/{id}/queue/skip [post]
func SkipTurnHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	skipped, err := QueueService.SkipMyTurn(sessionID, userID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	invalidateQueueCache(sessionID)
	broadcastQueueEvent(sessionID, "reader_changed", map[string]interface{}{
		"skipped_user_id": skipped.UserID,
	})

	c.JSON(http.StatusOK, gin.H{"message": "Ход пропущен", "entry_id": skipped.ID})
}

// AdvanceQueueHandler передает ход следующему читателю (только хост)
// @Summary		Продвижение очереди хостом
// @Description	Текущий читатель помечается done, ход переходит следующему ожидающему; при включенном повторе круг начинается заново
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Очередь продвинута (promoted_user_id=null, если читателя нет)"
// @Failure		400	{object}	response.ErrorResponse		"Ошибка валидации (INVALID_SESSION_ID, SESSION_ENDED)"
// @Failure		403	{object}	response.ErrorResponse		"Продвигать очередь может только хост (FORBIDDEN)"
// @Failure		404	{object}	response.ErrorResponse		"Сессия не найдена (SESSION_NOT_FOUND)"
// @Router			/api/sessions/{id}/queue/advance [post]
func AdvanceQueueHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	promoted, err := QueueService.Advance(sessionID, userID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	invalidateQueueCache(sessionID)

	var promotedUserID interface{}
	data := map[string]interface{}{}
	if promoted != nil {
		promotedUserID = promoted.UserID
		data["promoted_user_id"] = promoted.UserID
		data["position"] = promoted.Position
	}
	broadcastQueueEvent(sessionID, "reader_changed", data)

	c.JSON(http.StatusOK, gin.H{"message": "Очередь продвинута", "promoted_user_id": promotedUserID})
}

type TargetUserRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// AddUserToQueueHandler добавляет участника в очередь (только хост)
// @Summary		Добавление участника в очередь хостом
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id		path	string				true	"ID сессии"
// @Param			target	body	TargetUserRequest	true	"ID пользователя"
// @Security		BearerAuth
// @Success		200	{object}	queue.Item				"Созданная запись"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR, ALREADY_IN_QUEUE, SESSION_ENDED)"
// @Failure		403	{object}	response.ErrorResponse	"Только хост (FORBIDDEN) или цель вне сессии (NOT_A_PARTICIPANT)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Router			/api/sessions/{id}/queue/add-user [post]
func AddUserToQueueHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	var req TargetUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	entry, err := QueueService.AddUser(sessionID, userID, req.UserID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	invalidateQueueCache(sessionID)
	broadcastQueueEvent(sessionID, "queue_updated", map[string]interface{}{
		"user_id":  entry.UserID,
		"position": entry.Position,
		"status":   entry.Status,
	})

	c.JSON(http.StatusOK, gin.H{
		"entry_id": entry.ID,
		"user_id":  entry.UserID,
		"position": entry.Position,
		"status":   entry.Status,
	})
}

// RemoveUserFromQueueHandler удаляет участника из очереди (только хост)
// @Summary		Удаление участника из очереди хостом
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id		path	string				true	"ID сессии"
// @Param			target	body	TargetUserRequest	true	"ID пользователя"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Участник удален (removed_entry_id=null, если записи не было)"
// @Failure		400	{object}	response.ErrorResponse		"Ошибка валидации (VALIDATION_ERROR, SESSION_ENDED)"
// @Failure		403	{object}	response.ErrorResponse		"Только хост (FORBIDDEN)"
// @Failure		404	{object}	response.ErrorResponse		"Сессия не найдена (SESSION_NOT_FOUND)"
// @Router			/api/sessions/{id}/queue/remove-user [post]
func RemoveUserFromQueueHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	var req TargetUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	removed, err := QueueService.RemoveUser(sessionID, userID, req.UserID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	var removedID interface{}
	if removed != nil {
		removedID = removed.ID
		invalidateQueueCache(sessionID)
		broadcastQueueEvent(sessionID, "queue_updated", map[string]interface{}{
			"user_id":       removed.UserID,
			"left_position": removed.Position,
		})
	}

	c.JSON(http.StatusOK, gin.H{"message": "Участник удален из очереди", "removed_entry_id": removedID})
}

// GetQueueHandler возвращает очередь сессии
// @Summary		Получение очереди сессии
// @Description	Записи по возрастанию позиции; результат кэшируется в Redis до первой мутации
// @Tags			queue
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{array}		queue.Item
// @Failure		400	{object}	response.ErrorResponse	"Неверный идентификатор (INVALID_SESSION_ID)"
// @Failure		403	{object}	response.ErrorResponse	"Не участник (NOT_A_PARTICIPANT)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Router			/api/sessions/{id}/queue [get]
func GetQueueHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	// Кэш отдаем только участникам сессии.
	cacheKey := queueCacheKey(sessionID)
	if storage.RedisClient != nil && isParticipant(sessionID, userID) {
		cached, err := storage.RedisClient.Get(ctx, cacheKey).Result()
		if err == nil && cached != "" {
			var items []queue.Item
			if err := json.Unmarshal([]byte(cached), &items); err == nil {
				c.JSON(http.StatusOK, items)
				return
			}
		}
	}

	items, err := QueueService.List(sessionID, userID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	if storage.RedisClient != nil {
		if data, err := json.Marshal(items); err == nil {
			storage.RedisClient.Set(ctx, cacheKey, data, queueCacheTTL)
		}
	}

	c.JSON(http.StatusOK, items)
}
