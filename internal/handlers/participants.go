package handlers

import (
	"net/http"
	"time"

	"bookjourney/internal/models"
	"bookjourney/internal/response"
	"bookjourney/internal/storage"

	"github.com/gin-gonic/gin"
)

type ParticipantItem struct {
	UserID      uint      `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Avatar      string    `json:"avatar,omitempty"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// JoinSessionHandler добавляет пользователя в участники сессии
// @Summary		Вступление в сессию
// @Description	Делает пользователя участником сессии с ролью reader; повторный вызов — no-op
// @Tags			participants
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Пользователь в сессии"
// @Failure		400	{object}	response.ErrorResponse		"Неверный идентификатор (INVALID_SESSION_ID) или сессия завершена (SESSION_ENDED)"
// @Failure		404	{object}	response.ErrorResponse		"Сессия не найдена (SESSION_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse		"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/{id}/participants [post]
func JoinSessionHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	var session models.Session
	if err := storage.DB.First(&session, sessionID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "SESSION_NOT_FOUND",
			Message: "Сессия не найдена",
		})
		return
	}
	if session.Status == models.SessionEnded {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "SESSION_ENDED",
			Message: "Сессия уже завершена",
		})
		return
	}

	var existing models.Participant
	if err := storage.DB.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&existing).Error; err == nil {
		c.JSON(http.StatusOK, response.SuccessResponse{Message: "Пользователь уже участвует в сессии"})
		return
	}

	participant := models.Participant{
		SessionID: sessionID,
		UserID:    userID,
		Role:      models.RoleReader,
		JoinedAt:  time.Now(),
	}
	if err := storage.DB.Create(&participant).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при вступлении в сессию",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Вы вступили в сессию"})
}

// ListParticipantsHandler возвращает участников сессии
// @Summary		Список участников сессии
// @Tags			participants
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{array}		ParticipantItem
// @Failure		400	{object}	response.ErrorResponse	"Неверный идентификатор (INVALID_SESSION_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/{id}/participants [get]
func ListParticipantsHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var session models.Session
	if err := storage.DB.First(&session, sessionID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "SESSION_NOT_FOUND",
			Message: "Сессия не найдена",
		})
		return
	}

	var participants []models.Participant
	if err := storage.DB.
		Preload("User").
		Where("session_id = ?", sessionID).
		Order("joined_at ASC").
		Find(&participants).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки участников",
			Details: err.Error(),
		})
		return
	}

	result := make([]ParticipantItem, 0, len(participants))
	for _, p := range participants {
		result = append(result, ParticipantItem{
			UserID:      p.UserID,
			DisplayName: p.User.ReaderName(),
			Avatar:      p.User.Avatar,
			Role:        p.Role,
			JoinedAt:    p.JoinedAt,
		})
	}

	c.JSON(http.StatusOK, result)
}
