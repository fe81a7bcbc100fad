package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookjourney/internal/models"
	"bookjourney/internal/response"
	"bookjourney/internal/storage"

	"github.com/gin-gonic/gin"
)

type AddWordRequest struct {
	Word    string `json:"word" binding:"required"`
	Context string `json:"context"`
}

type WordItem struct {
	WordID    uint      `json:"word_id"`
	UserID    uint      `json:"user_id"`
	Word      string    `json:"word"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddWordHandler сохраняет слово, встреченное во время чтения
// @Summary		Добавление слова сессии
// @Tags			words
// @Accept			json
// @Produce		json
// @Param			id		path	string			true	"ID сессии"
// @Param			word	body	AddWordRequest	true	"Слово и контекст"
// @Security		BearerAuth
// @Success		201	{object}	WordItem
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR, SESSION_ENDED)"
// @Failure		403	{object}	response.ErrorResponse	"Не участник (NOT_A_PARTICIPANT)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/{id}/words [post]
func AddWordHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	var req AddWordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	word := strings.TrimSpace(req.Word)
	if word == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Слово не может быть пустым",
		})
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
	if session.Status == models.SessionEnded {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "SESSION_ENDED",
			Message: "Сессия уже завершена",
		})
		return
	}
	if !isParticipant(sessionID, userID) {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "NOT_A_PARTICIPANT",
			Message: "Сначала вступите в сессию",
		})
		return
	}

	entry := models.SessionWord{
		SessionID: sessionID,
		UserID:    userID,
		Word:      word,
		Context:   strings.TrimSpace(req.Context),
	}
	if err := storage.DB.Create(&entry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при сохранении слова",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, WordItem{
		WordID:    entry.ID,
		UserID:    entry.UserID,
		Word:      entry.Word,
		Context:   entry.Context,
		CreatedAt: entry.CreatedAt,
	})
}

// ListWordsHandler возвращает слова сессии
// @Summary		Список слов сессии
// @Tags			words
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{array}		WordItem
// @Failure		400	{object}	response.ErrorResponse	"Неверный идентификатор (INVALID_SESSION_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/{id}/words [get]
func ListWordsHandler(c *gin.Context) {
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

	var words []models.SessionWord
	if err := storage.DB.
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&words).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки слов",
			Details: err.Error(),
		})
		return
	}

	result := make([]WordItem, 0, len(words))
	for _, w := range words {
		result = append(result, WordItem{
			WordID:    w.ID,
			UserID:    w.UserID,
			Word:      w.Word,
			Context:   w.Context,
			CreatedAt: w.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, result)
}

// RemoveWordHandler удаляет слово (автор слова или хост сессии)
// @Summary		Удаление слова сессии
// @Tags			words
// @Produce		json
// @Param			id		path	string	true	"ID сессии"
// @Param			wordId	path	string	true	"ID слова"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Слово удалено"
// @Failure		400	{object}	response.ErrorResponse		"Неверный идентификатор (INVALID_SESSION_ID, INVALID_WORD_ID)"
// @Failure		403	{object}	response.ErrorResponse		"Удалять может автор или хост (FORBIDDEN)"
// @Failure		404	{object}	response.ErrorResponse		"Слово не найдено (WORD_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse		"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/{id}/words/{wordId} [delete]
func RemoveWordHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	wordID, err := strconv.Atoi(c.Param("wordId"))
	if err != nil || wordID <= 0 {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_WORD_ID",
			Message: "Неверный идентификатор слова",
		})
		return
	}

	var word models.SessionWord
	if err := storage.DB.
		Where("id = ? AND session_id = ?", wordID, sessionID).
		First(&word).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "WORD_NOT_FOUND",
			Message: "Слово не найдено",
		})
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

	if word.UserID != userID && session.CreatedBy != userID {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "FORBIDDEN",
			Message: "Удалить слово может его автор или хост сессии",
		})
		return
	}

	if err := storage.DB.Delete(&word).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при удалении слова",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Слово удалено"})
}
