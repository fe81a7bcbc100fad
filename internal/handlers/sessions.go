package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookjourney/internal/access"
	"bookjourney/internal/models"
	"bookjourney/internal/response"
	"bookjourney/internal/storage"
	"bookjourney/internal/ws"

	"github.com/gin-gonic/gin"
)

type CreateSessionRequest struct {
	BookTitle       string `json:"book_title" binding:"required"`
	AuthorName      string `json:"author_name"`
	Title           string `json:"title"`
	Synopsis        string `json:"synopsis"`
	Passcode        string `json:"passcode"`
	IsRepeatEnabled bool   `json:"is_repeat_enabled"`
}

type SessionResponse struct {
	SessionID           uint       `json:"session_id"`
	BookTitle           string     `json:"book_title"`
	AuthorName          string     `json:"author_name,omitempty"`
	Title               string     `json:"title,omitempty"`
	Synopsis            string     `json:"synopsis,omitempty"`
	Status              string     `json:"status"`
	CreatedBy           uint       `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	IsRepeatEnabled     bool       `json:"is_repeat_enabled"`
	IsPasscodeProtected bool       `json:"is_passcode_protected"`
	IsHost              bool       `json:"is_host"`
}

func sessionToResponse(session *models.Session, viewerID uint) SessionResponse {
	return SessionResponse{
		SessionID:           session.ID,
		BookTitle:           session.BookTitle,
		AuthorName:          session.AuthorName,
		Title:               session.Title,
		Synopsis:            session.Synopsis,
		Status:              session.Status,
		CreatedBy:           session.CreatedBy,
		CreatedAt:           session.CreatedAt,
		EndedAt:             session.EndedAt,
		IsRepeatEnabled:     session.IsRepeatEnabled,
		IsPasscodeProtected: session.IsPasscodeProtected(),
		IsHost:              session.CreatedBy == viewerID,
	}
}

// parseSessionID извлекает :id из пути.
func parseSessionID(c *gin.Context) (uint, bool) {
	sessionID, err := strconv.Atoi(c.Param("id"))
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_SESSION_ID",
			Message: "Неверный идентификатор сессии",
		})
		return 0, false
	}
	return uint(sessionID), true
}

// CreateSessionHandler создает сессию чтения; создатель становится хостом
// @Summary		Создание сессии чтения
// @Description	Создает сессию, сохраняет хеш пасскода (если задан) и записывает создателя участником-хостом
// @Tags			sessions
// @Accept			json
// @Produce		json
// @Param			session	body		CreateSessionRequest	true	"Данные сессии"
// @Security		BearerAuth
// @Success		201	{object}	SessionResponse			"Созданная сессия"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions [post]
func CreateSessionHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	bookTitle := strings.TrimSpace(req.BookTitle)
	if bookTitle == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Название книги обязательно",
		})
		return
	}

	session := models.Session{
		BookTitle:       bookTitle,
		AuthorName:      strings.TrimSpace(req.AuthorName),
		Title:           strings.TrimSpace(req.Title),
		Synopsis:        strings.TrimSpace(req.Synopsis),
		CreatedBy:       userID,
		Status:          models.SessionActive,
		IsRepeatEnabled: req.IsRepeatEnabled,
	}
	if passcode := strings.TrimSpace(req.Passcode); passcode != "" {
		session.HostPasscode = access.HashPasscode(passcode)
	}

	if err := storage.DB.Create(&session).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при создании сессии",
			Details: err.Error(),
		})
		return
	}

	host := models.Participant{
		SessionID: session.ID,
		UserID:    userID,
		Role:      models.RoleHost,
		JoinedAt:  time.Now(),
	}
	if err := storage.DB.Create(&host).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при добавлении хоста в сессию",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, sessionToResponse(&session, userID))
}

// ListMySessionsHandler возвращает сессии, созданные пользователем
// @Summary		Список своих сессий
// @Description	Сессии, созданные пользователем, новые первыми
// @Tags			sessions
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		SessionResponse
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions [get]
func ListMySessionsHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var sessions []models.Session
	if err := storage.DB.
		Where("created_by = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки сессий",
			Details: err.Error(),
		})
		return
	}

	result := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		result = append(result, sessionToResponse(&sessions[i], userID))
	}
	c.JSON(http.StatusOK, result)
}

// ListJoinedSessionsHandler возвращает сессии, где пользователь участник
// @Summary		Список сессий с участием пользователя
// @Tags			sessions
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		SessionResponse
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/joined [get]
func ListJoinedSessionsHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var participants []models.Participant
	if err := storage.DB.Where("user_id = ?", userID).Find(&participants).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки участий",
			Details: err.Error(),
		})
		return
	}

	if len(participants) == 0 {
		c.JSON(http.StatusOK, []SessionResponse{})
		return
	}

	sessionIDs := make([]uint, 0, len(participants))
	for _, p := range participants {
		sessionIDs = append(sessionIDs, p.SessionID)
	}

	var sessions []models.Session
	if err := storage.DB.
		Where("id IN ?", sessionIDs).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки сессий",
			Details: err.Error(),
		})
		return
	}

	result := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		result = append(result, sessionToResponse(&sessions[i], userID))
	}
	c.JSON(http.StatusOK, result)
}

// GetSessionHandler возвращает сессию по идентификатору
// @Summary		Получение сессии
// @Tags			sessions
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{object}	SessionResponse
// @Failure		400	{object}	response.ErrorResponse	"Неверный идентификатор (INVALID_SESSION_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Router			/api/sessions/{id} [get]
func GetSessionHandler(c *gin.Context) {
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

	c.JSON(http.StatusOK, sessionToResponse(&session, userID))
}

// EndSessionHandler завершает сессию (только хост, идемпотентно)
// @Summary		Завершение сессии
// @Tags			sessions
// @Produce		json
// @Param			id	path	string	true	"ID сессии"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Сессия завершена"
// @Failure		400	{object}	response.ErrorResponse		"Неверный идентификатор (INVALID_SESSION_ID)"
// @Failure		403	{object}	response.ErrorResponse		"Завершать сессию может только её создатель (FORBIDDEN)"
// @Failure		404	{object}	response.ErrorResponse		"Сессия не найдена (SESSION_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse		"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/{id}/end [post]
func EndSessionHandler(c *gin.Context) {
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

	if session.CreatedBy != userID {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "FORBIDDEN",
			Message: "Завершить сессию может только её создатель",
		})
		return
	}

	// Повторное завершение — no-op.
	if session.Status != models.SessionEnded {
		now := time.Now()
		updates := map[string]interface{}{"status": models.SessionEnded, "ended_at": &now}
		if err := storage.DB.Model(&session).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "DB_ERROR",
				Message: "Ошибка при завершении сессии",
				Details: err.Error(),
			})
			return
		}

		ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
			EventType: "session_ended",
			SessionID: c.Param("id"),
		})
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Сессия завершена"})
}

type VerifyPasscodeRequest struct {
	Passcode string `json:"passcode" binding:"required"`
}

// VerifyPasscodeHandler проверяет пасскод и выдает грант на 15 минут
// @Summary		Проверка пасскода сессии
// @Description	При совпадении пасскода создает либо продлевает грант доступа к мутациям очереди
// @Tags			sessions
// @Accept			json
// @Produce		json
// @Param			id			path	string					true	"ID сессии"
// @Param			passcode	body	VerifyPasscodeRequest	true	"Пасскод"
// @Security		BearerAuth
// @Success		200	{object}	response.VerifyPasscodeResponse
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR, INVALID_SESSION_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Сессия не найдена (SESSION_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/sessions/{id}/passcode/verify [post]
func VerifyPasscodeHandler(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	var req VerifyPasscodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
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

	verified, err := access.VerifyPasscode(storage.DB, &session, userID, strings.TrimSpace(req.Passcode))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при сохранении гранта",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.VerifyPasscodeResponse{
		Verified:            verified,
		IsPasscodeProtected: session.IsPasscodeProtected(),
	})
}
