package handlers

import (
	"net/http"

	"bookjourney/internal/models"
	"bookjourney/internal/response"
	"bookjourney/internal/storage"

	"github.com/gin-gonic/gin"
)

type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256dh   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// SubscribePushHandler сохраняет push-подписку пользователя
// @Summary		Подписка на push-уведомления
// @Description	Сохраняет подписку браузера; повторная регистрация того же endpoint — no-op
// @Tags			push
// @Accept			json
// @Produce		json
// @Param			subscription	body	SubscribeRequest	true	"Данные подписки"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Подписка сохранена"
// @Failure		400	{object}	response.ErrorResponse		"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		500	{object}	response.ErrorResponse		"Ошибка сервера (DB_ERROR)"
// @Router			/api/push/subscribe [post]
func SubscribePushHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	var existing models.PushSubscription
	if err := storage.DB.
		Where("user_id = ? AND endpoint = ?", userID, req.Endpoint).
		First(&existing).Error; err == nil {
		c.JSON(http.StatusOK, response.SuccessResponse{Message: "Подписка уже существует"})
		return
	}

	sub := models.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.P256dh,
		Auth:     req.Auth,
	}
	if err := storage.DB.Create(&sub).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при сохранении подписки",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Подписка сохранена"})
}

// UnsubscribePushHandler удаляет push-подписку пользователя
// @Summary		Отписка от push-уведомлений
// @Tags			push
// @Accept			json
// @Produce		json
// @Param			subscription	body	UnsubscribeRequest	true	"Endpoint подписки"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Подписка удалена"
// @Failure		400	{object}	response.ErrorResponse		"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		500	{object}	response.ErrorResponse		"Ошибка сервера (DB_ERROR)"
// @Router			/api/push/unsubscribe [post]
func UnsubscribePushHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	if err := storage.DB.
		Where("user_id = ? AND endpoint = ?", userID, req.Endpoint).
		Delete(&models.PushSubscription{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при удалении подписки",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Подписка удалена"})
}
