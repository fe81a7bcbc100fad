package response

// SuccessResponse представляет успешный ответ API
type SuccessResponse struct {
	Message string `json:"message" example:"Операция успешно выполнена"`
}

// ErrorResponse представляет ответ с ошибкой API
type ErrorResponse struct {
	// Код ошибки для программной обработки
	// example: SESSION_ENDED
	Code string `json:"code"`

	// Человекочитаемое сообщение об ошибке
	// example: Сессия уже завершена
	Message string `json:"message"`

	// Дополнительные детали об ошибке (опционально)
	Details string `json:"details,omitempty"`
}

// TokenResponse представляет ответ с токенами авторизации
type TokenResponse struct {
	// JWT токен для доступа к защищенным эндпоинтам
	AccessToken string `json:"access_token"`

	// JWT токен для обновления access токена
	RefreshToken string `json:"refresh_token"`
}

// VerifyPasscodeResponse — результат проверки пасскода сессии.
type VerifyPasscodeResponse struct {
	Verified            bool `json:"verified"`
	IsPasscodeProtected bool `json:"is_passcode_protected"`
}
