package queue

import "errors"

// Ошибки движка очереди. Все синхронные и терминальные: транзакция
// откатывается целиком, частичных записей не остаётся, повтор безопасен.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	ErrNotParticipant  = errors.New("join the session first")
	ErrForbidden       = errors.New("forbidden")
	ErrEntryNotFound   = errors.New("queue entry not found")
	ErrNotReading      = errors.New("only current reader can skip turn")
	ErrAlreadyQueued   = errors.New("user is already in the queue")
)
