// Package access реализует проверку доступа к мутациям очереди:
// хост проходит всегда, остальным при установленном пасскоде нужен
// неистёкший PasscodeGrant, выданный после успешной верификации.
package access

import (
	"errors"
	"fmt"
	"time"

	"bookjourney/internal/models"

	"gorm.io/gorm"
)

// GrantTTL — срок жизни подтверждения пасскода. Повторная верификация
// заменяет срок, а не суммирует его.
const GrantTTL = 15 * time.Minute

var ErrPasscodeRequired = errors.New("passcode verification required")

// HashPasscode — детерминированный мультипликативный хеш (DJB2).
// Схема слабая, но сохранена ради совместимости с уже сохранёнными хешами.
func HashPasscode(passcode string) string {
	var hash uint32 = 5381
	for _, b := range []byte(passcode) {
		hash = hash*33 + uint32(b)
	}
	return fmt.Sprintf("%08x", hash)
}

// Authorize проверяет, может ли actor мутировать очередь сессии.
// Без пасскода и для хоста — всегда можно, иначе нужен живой грант.
func Authorize(tx *gorm.DB, session *models.Session, actorID uint) error {
	if !session.IsPasscodeProtected() || session.CreatedBy == actorID {
		return nil
	}

	var grant models.PasscodeGrant
	err := tx.Where("session_id = ? AND user_id = ?", session.ID, actorID).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPasscodeRequired
		}
		return err
	}

	if !grant.ExpiresAt.After(time.Now()) {
		return ErrPasscodeRequired
	}

	return nil
}

// VerifyPasscode сверяет пасскод с хешем сессии и при совпадении
// создаёт либо продлевает грант на GrantTTL от текущего момента.
func VerifyPasscode(tx *gorm.DB, session *models.Session, actorID uint, passcode string) (bool, error) {
	if !session.IsPasscodeProtected() {
		return true, nil
	}

	if HashPasscode(passcode) != session.HostPasscode {
		return false, nil
	}

	if err := grantAccess(tx, session.ID, actorID); err != nil {
		return false, err
	}

	return true, nil
}

func grantAccess(tx *gorm.DB, sessionID, userID uint) error {
	expiresAt := time.Now().Add(GrantTTL)

	var existing models.PasscodeGrant
	err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&existing).Error
	if err == nil {
		return tx.Model(&existing).Update("expires_at", expiresAt).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	grant := models.PasscodeGrant{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	return tx.Create(&grant).Error
}
