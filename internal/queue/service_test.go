package queue

import (
	"testing"
	"time"

	"bookjourney/internal/access"
	"bookjourney/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	events []TurnEvent
}

func (n *recordingNotifier) NotifyTurn(event TurnEvent) {
	n.events = append(n.events, event)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// :memory: живет в одном соединении, пул должен быть из одного.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Participant{},
		&models.QueueEntry{},
		&models.PasscodeGrant{},
	))
	return db
}

func createUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	user := models.User{Name: name, Email: name + "@example.com", PasswordHash: "hashed"}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func addParticipant(t *testing.T, db *gorm.DB, sessionID, userID uint, role string) {
	t.Helper()
	participant := models.Participant{
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		JoinedAt:  time.Now(),
	}
	require.NoError(t, db.Create(&participant).Error)
}

func createSession(t *testing.T, db *gorm.DB, host *models.User, passcode string, repeat bool) *models.Session {
	t.Helper()
	session := models.Session{
		BookTitle:       "Atomic Habits",
		CreatedBy:       host.ID,
		Status:          models.SessionActive,
		IsRepeatEnabled: repeat,
	}
	if passcode != "" {
		session.HostPasscode = access.HashPasscode(passcode)
	}
	require.NoError(t, db.Create(&session).Error)
	addParticipant(t, db, session.ID, host.ID, models.RoleHost)
	return &session
}

func entriesByPosition(t *testing.T, db *gorm.DB, sessionID uint) []models.QueueEntry {
	t.Helper()
	var entries []models.QueueEntry
	require.NoError(t, db.Where("session_id = ?", sessionID).Order("position ASC").Find(&entries).Error)
	return entries
}

// assertQueueState сверяет порядок пользователей и их статусы, а заодно
// инварианты: позиции 0..n-1 и не более одного reading.
func assertQueueState(t *testing.T, db *gorm.DB, sessionID uint, userIDs []uint, statuses []models.EntryStatus) {
	t.Helper()
	entries := entriesByPosition(t, db, sessionID)
	require.Len(t, entries, len(userIDs))

	readers := 0
	for i, entry := range entries {
		assert.Equal(t, i, entry.Position, "позиции должны быть непрерывными с нуля")
		assert.Equal(t, userIDs[i], entry.UserID, "порядок пользователей нарушен")
		assert.Equal(t, statuses[i], entry.Status)
		if entry.Status == models.StatusReading {
			readers++
		}
	}
	assert.LessOrEqual(t, readers, 1, "в очереди не может быть двух читателей")
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingNotifier) {
	t.Helper()
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	return NewService(db, notifier), db, notifier
}

func TestJoinAssignsPositionsAndFirstReader(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	c := createUser(t, db, "carol")
	for _, u := range []*models.User{a, b, c} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID, c.ID},
		[]models.EntryStatus{models.StatusReading, models.StatusWaiting, models.StatusWaiting})
}

func TestJoinIsIdempotent(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	a := createUser(t, db, "alice")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	first, err := svc.Join(session.ID, a.ID)
	require.NoError(t, err)
	second, err := svc.Join(session.ID, a.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Position, second.Position)
	assert.Len(t, entriesByPosition(t, db, session.ID), 1)
}

func TestJoinRequiresParticipant(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	outsider := createUser(t, db, "outsider")

	_, err := svc.Join(session.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestJoinLeaveRoundTrip(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	a := createUser(t, db, "alice")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	_, err := svc.Join(session.ID, a.ID)
	require.NoError(t, err)

	removed, err := svc.Leave(session.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Empty(t, entriesByPosition(t, db, session.ID))

	// Повторное вступление после выхода не должно упираться в остатки.
	_, err = svc.Join(session.ID, a.ID)
	require.NoError(t, err)
}

func TestLeaveWithoutEntryReturnsNil(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	a := createUser(t, db, "alice")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	removed, err := svc.Leave(session.ID, a.ID)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestLeaveOfReaderPromotesNext(t *testing.T) {
	svc, db, notifier := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	for _, u := range []*models.User{a, b} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	removed, err := svc.Leave(session.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)

	assertQueueState(t, db, session.ID, []uint{b.ID}, []models.EntryStatus{models.StatusReading})
	require.Len(t, notifier.events, 1)
	assert.Equal(t, b.ID, notifier.events[0].UserID)
	assert.Equal(t, session.ID, notifier.events[0].SessionID)
	assert.Equal(t, "Atomic Habits", notifier.events[0].BookTitle)
}

func TestSkipMyTurn(t *testing.T) {
	svc, db, notifier := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	for _, u := range []*models.User{a, b} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	// Пропустить может только текущий читатель.
	_, err := svc.SkipMyTurn(session.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotReading)

	skipped, err := svc.SkipMyTurn(session.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, skipped.Status)

	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID},
		[]models.EntryStatus{models.StatusDone, models.StatusReading})
	require.Len(t, notifier.events, 1)
	assert.Equal(t, b.ID, notifier.events[0].UserID)

	outsider := createUser(t, db, "outsider")
	addParticipant(t, db, session.ID, outsider.ID, models.RoleReader)
	_, err = svc.SkipMyTurn(session.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSkipLastReaderWithoutRepeatLeavesNoReader(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	a := createUser(t, db, "alice")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	_, err := svc.Join(session.ID, a.ID)
	require.NoError(t, err)
	_, err = svc.SkipMyTurn(session.ID, a.ID)
	require.NoError(t, err)

	assertQueueState(t, db, session.ID, []uint{a.ID}, []models.EntryStatus{models.StatusDone})
}

func TestSkipWrapsAroundToEarlierWaiting(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	c := createUser(t, db, "carol")
	for _, u := range []*models.User{a, b, c} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	// Читателем делаем последнего: a и b пропускают свой ход по очереди.
	_, err := svc.SkipMyTurn(session.ID, a.ID)
	require.NoError(t, err)
	_, err = svc.SkipMyTurn(session.ID, b.ID)
	require.NoError(t, err)

	// Возвращаем a в ожидание и пропускаем c: выбор должен перейти
	// через конец очереди к a.
	require.NoError(t, db.Model(&models.QueueEntry{}).
		Where("session_id = ? AND user_id = ?", session.ID, a.ID).
		Update("status", models.StatusWaiting).Error)

	_, err = svc.SkipMyTurn(session.ID, c.ID)
	require.NoError(t, err)

	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID, c.ID},
		[]models.EntryStatus{models.StatusReading, models.StatusDone, models.StatusDone})
}

func TestAdvanceScenario(t *testing.T) {
	// Сценарий из трех участников: advance -> skip -> advance без повтора.
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	c := createUser(t, db, "carol")
	for _, u := range []*models.User{a, b, c} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	promoted, err := svc.Advance(session.ID, host.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, b.ID, promoted.UserID)
	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID, c.ID},
		[]models.EntryStatus{models.StatusDone, models.StatusReading, models.StatusWaiting})

	_, err = svc.SkipMyTurn(session.ID, b.ID)
	require.NoError(t, err)
	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID, c.ID},
		[]models.EntryStatus{models.StatusDone, models.StatusDone, models.StatusReading})

	promoted, err = svc.Advance(session.ID, host.ID)
	require.NoError(t, err)
	assert.Nil(t, promoted, "без повтора читателя не остается")
	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID, c.ID},
		[]models.EntryStatus{models.StatusDone, models.StatusDone, models.StatusDone})
}

func TestAdvanceWithRepeatRecyclesDone(t *testing.T) {
	svc, db, notifier := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", true)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	c := createUser(t, db, "carol")
	for _, u := range []*models.User{a, b, c} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	_, err := svc.Advance(session.ID, host.ID)
	require.NoError(t, err)
	_, err = svc.SkipMyTurn(session.ID, b.ID)
	require.NoError(t, err)

	// Последний advance замыкает круг: done-записи возвращаются в
	// ожидание, ход получает наименьшая позиция.
	promoted, err := svc.Advance(session.ID, host.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, a.ID, promoted.UserID)
	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID, c.ID},
		[]models.EntryStatus{models.StatusReading, models.StatusWaiting, models.StatusWaiting})

	// Каждая передача хода сопровождалась уведомлением.
	require.Len(t, notifier.events, 3)
	assert.Equal(t, a.ID, notifier.events[2].UserID)
}

func TestJoinWhenNoReaderBecomesReading(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)
	addParticipant(t, db, session.ID, b.ID, models.RoleReader)

	_, err := svc.Join(session.ID, a.ID)
	require.NoError(t, err)
	_, err = svc.SkipMyTurn(session.ID, a.ID)
	require.NoError(t, err)

	// b вступает, когда читателя нет, и сразу получает ход.
	entry, err := svc.Join(session.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReading, entry.Status)
}

func TestAdvanceRequiresHost(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	a := createUser(t, db, "alice")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	_, err := svc.Advance(session.ID, a.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAddAndRemoveUserByHost(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	// Не хост добавлять не может.
	_, err := svc.AddUser(session.ID, a.ID, a.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Цель должна быть участником сессии.
	_, err = svc.AddUser(session.ID, host.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	entry, err := svc.AddUser(session.ID, host.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReading, entry.Status)
	assert.Equal(t, 0, entry.Position)

	_, err = svc.AddUser(session.ID, host.ID, a.ID)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	removed, err := svc.RemoveUser(session.ID, host.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Empty(t, entriesByPosition(t, db, session.ID))
}

func TestPositionsStayContiguousAfterRemovals(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	users := make([]*models.User, 0, 4)
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		u := createUser(t, db, name)
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
		users = append(users, u)
	}

	_, err := svc.Leave(session.ID, users[1].ID)
	require.NoError(t, err)
	_, err = svc.Leave(session.ID, users[3].ID)
	require.NoError(t, err)

	assertQueueState(t, db, session.ID,
		[]uint{users[0].ID, users[2].ID},
		[]models.EntryStatus{models.StatusReading, models.StatusWaiting})
}

func TestPasscodeGateOnQueueMutations(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "4217", false)
	a := createUser(t, db, "alice")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	// Без гранта мутации запрещены.
	_, err := svc.Join(session.ID, a.ID)
	assert.ErrorIs(t, err, access.ErrPasscodeRequired)

	// Неверный пасскод гранта не дает.
	verified, err := access.VerifyPasscode(db, session, a.ID, "0000")
	require.NoError(t, err)
	assert.False(t, verified)
	_, err = svc.Join(session.ID, a.ID)
	assert.ErrorIs(t, err, access.ErrPasscodeRequired)

	// После верификации мутации доступны в течение срока гранта.
	verified, err = access.VerifyPasscode(db, session, a.ID, "4217")
	require.NoError(t, err)
	assert.True(t, verified)
	_, err = svc.Join(session.ID, a.ID)
	require.NoError(t, err)

	// Истекший грант снова закрывает доступ.
	require.NoError(t, db.Model(&models.PasscodeGrant{}).
		Where("session_id = ? AND user_id = ?", session.ID, a.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)
	_, err = svc.Leave(session.ID, a.ID)
	assert.ErrorIs(t, err, access.ErrPasscodeRequired)

	// Хост проходит без гранта.
	_, err = svc.Join(session.ID, host.ID)
	require.NoError(t, err)
}

func TestSessionEndedRejectsMutations(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)
	a := createUser(t, db, "alice")
	addParticipant(t, db, session.ID, a.ID, models.RoleReader)

	_, err := svc.Join(session.ID, a.ID)
	require.NoError(t, err)

	require.NoError(t, db.Model(session).Update("status", models.SessionEnded).Error)

	_, err = svc.Join(session.ID, a.ID)
	assert.ErrorIs(t, err, ErrSessionEnded)
	_, err = svc.Leave(session.ID, a.ID)
	assert.ErrorIs(t, err, ErrSessionEnded)
	_, err = svc.Advance(session.ID, host.ID)
	assert.ErrorIs(t, err, ErrSessionEnded)

	// Просмотр очереди завершенной сессии остается доступным.
	items, err := svc.List(session.ID, a.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestListReturnsOrderedItemsWithUserData(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	require.NoError(t, db.Model(b).Update("display_name", "Книжный Боб").Error)
	for _, u := range []*models.User{a, b} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	items, err := svc.List(session.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alice", items[0].DisplayName)
	assert.Equal(t, "Книжный Боб", items[1].DisplayName)
	assert.Equal(t, 0, items[0].Position)
	assert.Equal(t, 1, items[1].Position)

	_, err = svc.List(session.ID, createUser(t, db, "outsider").ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSessionNotFound(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, "alice")

	_, err := svc.Join(999, user.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDemoteExtraReadersHealsDoubleReading(t *testing.T) {
	svc, db, _ := newTestService(t)
	host := createUser(t, db, "host")
	session := createSession(t, db, host, "", false)

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	for _, u := range []*models.User{a, b} {
		addParticipant(t, db, session.ID, u.ID, models.RoleReader)
		_, err := svc.Join(session.ID, u.ID)
		require.NoError(t, err)
	}

	// Имитируем гонку: обе записи оказались reading.
	require.NoError(t, db.Model(&models.QueueEntry{}).
		Where("session_id = ?", session.ID).
		Update("status", models.StatusReading).Error)

	require.NoError(t, demoteExtraReaders(db, session.ID))

	assertQueueState(t, db, session.ID,
		[]uint{a.ID, b.ID},
		[]models.EntryStatus{models.StatusReading, models.StatusWaiting})
}
