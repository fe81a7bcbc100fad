// Package notify доставляет push-уведомления о передаче хода.
// Доставка отвязана от транзакции очереди: событие кладётся в канал
// после коммита и обрабатывается отдельной горутиной (at-least-once,
// сбои доставки только логируются).
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"bookjourney/internal/models"
	"bookjourney/internal/queue"

	webpush "github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"
)

// PushPayload — тело сообщения, которое разбирает service worker.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

type PushNotifier struct {
	db              *gorm.DB
	events          chan queue.TurnEvent
	subscriber      string
	vapidPublicKey  string
	vapidPrivateKey string
}

func NewPushNotifier(db *gorm.DB) *PushNotifier {
	return &PushNotifier{
		db:              db,
		events:          make(chan queue.TurnEvent, 64),
		subscriber:      os.Getenv("VAPID_SUBJECT"),
		vapidPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		vapidPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
	}
}

// NotifyTurn ставит событие в очередь доставки, не блокируя вызывающего.
// При переполненном буфере событие теряется — уведомления best-effort.
func (n *PushNotifier) NotifyTurn(event queue.TurnEvent) {
	select {
	case n.events <- event:
	default:
		log.Printf("Буфер уведомлений переполнен, событие для пользователя %d потеряно", event.UserID)
	}
}

// Run обрабатывает события доставки; запускается горутиной из main.
func (n *PushNotifier) Run() {
	for event := range n.events {
		n.deliver(event)
	}
}

// Close останавливает обработку после опустошения канала.
func (n *PushNotifier) Close() {
	close(n.events)
}

func (n *PushNotifier) deliver(event queue.TurnEvent) {
	var subscriptions []models.PushSubscription
	if err := n.db.Where("user_id = ?", event.UserID).Find(&subscriptions).Error; err != nil {
		log.Println("Ошибка загрузки push-подписок:", err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(PushPayload{
		Title: "Your turn to read!",
		Body:  fmt.Sprintf("It's your turn in %q", event.BookTitle),
		URL:   fmt.Sprintf("/sessions/%d", event.SessionID),
	})
	if err != nil {
		log.Println("Ошибка сериализации push-уведомления:", err)
		return
	}

	for _, sub := range subscriptions {
		n.send(payload, sub)
	}
}

func (n *PushNotifier) send(payload []byte, sub models.PushSubscription) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      n.subscriber,
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		TTL:             60,
	})
	if err != nil {
		log.Println("Ошибка отправки push-уведомления:", err)
		return
	}
	defer resp.Body.Close()

	// Протухшие подписки (endpoint больше не существует) удаляем.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if err := n.db.Where("endpoint = ?", sub.Endpoint).Delete(&models.PushSubscription{}).Error; err != nil {
			log.Println("Ошибка удаления протухшей подписки:", err)
		}
	}
}
