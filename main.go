package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "bookjourney/docs"
	"bookjourney/internal/auth"
	"bookjourney/internal/handlers"
	"bookjourney/internal/models"
	"bookjourney/internal/notify"
	"bookjourney/internal/queue"
	"bookjourney/internal/storage"
	"bookjourney/internal/tasks"
	"bookjourney/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @Title						Очередь чтения BookJourney
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load()
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectDatabase()

	if err := storage.DB.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Participant{},
		&models.QueueEntry{},
		&models.PasscodeGrant{},
		&models.PushSubscription{},
		&models.SessionWord{},
	); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	storage.InitRedis()

	tasks.InitScheduler()

	go ws.HubInstance.Run()

	notifier := notify.NewPushNotifier(storage.DB)
	go notifier.Run()

	handlers.QueueService = queue.NewService(storage.DB, notifier, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	sessions := r.Group("/api/sessions", auth.AuthMiddleware())
	{
		sessions.POST("", handlers.CreateSessionHandler)
		sessions.GET("", handlers.ListMySessionsHandler)
		sessions.GET("/joined", handlers.ListJoinedSessionsHandler)
		sessions.GET("/:id", handlers.GetSessionHandler)
		sessions.POST("/:id/end", handlers.EndSessionHandler)
		sessions.POST("/:id/participants", handlers.JoinSessionHandler)
		sessions.GET("/:id/participants", handlers.ListParticipantsHandler)
		sessions.POST("/:id/passcode/verify", handlers.VerifyPasscodeHandler)

		sessions.GET("/:id/queue", handlers.GetQueueHandler)
		sessions.POST("/:id/queue/join", handlers.JoinQueueHandler)
		sessions.POST("/:id/queue/leave", handlers.LeaveQueueHandler)
		sessions.POST("/:id/queue/skip", handlers.SkipTurnHandler)
		sessions.POST("/:id/queue/advance", handlers.AdvanceQueueHandler)
		sessions.POST("/:id/queue/add-user", handlers.AddUserToQueueHandler)
		sessions.POST("/:id/queue/remove-user", handlers.RemoveUserFromQueueHandler)

		sessions.GET("/:id/words", handlers.ListWordsHandler)
		sessions.POST("/:id/words", handlers.AddWordHandler)
		sessions.DELETE("/:id/words/:wordId", handlers.RemoveWordHandler)
	}

	push := r.Group("/api/push", auth.AuthMiddleware())
	{
		push.POST("/subscribe", handlers.SubscribePushHandler)
		push.POST("/unsubscribe", handlers.UnsubscribePushHandler)
	}

	r.GET("/api/sessions/:id/ws", ws.SessionWebSocketHandler)

	if err := r.Run(":8080"); err != nil {
		log.Fatal("Ошибка запуска сервера...", err.Error())
	}
}
