package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"orbitdrive/internal/auth"
	"orbitdrive/internal/blob"
	"orbitdrive/internal/config"
	"orbitdrive/internal/handler"
	"orbitdrive/internal/metastore"
	"orbitdrive/internal/service"
)

func newStorage(cfg *config.Config) (blob.Storage, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3Config, err := blob.NewS3Config(".s3.env")
		if err != nil {
			return nil, fmt.Errorf("failed to load S3 config: %w", err)
		}
		return blob.NewS3Storage(s3Config, cfg.Storage.BlobDir)
	default:
		return blob.NewLocalStorage(cfg.Storage.BlobDir)
	}
}

func main() {
	// Загружаем конфигурации
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Открываем хранилище метаданных
	store, err := metastore.Open(appConfig.Storage.DataDir)
	if err != nil {
		log.Fatalf("Failed to open metadata store: %v", err)
	}
	defer store.Close()

	// Инициализация блоб-хранилища
	storage, err := newStorage(appConfig)
	if err != nil {
		log.Fatalf("Failed to create blob storage: %v", err)
	}

	// Подключение к сервису аутентификации
	authConfig, err := auth.NewConfig(".auth.env")
	if err != nil {
		log.Fatalf("Failed to load auth config: %v", err)
	}
	auth.InitClient(authConfig.AuthAddr)

	// Инициализация сервисов
	treeService := service.NewTreeService(store)
	trashService := service.NewTrashService(store, storage)
	archiveService := service.NewArchiveService(store, storage)
	transferService := service.NewTransferService(store, storage, treeService)

	// Инициализация хендлеров
	directoryHandler := handler.NewDirectoryHandler(treeService, trashService, archiveService)
	fileHandler := handler.NewFileHandler(treeService, transferService)
	trashHandler := handler.NewTrashHandler(trashService)

	// Настройка HTTP роутера
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "Range",
			"filename", "x-file-id", "x-start-byte",
		},
		ExposedHeaders: []string{
			"Content-Disposition", "Content-Range", "Accept-Ranges",
			"X-Total-Size", "X-Total-Files", "x-current-size",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("Incoming request: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})

	// HTTP маршруты
	r.Get("/directory", directoryHandler.GetDirectory)
	r.Get("/directory/{id}", directoryHandler.GetDirectory)
	r.Post("/directory", directoryHandler.CreateDirectory)
	r.Post("/directory/{parentId}", directoryHandler.CreateDirectory)
	r.Patch("/directory/{id}", directoryHandler.RenameDirectory)
	r.Post("/directory/{id}/move", directoryHandler.MoveEntries)
	r.Delete("/directory/{id}", directoryHandler.DeleteDirectory)

	r.Get("/file/{id}", fileHandler.GetFile)
	r.Post("/file", fileHandler.UploadFile)
	r.Post("/file/{parentId}", fileHandler.UploadFile)
	r.Patch("/file/{id}", fileHandler.RenameFile)
	r.Delete("/file/{id}", fileHandler.DeleteFile)

	r.Route("/trash", func(r chi.Router) {
		r.Get("/", trashHandler.GetTrashItems)
		r.Post("/empty", trashHandler.EmptyTrash)
		r.Post("/{id}/restore", trashHandler.RestoreItem)
		r.Delete("/{id}", trashHandler.PurgeItem)
		// Запись о корзине помечена типом, так что и файлы, и папки
		// обслуживает один хендлер. Старые клиенты ходят по /directory/.
		r.Post("/directory/{id}/restore", trashHandler.RestoreItem)
		r.Delete("/directory/{id}", trashHandler.PurgeItem)
	})

	// Создаем HTTP сервер
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	// Канал для сигналов завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем HTTP сервер
	go func() {
		log.Printf("Starting HTTP server on port %s", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	// Дописываем снапшот метаданных перед выходом
	if err := store.Close(); err != nil {
		log.Printf("Error closing metadata store: %v", err)
	}

	log.Println("Server exited properly")
}
