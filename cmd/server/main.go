package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"cirrus/internal/folder"
	"cirrus/internal/handler"
	"cirrus/internal/middleware"
	"cirrus/internal/repository/sqlite"
	"cirrus/internal/storage"
	"cirrus/pkg/config"
	"cirrus/pkg/logger"
	"cirrus/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("cirrus")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", logger.Fields{"error": err.Error()})
	}

	log.Info("Starting cirrus", logger.Fields{
		"port": cfg.Server.Port,
	})

	// Database connection
	db, err := sqlite.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", logger.Fields{
			"error": err.Error(),
		})
	}
	defer db.Close()

	log.Info("Database connected", logger.Fields{"path": cfg.Database.Path})

	// Physical storage
	disk, err := storage.NewDisk(cfg.Storage.RootPath)
	if err != nil {
		log.Fatal("Failed to initialize storage root", logger.Fields{
			"error": err.Error(),
		})
	}

	// Initialize repositories
	folderRepo := sqlite.NewFolderRepository(db)
	fileRepo := sqlite.NewFileRepository(db)

	// Initialize services
	folderService := folder.NewService(folderRepo, fileRepo, disk, log)
	storageService := storage.NewService(fileRepo, folderService, disk, cfg.Storage, log)

	// Initialize handlers
	val := validator.New()
	folderHandler := handler.NewFolderHandler(folderService, val, log)
	fileHandler := handler.NewFileHandler(storageService, val, log)

	// Setup router
	r := mux.NewRouter()

	// Middleware
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", logger.Fields{
				"error": err.Error(),
			})
		}
		log.Info("Redis connected", nil)
		r.Use(middleware.NewRateLimiter(redisClient, 240, time.Minute).Limit)
	}

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	// Routes
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ready", readyCheck(db)).Methods("GET")

	// Protected routes. JSON endpoints carry a small body cap; the upload
	// endpoint is capped per file by the storage service instead.
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.Use(middleware.BodyLimit(1 << 20))

	api.HandleFunc("/virtual-folders", folderHandler.CreateFolder).Methods("POST")
	api.HandleFunc("/virtual-folders", folderHandler.GetFolders).Methods("GET")
	api.HandleFunc("/virtual-folders/hierarchy", folderHandler.GetHierarchy).Methods("GET")
	api.HandleFunc("/virtual-folders/{id}", folderHandler.UpdateFolder).Methods("PUT")
	api.HandleFunc("/virtual-folders/{id}", folderHandler.DeleteFolder).Methods("DELETE")
	api.HandleFunc("/virtual-folders/{id}/move", folderHandler.MoveFolder).Methods("POST")
	api.HandleFunc("/folders", folderHandler.DeleteFolderRecursive).Methods("DELETE")

	api.HandleFunc("/files", fileHandler.List).Methods("GET")
	api.HandleFunc("/files/upload/config", fileHandler.UploadConfig).Methods("GET")
	api.HandleFunc("/files/stats", fileHandler.Stats).Methods("GET")
	api.HandleFunc("/files/move", fileHandler.Move).Methods("PUT")
	api.HandleFunc("/files/{id}", fileHandler.Rename).Methods("PUT")
	api.HandleFunc("/files/{id}", fileHandler.Delete).Methods("DELETE")
	api.HandleFunc("/files/{id}/download", fileHandler.Download).Methods("GET")

	upload := r.PathPrefix("/api/v1/files/upload").Subrouter()
	upload.Use(authMW.Authenticate)
	upload.HandleFunc("", fileHandler.Upload).Methods("POST")

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Server started", logger.Fields{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", logger.Fields{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Forced to shutdown", logger.Fields{
			"error": err.Error(),
		})
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Info("Stopped gracefully", nil)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	_ = r
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"cirrus"}`))
}

func readyCheck(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","reason":"database unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"cirrus"}`))
	}
}
