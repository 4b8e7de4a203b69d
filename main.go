package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"geminichat/internal/api"
	"geminichat/internal/config"
	"geminichat/internal/conversation"
	"geminichat/internal/generation"
	"geminichat/internal/notify"
	"geminichat/internal/settings"
	"geminichat/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfgPath := os.Getenv("GEMINICHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log.Printf("storage driver: %s, backend: %s", cfg.Storage.Driver, cfg.BasicConfig.Backend)
	kv, err := storage.OpenKV(cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer kv.Close()

	cipher, err := settings.CipherFromEnv()
	if err != nil {
		log.Fatalf("api key encryption: %v", err)
	}
	if cipher == nil {
		log.Printf("%s not set, api key is stored in plain text", settings.APIKeyKeyEnv)
	}

	ctx := context.Background()
	settingsStore, err := settings.New(ctx, kv,
		settings.WithCipher(cipher),
		settings.WithModels(cfg.BasicConfig.ExtraModels...),
	)
	if err != nil {
		log.Fatalf("init settings: %v", err)
	}

	provider := cfg.BasicConfig.Provider
	if provider == "" {
		provider = "gemini"
	}
	provCfg := cfg.Provider(provider)
	generator, err := generation.New(generation.Options{
		Backend:  cfg.BasicConfig.Backend,
		Provider: provider,
		BaseURL:  provCfg.BaseURL,
		Model:    provCfg.Model,
	})
	if err != nil {
		log.Fatalf("init generation backend: %v", err)
	}

	feed := notify.NewFeed(notify.DefaultLimit)
	chatStore, err := conversation.New(ctx, kv, settingsStore, generator,
		conversation.WithNotifier(feed),
		conversation.WithContextWindow(cfg.BasicConfig.ContextWindow),
		conversation.WithRequestTimeout(time.Duration(cfg.BasicConfig.RequestTimeoutSeconds)*time.Second),
		conversation.WithStreaming(cfg.BasicConfig.Stream),
	)
	if err != nil {
		log.Fatalf("init conversation store: %v", err)
	}

	handlers := api.NewHandler(settingsStore, chatStore, feed)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = config.DefaultServerAddress
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
