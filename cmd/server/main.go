package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	assistantwebui "github.com/MegaGrindStone/assistant-web-ui"
	"github.com/MegaGrindStone/assistant-web-ui/internal/handlers"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env file is fine, the environment may be set by other means.
	_ = godotenv.Load()

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "assistantwebui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := flag.String("config", filepath.Join(cfgPath, "config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfgFile, err := os.Open(*cfgFilePath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening config file: %w", err))
	}
	cfg, err := loadConfig(cfgFile)
	cfgFile.Close()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel()}))

	boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "store.db"))
	if err != nil {
		log.Fatal(fmt.Errorf("error opening store: %w", err))
	}
	defer boltDB.Close()

	router, err := newRouter(cfg, boltDB, logger)
	if err != nil {
		log.Fatal(err)
	}

	m, err := handlers.NewMain(router, boltDB, handlers.Options{
		Title:         cfg.Title,
		FinalizeMode:  transcript.FinalizeMode(cfg.FinalizeMode),
		MaxUploadSize: cfg.MaxUploadSize,
	}, logger)
	if err != nil {
		log.Fatal(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(assistantwebui.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chatbot/{name}", m.HandleChatbot)
	mux.HandleFunc("/chatbot/{name}/messages", m.HandleMessages)
	mux.HandleFunc("/chatbot/{name}/alert", m.HandleDismissAlert)
	mux.HandleFunc("/flyouts/{kind}", m.HandleFlyout)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Streams and SSE connections are closed first, otherwise the server waits on them until the deadline.
		if err := m.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// newRouter returns the upstream router when a chat URL is configured, and a local router backed by the
// configured LLM otherwise.
func newRouter(cfg config, store services.BoltDB, logger *slog.Logger) (handlers.Router, error) {
	if cfg.Router.ChatURL != "" {
		logger.Info("Using assistant router", slog.String("chatURL", cfg.Router.ChatURL))
		return services.NewRouter(cfg.routerEndpoints(), nil, logger), nil
	}

	llm, err := cfg.LLM.llm(logger)
	if err != nil {
		return nil, fmt.Errorf("error creating llm: %w", err)
	}
	logger.Info("Using local router", slog.String("model", llm.Connection().Name))
	return services.NewLocalRouter(llm, store, logger), nil
}
