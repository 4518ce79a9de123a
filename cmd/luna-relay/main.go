// Command luna-relay runs the conversation relay: it owns the storage
// backend, the LLM and speech providers, the extraction workers, and the
// websocket event feed.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/lunalabs/luna-relay/internal/config"
	"github.com/lunalabs/luna-relay/internal/kg"
	"github.com/lunalabs/luna-relay/internal/kg/contextbuilder"
	"github.com/lunalabs/luna-relay/internal/kg/query"
	"github.com/lunalabs/luna-relay/internal/llm"
	"github.com/lunalabs/luna-relay/internal/notify"
	"github.com/lunalabs/luna-relay/internal/relay"
	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/internal/storage/postgres"
	"github.com/lunalabs/luna-relay/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	// Missing .env is fine; the environment may carry everything already.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "luna-relay: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open storage", "error", err)
	}
	defer store.Close()

	replyGen, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		logger.Fatal("failed to build reply generator", "error", err)
	}
	extractionGen := llm.NewExtractionGenerator(cfg.LLM)
	logger.Info("llm providers ready", "reply", replyGen.Model(), "extraction", extractionGen.Model())

	hub := notify.NewHub(logger)
	defer hub.Close()

	extractor := kg.NewExtractor(store, store, extractionGen, hub, logger)
	scheduler := relay.NewScheduler(extractor, cfg.Extraction.Workers, cfg.Extraction.QueueSize, cfg.Extraction.RatePerMin, logger)
	defer scheduler.Close()

	engine := query.NewEngine(store)
	contexts := contextbuilder.New(store, engine, logger)
	replies := relay.NewReplyService(replyGen, contexts, cfg.Session.HistoryWindow, logger)
	sessions := relay.NewSessionManager(store, cfg.Session.InactivityTimeout, logger)

	var stt relay.Transcriber
	if key := whisperKey(cfg); key != "" {
		stt = relay.NewWhisperClient(relay.WhisperConfig{APIKey: key, Timeout: cfg.LLM.Timeout})
	}
	tts := newSynthesizer(cfg, logger)

	service := relay.NewService(store, sessions, replies, stt, tts, scheduler, logger)

	mux := http.NewServeMux()
	relay.NewHandler(service, logger).Register(mux)
	mux.Handle("/events", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("event feed listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("event feed server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	_ = server.Close()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *log.Logger {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	formatter := log.TextFormatter
	if cfg.Format == "json" {
		formatter = log.JSONFormatter
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	})
}

// openStore selects the storage backend from config.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.New(cfg.Storage.Postgres)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.New(cfg.Storage.DataPath + "/luna.db")
	}
}

func whisperKey(cfg *config.Config) string {
	if cfg.Speech.WhisperAPIKey != "" {
		return cfg.Speech.WhisperAPIKey
	}
	return cfg.LLM.OpenAIAPIKey
}

func newSynthesizer(cfg *config.Config, logger *log.Logger) relay.Synthesizer {
	switch cfg.Speech.TTSProvider {
	case "speechify":
		if cfg.Speech.SpeechifyAPIKey == "" {
			logger.Warn("speechify selected but no API key set, TTS disabled")
			return nil
		}
		return relay.NewSpeechifyClient(relay.SpeechifyConfig{
			APIKey:  cfg.Speech.SpeechifyAPIKey,
			VoiceID: cfg.Speech.SpeechifyVoiceID,
		})
	default:
		if cfg.Speech.ElevenLabsAPIKey == "" {
			logger.Warn("no elevenlabs API key set, TTS disabled")
			return nil
		}
		return relay.NewElevenLabsClient(relay.ElevenLabsConfig{
			APIKey:  cfg.Speech.ElevenLabsAPIKey,
			VoiceID: cfg.Speech.ElevenLabsVoiceID,
		})
	}
}
