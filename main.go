package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nubank/calma-backend/internal/chat"
	"github.com/nubank/calma-backend/internal/classifier"
	"github.com/nubank/calma-backend/internal/config"
	"github.com/nubank/calma-backend/internal/intents"
	"github.com/nubank/calma-backend/internal/provider"
	"github.com/nubank/calma-backend/internal/server"
	"github.com/nubank/calma-backend/internal/store"
	"github.com/nubank/calma-backend/internal/telegram"
)

var (
	intentsFlag string
	modelFlag   string
)

var rootCmd = &cobra.Command{
	Use:           "calma",
	Short:         "calma - intent based support chatbot",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API (HTTP, websocket and optional Telegram)",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&intentsFlag, "intents", "", "intents dataset (overrides INTENTS_PATH)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "model file (overrides MODEL_PATH)")
	rootCmd.AddCommand(serveCmd, trainCmd, chatCmd, intentsCmd, interactionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if intentsFlag != "" {
		cfg.IntentsPath = intentsFlag
	}
	if modelFlag != "" {
		cfg.ModelPath = modelFlag
	}
	return cfg, nil
}

// loadModel prefers the persisted model and retrains when it is missing,
// unreadable or was fitted on anything but the current patterns.
func loadModel(cfg *config.Config, set *intents.Set) (*classifier.Model, error) {
	opts := classifier.Options{Alpha: cfg.Smoothing}
	m, err := classifier.LoadFile(cfg.ModelPath)
	switch {
	case err == nil && m.Matches(set, opts):
		log.Printf("[model] loaded %s (%d classes, vocab %d)", cfg.ModelPath, len(m.Labels()), m.VocabSize())
		return m, nil
	case err == nil:
		log.Printf("[model] %s does not match the intents dataset, retraining", cfg.ModelPath)
	case !errors.Is(err, fs.ErrNotExist):
		log.Printf("[model] ignoring %s: %v", cfg.ModelPath, err)
	}
	m, err = classifier.TrainSet(set, opts)
	if err != nil {
		return nil, fmt.Errorf("train model: %w", err)
	}
	log.Printf("[model] trained on %d patterns (training accuracy %.2f)", len(set.Pairs()), m.Accuracy(set.Pairs()))
	if err := m.SaveFile(cfg.ModelPath); err != nil {
		log.Printf("[model] could not persist %s: %v", cfg.ModelPath, err)
	}
	return m, nil
}

func newProvider(set *intents.Set, m *classifier.Model) *provider.IntentProvider {
	return provider.NewIntentProvider(classifier.NormalizingPredictor{Predictor: m}, set)
}

func newShell(cfg *config.Config, p provider.ChatProvider, archive store.ArchiveRepository) (*chat.Shell, error) {
	opts := chat.Options{
		Fallback:       cfg.FallbackMessage,
		ProactiveAfter: cfg.ProactiveAfter,
	}
	if cfg.InteractionLogPath != "" {
		rec, err := store.NewFileRecorder(cfg.InteractionLogPath)
		if err != nil {
			return nil, err
		}
		opts.Recorder = rec
	}
	return chat.NewShell(p, archive, opts), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := intents.Load(cfg.IntentsPath)
	if err != nil {
		return err
	}
	log.Printf("[intents] loaded %d intents from %s", set.Len(), cfg.IntentsPath)
	m, err := loadModel(cfg, set)
	if err != nil {
		return err
	}

	live := provider.NewSwappable(newProvider(set, m))
	var intentCount atomic.Int64
	intentCount.Store(int64(set.Len()))

	archive, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return err
	}
	defer archive.Close()

	shell, err := newShell(cfg, live, archive)
	if err != nil {
		return err
	}
	defer shell.Close()
	sessions := chat.NewRegistry(cfg.Greeting)
	srv := server.New(shell, sessions, server.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		IntentCount:     func() int { return int(intentCount.Load()) },
		SessionIdleTTL:  cfg.SessionIdleTTL,
		JanitorSchedule: cfg.JanitorSchedule,
	})

	janitor, err := srv.StartJanitor(ctx)
	if err != nil {
		return fmt.Errorf("janitor schedule: %w", err)
	}
	defer janitor.Stop()

	if cfg.WatchIntents {
		go func() {
			err := intents.Watch(ctx, cfg.IntentsPath, func(next *intents.Set) {
				nm, err := classifier.TrainSet(next, classifier.Options{Alpha: cfg.Smoothing})
				if err != nil {
					log.Printf("[intents] retrain failed: %v", err)
					return
				}
				if err := nm.SaveFile(cfg.ModelPath); err != nil {
					log.Printf("[intents] could not persist retrained model: %v", err)
				}
				live.Swap(newProvider(next, nm))
				intentCount.Store(int64(next.Len()))
			})
			if err != nil {
				log.Printf("[intents] watcher stopped: %v", err)
			}
		}()
	}

	if cfg.TelegramBotToken != "" {
		bot, err := telegram.New(cfg.TelegramBotToken, shell, sessions)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		go bot.Start(ctx)
	}

	return srv.Run(ctx, ":"+cfg.Port)
}
