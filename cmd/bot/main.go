package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/expense-review-bot/internal/api"
	"github.com/dvloznov/expense-review-bot/internal/app"
	"github.com/dvloznov/expense-review-bot/internal/auth"
	"github.com/dvloznov/expense-review-bot/internal/bot"
	"github.com/dvloznov/expense-review-bot/internal/config"
	"github.com/dvloznov/expense-review-bot/internal/conversation"
	"github.com/dvloznov/expense-review-bot/internal/infra/sheets"
	"github.com/dvloznov/expense-review-bot/internal/ingest"
	"github.com/dvloznov/expense-review-bot/internal/jobs"
	"github.com/dvloznov/expense-review-bot/internal/jobs/inmemory"
	"github.com/dvloznov/expense-review-bot/internal/logger"
	"github.com/dvloznov/expense-review-bot/internal/persistence"
	"github.com/dvloznov/expense-review-bot/internal/telegram"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logger.NewWithLevel(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	ctx := context.Background()
	var closers app.Closers
	defer closers.Close(log)

	// Authorized users
	users, err := auth.Open(cfg.Auth.UsersFile, cfg.Auth.UserIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open authorized users")
	}
	if len(users.List()) == 0 {
		log.Warn().Msg("No authorized users - nobody will be notified")
	}

	// Cursor
	cursorStore, cursorCloser, err := app.OpenCursor(ctx, cfg, false)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cursor store")
	}
	closers.Add(cursorCloser.Close)

	// Spreadsheet: raw source and primary sink
	sheetsClient, err := app.OpenSheets(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Google Sheets")
	}
	primary := sheets.NewReviewedSink(sheetsClient, cfg.Sheets.ReviewedSheet)

	secondaries, err := app.Secondaries(ctx, cfg, &closers, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open secondary sinks")
	}

	// Secondary dispatch
	failures := persistence.NewFailureLog(cfg.Dispatch.FailureLogSize)
	jobStore := inmemory.NewStore(cfg.Dispatch.FailureLogSize * 5)

	var wrapper *persistence.Wrapper
	queue := inmemory.NewQueue(inmemory.Config{
		BufferSize: cfg.Dispatch.QueueSize,
		Workers:    cfg.Dispatch.Workers,
		MaxRetries: cfg.Dispatch.MaxRetries,
		Backoff:    2 * time.Second,
		JobTimeout: 30 * time.Second,
	}, jobStore, func(job *jobs.SecondaryWriteJob, err error) {
		wrapper.RecordFailure(job, err)
	}, log)
	wrapper = persistence.NewWrapper(primary, secondaries, queue, failures, log)

	// Telegram
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Telegram")
	}
	log.Info().Str("username", botAPI.Self.UserName).Msg("Connected to Telegram")
	transport := telegram.NewTransport(botAPI, cfg.Telegram.MessagesPerSecond)

	conversations := conversation.NewStore()
	machine := bot.NewMachine(conversations, transport, wrapper, log)

	reader := ingest.NewReader(sheets.NewRawSource(sheetsClient, cfg.Sheets.RawSheet), log)
	poller := ingest.NewPoller(reader, cursorStore, machine, users, log)
	scheduler := ingest.NewScheduler(poller, cfg.Poll.Interval, cfg.Poll.FirstDelay, log)
	router := telegram.NewRouter(machine, poller, users, transport, log)

	// Operator API
	server := &http.Server{
		Addr: cfg.API.Addr,
		Handler: api.NewHandler(api.Deps{
			Poller:        poller,
			Conversations: conversations,
			Failures:      failures,
			Sinks:         wrapper.Sinks()[1:],
			Jobs:          jobStore,
			Token:         cfg.API.Token,
		}, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if err := queue.Start(ctx, wrapper.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start dispatch queue")
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		machine.RunExpiry(gctx, cfg.Conversation.TTL, cfg.Conversation.SweepInterval)
		return nil
	})
	g.Go(func() error {
		router.Run(gctx, botAPI)
		return nil
	})
	if cfg.API.Addr != "" {
		go func() {
			log.Info().Str("addr", cfg.API.Addr).Msg("Starting API server")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("API server failed")
				cancelRun()
			}
		}()
	}

	log.Info().
		Strs("sinks", wrapper.Sinks()).
		Int("users", len(users.List())).
		Msg("Bot started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-runCtx.Done():
	}

	log.Info().Msg("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}

	// Stop polling and updates, letting in-flight conversations finish
	cancelRun()
	_ = g.Wait()

	// Stop dispatch queue and wait for in-flight secondary writes
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping dispatch queue")
	}
	if err := queue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close dispatch queue")
	}

	log.Info().Msg("Bot exited")
}
