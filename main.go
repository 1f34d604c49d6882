package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/enderfga/sasha-relay/internal/auth"
	"github.com/enderfga/sasha-relay/internal/config"
	"github.com/enderfga/sasha-relay/internal/crypto"
	"github.com/enderfga/sasha-relay/internal/database"
	"github.com/enderfga/sasha-relay/internal/delivery"
	"github.com/enderfga/sasha-relay/internal/handlers"
	"github.com/enderfga/sasha-relay/internal/logging"
	"github.com/enderfga/sasha-relay/internal/mailbox"
	"github.com/enderfga/sasha-relay/internal/middleware"
	"github.com/enderfga/sasha-relay/internal/ratelimit"
	"github.com/enderfga/sasha-relay/internal/terminal"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--hash-access-code" {
		runHashAccessCode()
		return
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	store, err := mailbox.Open(config.Cfg.MailboxBackend, config.Cfg.RedisURL,
		config.Cfg.MailboxCap, config.Cfg.MailboxTTL)
	if err != nil {
		log.Fatalf("Mailbox init: %v", err)
	}
	defer store.Close()
	log.Printf("Mailbox store: backend=%s cap=%d ttl=%s",
		config.Cfg.MailboxBackend, config.Cfg.MailboxCap, config.Cfg.MailboxTTL)

	limiter := ratelimit.New(config.Cfg.RateLimitPerMinute, time.Minute)
	hub := delivery.NewHub()
	termSrv := terminal.NewServer(&settingsHost{}, auth.VerifyCode, config.Cfg.TerminalAuthTimeout)
	api := handlers.NewAPI(store, limiter, hub, termSrv)

	sched := cron.New()
	sched.AddFunc("@every 1m", func() {
		if err := store.Sweep(context.Background()); err != nil {
			log.Printf("Mailbox sweep: %v", err)
		}
	})
	sched.AddFunc("@daily", func() {
		retention := time.Duration(config.Cfg.AuditRetentionDays) * 24 * time.Hour
		if n, err := database.PurgeTerminalAudits(retention); err != nil {
			log.Printf("Audit purge: %v", err)
		} else if n > 0 {
			log.Printf("Audit purge: removed %d records", n)
		}
	})
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", api.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Access-code check (no auth)
		r.Post("/verify-code", api.VerifyCode)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken)

			r.Post("/push", api.Publish)
			r.Get("/push", api.Poll)
			r.Get("/stream", api.Stream)
			r.Get("/status", api.Status)

			r.Get("/settings", api.GetSettings)
			r.Put("/settings", api.UpdateSettings)

			r.Get("/server-logs", api.GetServerLogs)
			r.Delete("/server-logs", api.ClearServerLogs)
		})
	})

	// Terminal WebSocket; authentication is in-band via the auth frame.
	r.Get("/terminal", termSrv.ServeHTTP)

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// settingsHost resolves the upstream terminal host from the settings
// table on every start, falling back to the environment, so settings
// changes apply without a restart.
type settingsHost struct{}

func (settingsHost) Start(ctx context.Context, cols, rows uint16) (terminal.Process, error) {
	hostURL, _ := database.GetSetting("terminal_host_url")
	if hostURL == "" {
		hostURL = config.Cfg.TerminalHostURL
	}
	token := ""
	if enc, err := database.GetSetting("terminal_host_token"); err == nil && enc != "" {
		if plain, err := crypto.Decrypt(enc); err == nil {
			token = plain
		}
	}
	return terminal.NewRemoteHost(hostURL, token).Start(ctx, cols, rows)
}

func runHashAccessCode() {
	fs := flag.NewFlagSet("hash-access-code", flag.ExitOnError)
	code := fs.String("code", "", "Access code to hash")
	fs.Parse(os.Args[2:])

	if *code == "" {
		fmt.Fprintln(os.Stderr, "Usage: sasha-relay --hash-access-code --code <code>")
		os.Exit(1)
	}

	hash, err := auth.HashAccessCode(*code)
	if err != nil {
		log.Fatalf("Failed to hash access code: %v", err)
	}
	fmt.Println(hash)
}
