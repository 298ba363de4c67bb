// Package server initializes and runs the accounts server. It opens the
// database, applies migrations, wires services together and starts the
// HTTP endpoint, the periodic token sweep and graceful shutdown handling.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/accountsrv/internal/logging"
	"github.com/dmitrijs2005/accountsrv/internal/server/config"
	"github.com/dmitrijs2005/accountsrv/internal/server/email"
	"github.com/dmitrijs2005/accountsrv/internal/server/httpapi"
	"github.com/dmitrijs2005/accountsrv/internal/server/otp"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/accountsrv/internal/server/services"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	server  *httpapi.Server
	cleanup *services.CleanupService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	mailer := email.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)

	otps := otp.NewService(cfg.OtpValidityDuration)
	registerTokens := otp.NewRegisterTokenService(cfg.OtpValidityDuration)

	auth := services.NewAuthService(db, repos, otps, registerTokens, logger)
	login := services.NewLoginService(db, repos, auth, mailer, logger,
		cfg.LoginTokenValidityDuration, cfg.VerifyTokenValidityDuration, cfg.BaseURL)
	reset := services.NewResetService(db, repos, login, mailer, logger, cfg.ResetCodeValidityDuration)
	tokens := services.NewAccountTokenService(db, repos, mailer, logger, cfg.AccountTokenValidityDuration)

	certs, err := services.NewCertIssuer(auth, logger, cfg.SigningKeyPath, cfg.CertValidityDuration, cfg.ClockSkew)
	if err != nil {
		return nil, fmt.Errorf("cert issuer init error: %w", err)
	}

	handler := httpapi.NewHandler(auth, login, reset, tokens, certs, logger)
	server := httpapi.NewServer(cfg.EndpointAddrHTTP, handler, logger)
	cleanup := services.NewCleanupService(db, repos, logger, cfg.CleanupInterval)

	return &App{config: cfg, logger: logger, db: db, server: server, cleanup: cleanup}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.cleanup.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
