package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/doctorcrm/doctorcrm/internal/config"
	"github.com/doctorcrm/doctorcrm/internal/domain/chat"
	"github.com/doctorcrm/doctorcrm/internal/domain/doctor"
	"github.com/doctorcrm/doctorcrm/internal/domain/notification"
	"github.com/doctorcrm/doctorcrm/internal/domain/patient"
	"github.com/doctorcrm/doctorcrm/internal/domain/pharmacy"
	"github.com/doctorcrm/doctorcrm/internal/domain/scheduling"
	"github.com/doctorcrm/doctorcrm/internal/domain/subadmin"
	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/internal/platform/db"
	"github.com/doctorcrm/doctorcrm/internal/platform/mailer"
	"github.com/doctorcrm/doctorcrm/internal/platform/middleware"
	"github.com/doctorcrm/doctorcrm/internal/platform/pdfgen"
	"github.com/doctorcrm/doctorcrm/internal/platform/secrets"
	"github.com/doctorcrm/doctorcrm/internal/platform/sequence"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crm-server",
		Short: "Clinic management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedAdminCmd())

	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			return nil
		},
	})

	return cmd
}

// seedAdminCmd creates the first sub-admin account. Registration over
// the API requires an existing sub-admin token, so a fresh deployment
// bootstraps through this command instead.
func seedAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create a sub-admin account directly in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := subadmin.NewService(subadmin.NewRepo(pool), nil)
			a, err := svc.Register(ctx, subadmin.RegisterInput{
				Name:     name,
				Email:    email,
				Password: password,
			})
			if err == subadmin.ErrEmailTaken {
				return fmt.Errorf("an account with email %s already exists", email)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Created sub-admin %s (%s)\n", a.Email, a.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Sub-admin display name")
	cmd.Flags().String("email", "", "Login email")
	cmd.Flags().String("password", "", "Login password (min 8 characters)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

// directoryAdapter bridges the patient and doctor repositories into the
// identity lookups the scheduling service needs.
type directoryAdapter struct {
	patients patient.Repository
	doctors  doctor.Repository
}

func (d *directoryAdapter) PatientByID(ctx context.Context, id uuid.UUID) (*scheduling.PatientRecord, error) {
	p, err := d.patients.GetByID(ctx, id)
	if err == patient.ErrNotFound {
		return nil, scheduling.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &scheduling.PatientRecord{
		ID:       p.ID,
		DoctorID: p.DoctorID,
		Name:     p.Name,
		Email:    p.Email,
	}, nil
}

func (d *directoryAdapter) DoctorByID(ctx context.Context, id uuid.UUID) (*scheduling.DoctorRecord, error) {
	doc, err := d.doctors.GetByID(ctx, id)
	if err == doctor.ErrNotFound {
		return nil, scheduling.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &scheduling.DoctorRecord{ID: doc.ID, Name: doc.Name}, nil
}

// rosterAdapter answers which doctor treats a patient for the chat
// service.
type rosterAdapter struct {
	patients patient.Repository
}

func (r *rosterAdapter) TreatingDoctor(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	p, err := r.patients.GetByID(ctx, patientID)
	if err == patient.ErrNotFound {
		return uuid.Nil, chat.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return p.DoctorID, nil
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Secrets cipher. Without a configured key the server still runs,
	// but encrypted columns do not survive a restart.
	secretsKey := cfg.SecretsKey
	if secretsKey == "" {
		raw := make([]byte, 32)
		if _, err := crypto_rand.Read(raw); err != nil {
			logger.Fatal().Err(err).Msg("failed to generate ephemeral secrets key")
		}
		secretsKey = hex.EncodeToString(raw)
		logger.Warn().Msg("SECRETS_KEY not set; using an ephemeral key for this process")
	}
	cipher, err := secrets.NewCipherFromHex(secretsKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid secrets key")
	}

	// Tokens and role guard.
	tokenStore := auth.NewPGRefreshTokenStore(pool)
	tokens := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
	}, tokenStore)

	// Shared infrastructure.
	files, err := blobstore.NewDiskStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open upload directory")
	}
	seq := sequence.NewGenerator(sequence.NewPGStore(pool))
	pdf := pdfgen.TextRenderer{}

	var sender mailer.Sender
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set; outbound mail is logged instead of sent")
		sender = mailer.NewLogSender(logger)
	}
	mail := mailer.New(sender)

	// Repositories.
	doctorRepo := doctor.NewRepo(pool)
	patientRepo := patient.NewRepo(pool)
	schedulingRepo := scheduling.NewRepo(pool)
	pharmacyRepo := pharmacy.NewRepo(pool)
	subAdminRepo := subadmin.NewRepo(pool)
	notificationRepo := notification.NewRepo(pool)
	chatRepo := chat.NewRepo(pool)

	// Services.
	doctorSvc := doctor.NewService(doctorRepo, tokens, auth.NewTOTPVerifier(), cipher, mail, files, logger)
	patientSvc := patient.NewService(patientRepo, tokens, seq, files, pdf, mail, logger)
	schedulingSvc := scheduling.NewService(schedulingRepo,
		&directoryAdapter{patients: patientRepo, doctors: doctorRepo}, seq, mail, logger)
	runTx := func(ctx context.Context, fn func(context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
	pharmacySvc := pharmacy.NewService(pharmacyRepo, tokens, cipher, seq, files, pdf, mail, runTx, logger)
	subAdminSvc := subadmin.NewService(subAdminRepo, tokens)
	notificationSvc := notification.NewService(notificationRepo, notification.NewPGAudience(pool), logger)
	chatSvc := chat.NewService(chatRepo, &rosterAdapter{patients: patientRepo}, logger)

	// The guard resolves the identity record for whichever role a token
	// carries before any handler runs.
	resolver := auth.NewResolver()
	resolver.Register(auth.RoleDoctor, doctorSvc.Resolve)
	resolver.Register(auth.RolePatient, patientSvc.Resolve)
	resolver.Register(auth.RoleMedicalOwner, pharmacySvc.Resolve)
	resolver.Register(auth.RoleSubAdmin, subAdminSvc.Resolve)
	guard := auth.NewGuard(tokens, resolver)

	// Echo server.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	api := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	doctor.NewHandler(doctorSvc, files, tokens.RefreshTTL()).RegisterRoutes(api, guard)
	patient.NewHandler(patientSvc, files).RegisterRoutes(api, guard)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(api, guard)
	pharmacy.NewHandler(pharmacySvc, files, tokens.RefreshTTL()).RegisterRoutes(api, guard)
	subadmin.NewHandler(subAdminSvc, tokens.RefreshTTL()).RegisterRoutes(api, guard)
	notification.NewHandler(notificationSvc).RegisterRoutes(api, guard)
	chat.NewHandler(chatSvc).RegisterRoutes(api, guard)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
