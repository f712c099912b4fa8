package main

import (
	"context"
	"errors"
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

	"github.com/theradocs/theradocs/internal/config"
	"github.com/theradocs/theradocs/internal/domain/identity"
	"github.com/theradocs/theradocs/internal/domain/request"
	"github.com/theradocs/theradocs/internal/domain/specialty"
	"github.com/theradocs/theradocs/internal/platform/auth"
	"github.com/theradocs/theradocs/internal/platform/blobstore"
	"github.com/theradocs/theradocs/internal/platform/db"
	"github.com/theradocs/theradocs/internal/platform/docgen"
	"github.com/theradocs/theradocs/internal/platform/middleware"
	"github.com/theradocs/theradocs/internal/platform/signature"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "theradocs-server",
		Short: "Therapeutic documentation request API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
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

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

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

			users := identity.NewService(identity.NewUserRepoPG(pool), identity.NewPatientRepoPG(pool))
			admin := &identity.User{Name: name, Email: email, Role: auth.RoleAdmin}
			if err := users.CreateUser(ctx, admin); err != nil {
				return err
			}
			if err := users.SetPassword(ctx, admin.ID, password); err != nil {
				return err
			}

			fmt.Printf("Created admin %s (%s)\n", admin.Email, admin.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "Administrator", "Display name")
	cmd.Flags().String("email", "", "Login email")
	cmd.Flags().String("password", "", "Initial password")
	return cmd
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
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Platform services
	blobs := blobstore.NewPGBlobStore(pool)
	users := identity.NewService(identity.NewUserRepoPG(pool), identity.NewPatientRepoPG(pool))
	specialties := specialty.NewService(specialty.NewRepoPG(pool))
	generator := docgen.NewTemplateGenerator(blobs)
	signatures := signature.NewSourceProvider(users)

	requests := request.NewService(
		request.NewRepoPG(pool),
		&directoryAdapter{users: users, specialties: specialties},
		generator,
		signatures,
	)

	// Authenticated API surface
	api := e.Group("/api/v1")
	if cfg.AuthJWKSURL != "" || cfg.AuthSigningKey != "" {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	} else {
		logger.Warn().Msg("auth not configured, using development identity")
		api.Use(auth.DevAuthMiddleware())
	}

	identity.NewHandler(users).RegisterRoutes(api)
	specialty.NewHandler(specialties).RegisterRoutes(api)
	request.NewHandler(requests, blobs).RegisterRoutes(api)
	blobstore.NewBlobHandler(blobs).RegisterRoutes(api.Group("", auth.RequireRole(auth.RoleAdmin)))

	// Start and wait for shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// directoryAdapter exposes the identity and specialty services to the
// workflow engine through its narrow lookup interface, keeping the engine
// decoupled from the full service surfaces.
type directoryAdapter struct {
	users       *identity.Service
	specialties *specialty.Service
}

func (d *directoryAdapter) User(ctx context.Context, id uuid.UUID) (*request.Person, error) {
	u, err := d.users.GetUser(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := &request.Person{Name: u.Name, Role: u.Role}
	if u.LicenseNumber != nil {
		p.License = *u.LicenseNumber
	}
	if u.SpecialtyID != nil {
		sp, err := d.specialties.Get(ctx, *u.SpecialtyID)
		if err == nil {
			p.Specialty = sp.Name
		}
	}
	return p, nil
}

func (d *directoryAdapter) Patient(ctx context.Context, id uuid.UUID) (*request.PatientInfo, error) {
	pt, err := d.users.GetPatient(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request.PatientInfo{
		Name:       pt.FullName(),
		Record:     pt.ID.String(),
		GuardianID: pt.GuardianID,
	}, nil
}
