// cmd/container.go
//
// Composition root. Owns infrastructure (DB, Redis, email) and wires the
// identity, account and recovery contexts on top of it.
package main

import (
	"context"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/homestead/migrations"
	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/account/accountapi"
	"github.com/Abraxas-365/homestead/pkg/account/accountinfra"
	"github.com/Abraxas-365/homestead/pkg/account/accountsrv"
	"github.com/Abraxas-365/homestead/pkg/asyncx"
	"github.com/Abraxas-365/homestead/pkg/config"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/identity/identityinfra"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/logx"
	"github.com/Abraxas-365/homestead/pkg/notifx"
	"github.com/Abraxas-365/homestead/pkg/notifx/notifxconsole"
	"github.com/Abraxas-365/homestead/pkg/notifx/notifxpostmark"
	"github.com/Abraxas-365/homestead/pkg/notifx/notifxses"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoveryapi"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoveryinfra"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoverysrv"
)

const devJWTSecret = "homestead-dev-secret"

// pinger is anything the health endpoint can check.
type pinger interface {
	Ping(ctx context.Context) error
}

// Container holds shared infrastructure and the wired bounded contexts.
type Container struct {
	Config *config.Config
	Clock  kernel.Clock

	// Infrastructure
	DB    *sqlx.DB
	Redis *redis.Client
	Email *notifx.Client

	// Identity
	Verifier       *identityinfra.JWTVerifier
	Provider       identity.Provider
	AuthMiddleware *identity.TokenMiddleware

	// Account
	ProfileStore    account.ProfileStore
	AccountService  *accountsrv.Service
	AccountHandlers *accountapi.Handlers

	// Recovery
	CodeStore        *recoveryinfra.RedisCodeStore
	RecoveryService  *recoverysrv.Service
	RecoveryHandlers *recoveryapi.Handlers

	health map[string]pinger
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{
		Config: cfg,
		Clock:  kernel.SystemClock{},
		health: map[string]pinger{},
	}

	c.initInfrastructure()
	c.initIdentity()
	c.initAccount()
	c.initRecovery()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")

	if c.Config.Account.Store == "postgres" {
		c.initDatabase()
	} else {
		logx.Warn("  ⚠️ ACCOUNT_STORE=memory: profiles are kept in process and lost on restart")
	}

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
		logx.Fatalf("Failed to connect to Redis: %v (Redis is required)", err)
	}
	logx.Info("  ✅ Redis connected")

	c.initEmail()

	logx.Info("✅ Infrastructure initialized")
}

func (c *Container) initDatabase() {
	db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
	if err != nil {
		logx.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("  ✅ Database connected")

	if c.Config.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := migrations.Up(ctx, db.DB); err != nil {
			logx.Fatalf("Failed to apply migrations: %v", err)
		}
		logx.Info("  ✅ Migrations applied")
	}
}

func (c *Container) initEmail() {
	n := c.Config.Notifx

	var provider notifx.EmailSender
	switch n.Provider {
	case "ses":
		awsCfg, err := awsConfig.LoadDefaultConfig(context.TODO(), awsConfig.WithRegion(n.AWSRegion))
		if err != nil {
			logx.Fatalf("Unable to load AWS SDK config: %v", err)
		}
		provider = notifxses.NewSESProvider(ses.NewFromConfig(awsCfg), n.FromAddress)
		logx.Infof("  ✅ SES email configured (region: %s)", n.AWSRegion)

	case "postmark":
		pm, err := notifxpostmark.NewPostmarkProvider(n.PostmarkServerToken, n.PostmarkAccountToken, n.FromAddress)
		if err != nil {
			logx.Fatalf("Failed to configure Postmark: %v", err)
		}
		provider = pm
		logx.Info("  ✅ Postmark email configured")

	case "console":
		provider = notifxconsole.NewConsoleProvider()
		logx.Warn("  ⚠️ NOTIFX_PROVIDER=console: emails are logged, not sent")

	default:
		logx.Fatalf("Unknown NOTIFX_PROVIDER: %s (use 'console', 'ses' or 'postmark')", n.Provider)
	}

	c.Email = notifx.NewClient(provider, n.FromAddress, n.FromName)
}

// ---------------------------------------------------------------------------
// Bounded contexts
// ---------------------------------------------------------------------------

func (c *Container) initIdentity() {
	logx.Info("🔐 Initializing identity...")
	ic := c.Config.Identity

	secret := ic.JWTSecret
	switch ic.Provider {
	case "gotrue":
		if secret == "" {
			logx.Fatal("IDENTITY_JWT_SECRET is required with IDENTITY_PROVIDER=gotrue")
		}
		c.Verifier = identityinfra.NewJWTVerifier(secret, ic.JWTAudience)
		c.Provider = identityinfra.NewGoTrueClient(ic.BaseURL, ic.AnonKey, ic.ServiceKey, ic.CallTimeout)
		logx.Infof("  ✅ Identity backend: %s", ic.BaseURL)

	case "memory":
		if secret == "" {
			secret = devJWTSecret
		}
		c.Verifier = identityinfra.NewJWTVerifier(secret, ic.JWTAudience)
		c.Provider = identityinfra.NewMemoryProvider(c.Verifier, time.Hour)
		logx.Warn("  ⚠️ IDENTITY_PROVIDER=memory: identities are kept in process")
	}

	c.AuthMiddleware = identity.NewTokenMiddleware(c.Verifier)
}

func (c *Container) initAccount() {
	logx.Info("👤 Initializing account...")
	ac := c.Config.Account

	if c.DB != nil {
		store := accountinfra.NewPostgresProfileStore(c.DB)
		c.ProfileStore = store
		c.health["db"] = store
	} else {
		c.ProfileStore = accountinfra.NewMemoryProfileStore()
	}

	audit := accountinfra.NewLogxAuditLogger()
	reconciler := accountsrv.NewReconciler(c.ProfileStore, audit, c.Clock, ac.StoreTimeout)
	poller := accountsrv.NewPoller(c.ProfileStore, reconciler, ac.PollAttempts)

	c.AccountService = accountsrv.NewService(c.Provider, c.ProfileStore, reconciler, poller, audit, c.Clock, accountsrv.Config{
		ProviderTimeout: c.Config.Identity.CallTimeout,
		SyncBudget:      ac.SyncBudget,
		PollInterval:    ac.PollInterval,
	})
	c.AccountHandlers = accountapi.NewHandlers(c.AccountService)
}

func (c *Container) initRecovery() {
	logx.Info("🔑 Initializing recovery...")
	rc := c.Config.Recovery

	c.CodeStore = recoveryinfra.NewRedisCodeStore(c.Redis, rc.KeyPrefix, rc.RetentionGrace, c.Clock)
	c.health["redis"] = c.CodeStore

	notifier, err := recoveryinfra.NewEmailNotifier(c.Email, c.Clock)
	if err != nil {
		logx.Fatalf("Failed to register recovery email template: %v", err)
	}

	limiter := recoveryinfra.NewRedisRequestLimiter(c.Redis, rc.KeyPrefix, rc.RequestLimit, rc.RequestWindow)

	c.RecoveryService = recoverysrv.NewService(
		c.CodeStore,
		limiter,
		notifier,
		c.Provider,
		recoveryinfra.NewLogxAuditLogger(),
		c.Clock,
		recoverysrv.Config{
			CodeLength:    rc.CodeLength,
			CodeTTL:       rc.CodeTTL,
			MaxAttempts:   rc.MaxAttempts,
			ResetTokenTTL: rc.ResetTokenTTL,
			CASRetries:    rc.CASRetries,
			BcryptCost:    rc.BcryptCost,
			CallTimeout:   rc.CallTimeout,
		},
	)
	c.RecoveryHandlers = recoveryapi.NewHandlers(c.RecoveryService)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Check pings every dependency concurrently and returns the failures by name.
func (c *Container) Check(ctx context.Context) map[string]string {
	names := make([]string, 0, len(c.health))
	checks := make([]func(context.Context) (string, error), 0, len(c.health))
	for name, p := range c.health {
		names = append(names, name)
		checks = append(checks, func(ctx context.Context) (string, error) {
			if err := p.Ping(ctx); err != nil {
				return err.Error(), nil
			}
			return "", nil
		})
	}

	results, _ := asyncx.All(ctx, checks...)

	failed := map[string]string{}
	for i, msg := range results {
		if msg != "" {
			failed[names[i]] = msg
		}
	}
	return failed
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}
