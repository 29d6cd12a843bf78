// Package app assembles repositories and services from configuration for the API server and taxctl.
package app

import (
	"context"
	"fmt"

	"nytax/internal/archive"
	"nytax/internal/config"
	"nytax/internal/metrics"
	"nytax/internal/repository"
	"nytax/internal/service"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Repositories is the storage layer the services run on.
type Repositories struct {
	Jurisdictions repository.JurisdictionRepository
	Rates         repository.RateRepository
	Mutations     repository.MutationRepository
	Orders        repository.OrderRepository
	Imports       repository.ImportLogRepository
	Audit         repository.AuditRepository
	Users         repository.UserRepository
	Tx            repository.TransactionManager
}

// PostgresRepositories backs every repository with db.
func PostgresRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Jurisdictions: repository.NewJurisdictionRepository(db),
		Rates:         repository.NewRateRepository(db),
		Mutations:     repository.NewMutationRepository(db),
		Orders:        repository.NewOrderRepository(db),
		Imports:       repository.NewImportLogRepository(db),
		Audit:         repository.NewAuditRepository(db),
		Users:         repository.NewUserRepository(db),
		Tx:            repository.NewTransactionManager(db),
	}
}

// Options carries the non-storage dependencies. Nil fields fall back to no-op implementations.
type Options struct {
	Calendar  service.Calendar
	Locator   service.Locator
	Archiver  archive.Archiver
	Notifier  service.Notifier
	Metrics   *metrics.Metrics
	JWTSecret []byte
	Workers   int
	Log       logrus.FieldLogger
}

// Services is the assembled business layer.
type Services struct {
	Resolver      service.ResolverService
	Rates         service.RateService
	Tax           service.TaxService
	Orders        service.OrderService
	Imports       service.ImportService
	Jurisdictions service.JurisdictionService
	Audit         service.AuditService
	Auth          service.AuthService
}

func NewServices(repos Repositories, opts Options) *Services {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Locator == nil {
		opts.Locator = repos.Jurisdictions
	}

	resolver := service.NewResolverService(opts.Locator, opts.Log)
	rates := service.NewRateService(repos.Jurisdictions, repos.Rates, repos.Mutations, repos.Audit, repos.Tx,
		opts.Calendar, opts.Notifier, opts.Metrics, opts.Log)
	tax := service.NewTaxService(resolver, rates, repos.Orders, repos.Audit, repos.Tx, opts.Notifier, opts.Metrics, opts.Log)

	return &Services{
		Resolver: resolver,
		Rates:    rates,
		Tax:      tax,
		Orders:   service.NewOrderService(repos.Orders, opts.Calendar),
		Imports: service.NewImportService(tax, repos.Imports, repos.Orders, repos.Audit, repos.Tx,
			opts.Archiver, opts.Calendar, opts.Workers, opts.Notifier, opts.Metrics, opts.Log),
		Jurisdictions: service.NewJurisdictionService(repos.Jurisdictions, repos.Rates, repos.Audit, repos.Tx, rates, opts.Log),
		Audit:         service.NewAuditService(repos.Audit),
		Auth:          service.NewAuthService(repos.Users, repos.Audit, repos.Tx, opts.JWTSecret),
	}
}

// NewArchiver returns the S3 archiver when a bucket is configured and a no-op otherwise.
func NewArchiver(ctx context.Context, cfg config.ArchiveConfig) (archive.Archiver, error) {
	if !cfg.Enabled() {
		return archive.Noop{}, nil
	}
	s3, err := archive.NewS3(ctx, archive.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		PathStyle:       cfg.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure import archive: %w", err)
	}
	return s3, nil
}

// NewLocator picks the resolver backend: PostGIS queries, or an R-tree loaded once from the
// stored boundaries.
func NewLocator(ctx context.Context, kind string, repo repository.JurisdictionRepository, log logrus.FieldLogger) (service.Locator, error) {
	if kind != config.ResolverMemory {
		return repo, nil
	}
	loc, err := service.LoadShapeLocator(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to load jurisdiction shapes: %w", err)
	}
	log.WithField("jurisdictions", loc.Len()).Info("in-memory resolver ready")
	return loc, nil
}
