// Package factory wires the application graph: clients, repositories,
// caches, services and the maintenance job. Components are built lazily and
// torn down once.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/bucketing"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/client"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/config"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/encryption"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/events"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/jobs/maintenance"
	redisrepo "github.com/cerkvenihaxel/ssc-api-sub001/internal/repository/redis"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/repository/scylla"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/service"
	tlsmgr "github.com/cerkvenihaxel/ssc-api-sub001/internal/tls"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/token"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/util"
)

// Factory owns the lifecycle of every application dependency.
type Factory struct {
	config     *config.Config
	tlsManager *tlsmgr.Manager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	magicLinkRepo *scylla.MagicLinkRepository
	sessionRepo   *scylla.SessionRepository
	userRepo      *scylla.UserRepository
	sessionCache  *redisrepo.SessionCache
	rateLimiter   *redisrepo.RateLimitCache

	tokenManager *token.Manager
	publisher    *events.Multi
	authService  *service.AuthService
	mailer       service.NotificationSender

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration, initializes logging and connects the
// external clients. mailer is injected because delivery transport lives
// outside this service.
func NewFactory(mailer service.NotificationSender) (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		mailer: mailer,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tlsmgr.NewManager(cfg.Server, util.Get())
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	f.initializeManagers()

	util.Info("factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled))

	return f, nil
}

// initializeClients connects the external services. Scylla and Redis are
// required; the event sinks degrade to warnings outside production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		}
	}

	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		}
	}

	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("kafka producer initialization failed, proceeding without kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("elasticsearch initialization failed, proceeding without session search", util.ErrorField(err))
	} else {
		f.esClient = esClient
	}

	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("clickhouse initialization failed, proceeding without audit sink", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() {
	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("failed to load AWS config, falling back to local key wrapping", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config.KMS, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config.Auth.UserBuckets, f.config.Auth.EventBuckets)
}

func (f *Factory) MagicLinkRepository() *scylla.MagicLinkRepository {
	if f.magicLinkRepo == nil {
		f.magicLinkRepo = scylla.NewMagicLinkRepository(f.scyllaClient, util.Get())
	}
	return f.magicLinkRepo
}

func (f *Factory) SessionRepository() *scylla.SessionRepository {
	if f.sessionRepo == nil {
		f.sessionRepo = scylla.NewSessionRepository(
			f.scyllaClient, f.bucketingManager, f.encryptionManager, util.Get())
		if cache := f.SessionCache(); cache != nil {
			f.sessionRepo.WithCache(cache)
		}
	}
	return f.sessionRepo
}

func (f *Factory) UserRepository() *scylla.UserRepository {
	if f.userRepo == nil {
		f.userRepo = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, util.Get())
	}
	return f.userRepo
}

func (f *Factory) SessionCache() *redisrepo.SessionCache {
	if f.sessionCache == nil && f.redisClient != nil {
		f.sessionCache = redisrepo.NewSessionCache(f.redisClient)
	}
	return f.sessionCache
}

func (f *Factory) RateLimiter() *redisrepo.RateLimitCache {
	if f.rateLimiter == nil && f.redisClient != nil {
		f.rateLimiter = redisrepo.NewRateLimitCache(
			f.redisClient, f.config.Auth.LoginRateLimit, f.config.Auth.LoginRateWindow)
	}
	return f.rateLimiter
}

func (f *Factory) TokenManager() *token.Manager {
	if f.tokenManager == nil {
		f.tokenManager = token.NewManager(f.config.JWT.Secret, f.config.Auth.SessionLifetime)
	}
	return f.tokenManager
}

// EventPublisher fans security events out to every sink whose client came
// up. With no sinks available it returns an empty fanout that drops events.
func (f *Factory) EventPublisher() *events.Multi {
	if f.publisher == nil {
		var sinks []events.Publisher
		if f.kafkaProducer != nil {
			sinks = append(sinks, events.NewKafkaPublisher(
				f.kafkaProducer, f.bucketingManager, f.config.Kafka.SecurityEventsTopic))
		}
		if f.clickhouseClient != nil {
			sinks = append(sinks, events.NewClickHousePublisher(
				f.clickhouseClient, f.bucketingManager, f.config.Clickhouse.AuditTable))
		}
		if f.esClient != nil {
			sinks = append(sinks, events.NewElasticPublisher(
				f.esClient, f.config.Elasticsearch.SessionIndex))
		}
		f.publisher = events.NewMulti(util.Get(), sinks...)
	}
	return f.publisher
}

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		f.authService = service.NewAuthService(
			f.config.Auth,
			f.MagicLinkRepository(),
			f.SessionRepository(),
			f.UserRepository(),
			f.TokenManager(),
			f.mailer,
			service.NewStaticRouteResolver(),
			util.Get(),
		).WithEvents(f.EventPublisher())

		if limiter := f.RateLimiter(); limiter != nil {
			f.authService.WithThrottle(limiter)
		}
	}
	return f.authService
}

func (f *Factory) MaintenanceJob() *maintenance.Job {
	return maintenance.New(
		f.SessionRepository(),
		f.config.Auth.MaintenanceInterval,
		f.config.Auth.SessionRetentionDays,
		util.Get(),
	)
}

// HealthCheck probes every connected dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

// IsHealthy ignores the optional sinks: only the stores gate readiness.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("shutting down factory")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
	})
	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tlsmgr.Manager {
	return f.tlsManager
}
