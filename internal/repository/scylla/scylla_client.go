package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/config"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/util"
)

// PreparedStatements holds the statements the repositories bind on the hot
// path. Multi-table mutations go through logged batches instead.
type PreparedStatements struct {
	CreateMagicLink       *gocql.Query
	CreateMagicLinkByUser *gocql.Query
	GetMagicLinkByToken   *gocql.Query
	GetMagicLinksByUser   *gocql.Query

	CreateSession         *gocql.Query
	CreateSessionPointer  *gocql.Query
	CreateSessionByDevice *gocql.Query
	GetSessionPointer     *gocql.Query
	GetSession            *gocql.Query
	GetSessionsByUser     *gocql.Query
	GetSessionsByDevice   *gocql.Query
	UpdateSessionActivity *gocql.Query

	GetUserByID         *gocql.Query
	GetUserByEmail      *gocql.Query
	UpdateUserLastLogin *gocql.Query
	GetRole             *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateMagicLink = s.Session.Query(`
        INSERT INTO magic_links (
            token, link_id, user_id, created_at, expires_at,
            used_at, used_ip, used_user_agent,
            request_ip, request_user_agent, is_active
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateMagicLinkByUser = s.Session.Query(`
        INSERT INTO magic_links_by_user (user_id, link_id, token, created_at, expires_at, is_active)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetMagicLinkByToken = s.Session.Query(`
        SELECT token, link_id, user_id, created_at, expires_at,
            used_at, used_ip, used_user_agent,
            request_ip, request_user_agent, is_active
        FROM magic_links WHERE token = ?`)

	prepared.GetMagicLinksByUser = s.Session.Query(`
        SELECT link_id, token, created_at, expires_at, is_active
        FROM magic_links_by_user WHERE user_id = ?`)

	prepared.CreateSession = s.Session.Query(`
        INSERT INTO user_sessions (
            user_bucket, user_id, session_id, device_id, ip_address, user_agent,
            created_at, logout_at, is_active, expires_at, last_activity,
            fingerprint, client_info_enc
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateSessionPointer = s.Session.Query(`
        INSERT INTO sessions_by_id (session_id, user_bucket, user_id, device_id)
        VALUES (?, ?, ?, ?)`)

	prepared.CreateSessionByDevice = s.Session.Query(`
        INSERT INTO sessions_by_device (device_id, session_id, user_bucket, user_id)
        VALUES (?, ?, ?, ?)`)

	prepared.GetSessionPointer = s.Session.Query(`
        SELECT user_bucket, user_id, device_id FROM sessions_by_id WHERE session_id = ?`)

	prepared.GetSession = s.Session.Query(`
        SELECT user_bucket, user_id, session_id, device_id, ip_address, user_agent,
            created_at, logout_at, is_active, expires_at, last_activity,
            fingerprint, client_info_enc
        FROM user_sessions WHERE user_bucket = ? AND user_id = ? AND session_id = ?`)

	prepared.GetSessionsByUser = s.Session.Query(`
        SELECT user_bucket, user_id, session_id, device_id, ip_address, user_agent,
            created_at, logout_at, is_active, expires_at, last_activity,
            fingerprint, client_info_enc
        FROM user_sessions WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetSessionsByDevice = s.Session.Query(`
        SELECT session_id, user_bucket, user_id FROM sessions_by_device WHERE device_id = ?`)

	prepared.UpdateSessionActivity = s.Session.Query(`
        UPDATE user_sessions SET last_activity = ?
        WHERE user_bucket = ? AND user_id = ? AND session_id = ?`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, email, name, status, role_id, created_at, last_login_at
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetUserByEmail = s.Session.Query(`
        SELECT user_bucket, user_id FROM users_by_email WHERE email = ?`)

	prepared.UpdateUserLastLogin = s.Session.Query(`
        UPDATE users SET last_login_at = ? WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetRole = s.Session.Query(`
        SELECT role_id, name, description, permissions FROM roles WHERE role_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry retries transient write failures with linear backoff on
// top of the driver's own retry policy.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil {
			return nil
		}
		if err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
