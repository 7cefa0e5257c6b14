package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// maxAuthAge bounds how long a bound connection is reused before it binds again.
const maxAuthAge = 5 * time.Minute

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

// dialFunc opens a connection to server; replaced in tests.
type dialFunc func(ctx context.Context, server *ServerInfo, cfg *ConnectionConfig) (*ldap.Conn, error)

// connectionPool implements ConnectionPool.
type connectionPool struct {
	ctx         context.Context // logging context
	config      *ConnectionConfig
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool
	dial        dialFunc
	bind        func(ctx context.Context, pc *PooledConnection) error

	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time

	healthTicker *time.Ticker
	healthStop   chan struct{}
	healthWg     sync.WaitGroup
}

// NewConnectionPool resolves the configured servers and returns a pool.
// Connections are opened lazily by Get.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig) (ConnectionPool, error) {
	return newConnectionPool(ctx, config, NewSRVDiscovery())
}

func newConnectionPool(ctx context.Context, config *ConnectionConfig, discovery *SRVDiscovery) (*connectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool := &connectionPool{
		ctx:         ctx,
		config:      config,
		connections: make(chan *PooledConnection, config.MaxConnections),
		dial:        dialServer,
		startTime:   time.Now(),
		healthStop:  make(chan struct{}),
	}
	pool.bind = pool.authenticateConnection

	servers, err := discoverServers(ctx, config, discovery)
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}
	pool.servers = servers

	if config.HealthCheck > 0 {
		pool.startHealthChecker()
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"server_count":    len(servers),
		"max_connections": config.MaxConnections,
		"auth_method":     config.GetAuthMethod().String(),
	})
	return pool, nil
}

func discoverServers(ctx context.Context, config *ConnectionConfig, discovery *SRVDiscovery) ([]*ServerInfo, error) {
	var servers []*ServerInfo

	switch {
	case len(config.LDAPURLs) > 0:
		for _, u := range config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", u, err)
			}
			servers = append(servers, server)
		}
	case config.Domain != "":
		lookupCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()

		found, err := discovery.DiscoverServers(lookupCtx, config.Domain)
		if err != nil {
			return nil, err
		}
		servers = found
	default:
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}
	return servers, nil
}

// Get retrieves a connection from the pool, opening a new one when no idle
// connection is usable.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case conn := <-p.connections:
		if p.isConnectionHealthy(conn) {
			if p.config.HasAuthentication() && needsReAuthentication(conn) {
				if err := p.bind(ctx, conn); err != nil {
					LogPoolEvent(p.ctx, "reauthentication_failed", map[string]any{"error": err.Error()})
					p.closeConnection(conn)
					return p.createConnection(ctx)
				}
			}
			conn.lastUsed = time.Now()
			atomic.AddInt64(&p.activeConns, 1)
			LogPoolEvent(p.ctx, "connection_reused", map[string]any{"server": conn.serverInfo.Host})
			return conn, nil
		}
		LogPoolEvent(p.ctx, "connection_discarded", map[string]any{"server": conn.serverInfo.Host})
		p.closeConnection(conn)
	default:
	}

	return p.createConnection(ctx)
}

// createConnection tries every server, backing off exponentially between rounds.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			conn, err := p.createSingleConnection(ctx, server)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				LogConnectionEvent(p.ctx, "connection_failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				if !IsRetryableError(err) && IsAuthenticationError(err) {
					return nil, err
				}
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			atomic.AddInt64(&p.activeConns, 1)
			LogConnectionEvent(p.ctx, "connection_established", map[string]any{
				"server":      ServerInfoToURL(server),
				"auth_method": p.config.GetAuthMethod().String(),
			})
			return conn, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	LogPoolEvent(p.ctx, "all_connections_failed", map[string]any{
		"servers":  len(p.servers),
		"attempts": p.config.MaxRetries + 1,
	})
	return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
}

func (p *connectionPool) createSingleConnection(ctx context.Context, server *ServerInfo) (*PooledConnection, error) {
	conn, err := p.dial(ctx, server, p.config)
	if err != nil {
		return nil, err
	}

	pc := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if p.config.HasAuthentication() {
		if err := p.bind(ctx, pc); err != nil {
			_ = conn.Close()
			return nil, WrapError("bind", err)
		}
	}

	return pc, nil
}

// dialServer opens a connection to server: LDAPS for ldaps URLs, optionally
// upgraded with StartTLS for plain ones.
func dialServer(_ context.Context, server *ServerInfo, cfg *ConnectionConfig) (*ldap.Conn, error) {
	url := ServerInfoToURL(server)

	var conn *ldap.Conn
	var err error

	if server.UseTLS {
		conn, err = ldap.DialURL(url, ldap.DialWithTLSConfig(cfg.TLSConfig))
	} else {
		conn, err = ldap.DialURL(url)
		if err == nil && cfg.UseStartTLS {
			if tlsErr := conn.StartTLS(cfg.TLSConfig); tlsErr != nil {
				_ = conn.Close()
				return nil, NewConnectionError("StartTLS failed for "+url, false, tlsErr)
			}
		}
	}

	if err != nil {
		return nil, NewConnectionError("failed to connect to "+url, true, err)
	}

	conn.SetTimeout(cfg.Timeout)
	return conn, nil
}

// authenticateConnection binds pc using the configured method.
func (p *connectionPool) authenticateConnection(ctx context.Context, pc *PooledConnection) error {
	if pc == nil || pc.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	method := p.config.GetAuthMethod()
	var err error

	switch method {
	case AuthMethodSimpleBind:
		err = pc.conn.Bind(p.config.BindDN, p.config.BindPassword)
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, pc.conn, p.config, pc.serverInfo)
	case AuthMethodExternal:
		err = pc.conn.ExternalBind()
	case AuthMethodNone:
		return nil
	default:
		return fmt.Errorf("unsupported authentication method: %s", method)
	}

	fields := map[string]any{
		"auth_method": method.String(),
		"bind_dn":     p.config.BindDN,
		"server":      pc.serverInfo.Host,
	}
	if err != nil {
		pc.authenticated = false
		pc.authTime = time.Time{}
		fields["error"] = err.Error()
		LogConnectionEvent(p.ctx, "authentication_failed", fields)
		return err
	}

	pc.authenticated = true
	pc.authTime = time.Now()
	LogConnectionEvent(p.ctx, "authentication_success", fields)
	return nil
}

func needsReAuthentication(pc *PooledConnection) bool {
	return pc == nil || !pc.authenticated || time.Since(pc.authTime) > maxAuthAge
}

// returnConnection puts pc back into the pool or closes it.
func (p *connectionPool) returnConnection(pc *PooledConnection) {
	if pc == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(pc) {
		p.closeConnection(pc)
		return
	}

	select {
	case p.connections <- pc:
		LogPoolEvent(p.ctx, "connection_released", map[string]any{"server": pc.serverInfo.Host})
	default:
		p.closeConnection(pc)
	}
}

func (p *connectionPool) isConnectionHealthy(pc *PooledConnection) bool {
	if pc == nil || pc.conn == nil || !pc.healthy || pc.conn.IsClosing() {
		return false
	}
	if time.Since(pc.lastUsed) > p.config.MaxIdleTime {
		return false
	}
	if p.config.HasAuthentication() && !pc.authenticated {
		return false
	}
	return true
}

func (p *connectionPool) closeConnection(pc *PooledConnection) {
	if pc != nil && pc.conn != nil {
		_ = pc.conn.Close()
		pc.healthy = false
		pc.authenticated = false
		pc.authTime = time.Time{}
	}
}

// Close closes all idle connections and shuts down the pool.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.healthTicker != nil {
		close(p.healthStop)
		p.healthWg.Wait()
		p.healthTicker.Stop()
	}

	for {
		select {
		case pc := <-p.connections:
			p.closeConnection(pc)
		default:
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	return PoolStats{
		Idle:    len(p.connections),
		Active:  atomic.LoadInt64(&p.activeConns),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

func (p *connectionPool) startHealthChecker() {
	p.healthTicker = time.NewTicker(p.config.HealthCheck)

	p.healthWg.Go(func() {
		for {
			select {
			case <-p.healthTicker.C:
				p.performHealthCheck()
			case <-p.healthStop:
				return
			}
		}
	})
}

// performHealthCheck probes up to three idle connections with a root DSE read.
func (p *connectionPool) performHealthCheck() {
	var toCheck []*PooledConnection

collect:
	for range 3 {
		select {
		case pc := <-p.connections:
			toCheck = append(toCheck, pc)
		default:
			break collect
		}
	}

	for _, pc := range toCheck {
		// Connections taken from the channel count as active until returned.
		atomic.AddInt64(&p.activeConns, 1)
		if err := probe(pc.conn); err != nil {
			atomic.AddInt64(&p.activeConns, -1)
			LogPoolEvent(p.ctx, "health_check_failed", map[string]any{
				"server": pc.serverInfo.Host,
				"error":  err.Error(),
			})
			p.closeConnection(pc)
			continue
		}
		p.returnConnection(pc)
	}
}

// probe reads the root DSE.
func probe(conn *ldap.Conn) error {
	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"namingContexts"},
		nil,
	)
	_, err := conn.Search(req)
	return err
}

func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}
	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}
	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}
	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}
	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	return nil
}

// Close returns the connection to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

// Conn returns the underlying connection.
func (pc *PooledConnection) Conn() *ldap.Conn {
	return pc.conn
}

// ServerInfo returns the server the connection is bound to.
func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}
