package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-sync/internal/logging"
)

const (
	maxSearchDuration = 30 * time.Minute
	maxPagesPerSearch = 10000
	progressInterval  = 10 * time.Second
)

// client implements the Client interface.
type client struct {
	pool       ConnectionPool
	config     *ConnectionConfig
	logContext context.Context // carries the configured subsystem loggers
}

// NewClient creates a new LDAP client with connection pooling. ctx is kept
// for logging and must carry the ldap subsystems.
func NewClient(ctx context.Context, config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logger := logging.New(ctx, logging.SubsystemLDAP)
	logger.Debug("Creating LDAP client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"start_tls":       config.UseStartTLS,
		"max_connections": config.MaxConnections,
	})

	start := time.Now()
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		logger.Error("Failed to create connection pool", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return newClientWithPool(ctx, config, pool), nil
}

func newClientWithPool(ctx context.Context, config *ConnectionConfig, pool ConnectionPool) *client {
	return &client{
		pool:       pool,
		config:     config,
		logContext: ctx,
	}
}

// Connect checks that a connection can be opened, bound and used.
func (c *client) Connect(ctx context.Context) error {
	return logging.LogOperation(c.logContext, logging.SubsystemLDAP, "connection_test", map[string]any{
		"domain": c.config.Domain,
	}, func() error {
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		return nil
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Search performs a single unpaged LDAP search.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	fields := searchFields(req)
	logger := logging.New(c.logContext, logging.SubsystemLDAP)
	logger.Debug("Starting search operation", fields)
	start := time.Now()

	conn, err := c.pool.Get(ctx)
	if err != nil {
		LogLDAPError(c.logContext, "get_connection", err, fields)
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	var result *ldap.SearchResult
	err = c.withRetry(ctx, func() error {
		var searchErr error
		result, searchErr = conn.Conn().Search(ldapReq)
		return searchErr
	})
	if err != nil {
		LogLDAPError(c.logContext, "search", err, fields)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hasMore := req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit

	fields["duration_ms"] = time.Since(start).Milliseconds()
	fields["entries_found"] = len(result.Entries)
	fields["has_more"] = hasMore
	logger.Debug("Search operation completed successfully", fields)

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
		HasMore: hasMore,
	}, nil
}

// SearchWithPaging performs an LDAP search using the simple paged results
// control until the server returns an empty cookie.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = c.config.PageSize
	}
	if pageSize == 0 {
		pageSize = 1000
	}

	fields := searchFields(req)
	fields["page_size"] = pageSize
	logger := logging.New(c.logContext, logging.SubsystemLDAP)
	logger.Debug("Starting paged search", fields)

	start := time.Now()

	conn, err := c.pool.Get(ctx)
	if err != nil {
		LogLDAPError(c.logContext, "get_connection", err, fields)
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var entries []*ldap.Entry
	pagingControl := ldap.NewControlPaging(pageSize)
	lastProgress := start

	for page := 1; ; page++ {
		elapsed := time.Since(start)

		if elapsed > maxSearchDuration || page > maxPagesPerSearch {
			logger.Error("Paged search exceeded its limits, terminating", map[string]any{
				"base_dn":         req.BaseDN,
				"pages_completed": page - 1,
				"entries_found":   len(entries),
				"elapsed_seconds": int(elapsed.Seconds()),
			})
			return nil, fmt.Errorf("paged search of %s incomplete after %d pages", req.BaseDN, page-1)
		}

		if err := ctx.Err(); err != nil {
			logger.Warn("Paged search cancelled", map[string]any{
				"base_dn":         req.BaseDN,
				"pages_completed": page - 1,
				"context_error":   err.Error(),
			})
			return nil, err
		}

		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			int(req.DerefAliases),
			0,
			int(req.TimeLimit.Seconds()),
			false,
			req.Filter,
			req.Attributes,
			[]ldap.Control{pagingControl},
		)

		var result *ldap.SearchResult
		err = c.withRetry(ctx, func() error {
			var searchErr error
			result, searchErr = conn.Conn().Search(ldapReq)
			return searchErr
		})
		if err != nil {
			pageFields := map[string]any{"page_number": page, "base_dn": req.BaseDN}
			LogLDAPError(c.logContext, "paged_search", err, pageFields)
			return nil, fmt.Errorf("paged search failed: %w", err)
		}

		entries = append(entries, result.Entries...)

		logger.Trace("Completed search page", map[string]any{
			"page_number":     page,
			"entries_in_page": len(result.Entries),
			"total_entries":   len(entries),
		})

		if page%10 == 0 || time.Since(lastProgress) >= progressInterval {
			logger.Info("Paged search in progress", map[string]any{
				"base_dn":         req.BaseDN,
				"pages_completed": page,
				"total_entries":   len(entries),
				"elapsed_seconds": int(time.Since(start).Seconds()),
			})
			lastProgress = time.Now()
		}

		control, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(control.Cookie) == 0 {
			break
		}
		pagingControl.SetCookie(control.Cookie)
	}

	logging.LogPerformance(c.logContext, logging.SubsystemLDAP, "paged_search", time.Since(start), map[string]any{
		"base_dn":       req.BaseDN,
		"total_entries": len(entries),
	})

	return &SearchResult{
		Entries: entries,
		Total:   len(entries),
	}, nil
}

// Ping reads the root DSE over a pooled connection.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return probe(conn.Conn())
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// withRetry executes operation, retrying retryable errors with exponential backoff.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	logger := logging.New(c.logContext, logging.SubsystemLDAP)

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return err
		}
		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	logger.Error("Operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})
	return NewConnectionError("operation failed after retries", false, lastErr)
}

func searchFields(req *SearchRequest) map[string]any {
	return map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
	}
}
