package ldap

import (
	"context"
	"errors"
	"maps"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-sync/internal/logging"
)

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, operation string, err error, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+5)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation
	logFields["error"] = err.Error()
	logFields["category"] = string(GetErrorCategory(err))

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		logFields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			logFields["ldap_matched_dn"] = resultErr.MatchedDN
		}
	}

	tflog.SubsystemError(ctx, logging.SubsystemLDAP, "LDAP operation failed", logFields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := logging.SanitizeFields(fields)
	logFields["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		tflog.SubsystemInfo(ctx, logging.SubsystemLDAP, "Connection event", logFields)
	case "connection_failed", "authentication_failed":
		tflog.SubsystemError(ctx, logging.SubsystemLDAP, "Connection event", logFields)
	default:
		tflog.SubsystemDebug(ctx, logging.SubsystemLDAP, "Connection event", logFields)
	}
}

// LogPoolEvent logs connection pool events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+1)
	maps.Copy(logFields, fields)
	logFields["event"] = event

	switch event {
	case "pool_initialized", "connection_acquired", "connection_released", "connection_reused":
		tflog.SubsystemDebug(ctx, logging.SubsystemPool, "Pool event", logFields)
	case "connection_discarded", "health_check_failed", "reauthentication_failed":
		tflog.SubsystemWarn(ctx, logging.SubsystemPool, "Pool event", logFields)
	case "all_connections_failed":
		tflog.SubsystemError(ctx, logging.SubsystemPool, "Pool event", logFields)
	default:
		tflog.SubsystemTrace(ctx, logging.SubsystemPool, "Pool event", logFields)
	}
}
