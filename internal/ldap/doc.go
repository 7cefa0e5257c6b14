/*
Package ldap reads user entries from an LDAP directory for ldap-sync.

# Connection Management

The Client interface provides pooled, read-only access to the directory:

  - Servers from explicit ldap:// or ldaps:// URLs, or SRV discovery of a domain
  - Optional StartTLS, custom CA bundles and client certificates
  - Anonymous, simple, Kerberos (GSSAPI) and SASL EXTERNAL binds
  - Automatic retry with exponential backoff
  - Paged searches using the simple paged results control

# Directory Polling

A Poller searches every user entry below the base DN and compares the
result with a JSON snapshot persisted by the previous pass. Entries are
keyed by the raw bytes of the configured user id attribute and reported as
new, changed or removed. A changed entry carries its previous state rebuilt
from the snapshot.

When a modification timestamp attribute is mapped, entries whose timestamp
did not move are skipped without comparing their tracked attributes.

# Records

EntryRecord adapts a search entry to user.Record. Values that are not valid
UTF-8 are exposed as binary; objectGUID and objectSid style attributes can
be rendered to their canonical string form.

# Example Usage

	cfg := ldap.DefaultConfig()
	cfg.LDAPURLs = []string{"ldaps://dc1.example.org"}
	cfg.BindDN = "cn=sync,ou=services,dc=example,dc=org"
	cfg.BindPassword = password

	client, err := ldap.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	poller := ldap.NewPoller(client, ldap.PollerConfig{
		Search:    ldap.UserSearchConfig{BaseDN: "ou=people,dc=example,dc=org", Attributes: attrs},
		CachePath: "ldap-sync.cache.json",
	})
	result, err := poller.Poll(ctx)
*/
package ldap
