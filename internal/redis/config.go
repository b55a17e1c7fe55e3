package redis

// Config describes how to reach the Redis instance backing the
// idempotence guard. Daybreak runs a single non-clustered instance, so
// this is deliberately smaller than a multi-tenant deployment's config.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Database   int
	TLSEnabled bool
}
