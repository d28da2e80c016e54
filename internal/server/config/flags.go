package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/flagx"
)

// serverFlags lists every flag parseFlags understands, in both dash forms
// for the long names.
var serverFlags = []string{
	"-a", "-d", "-s", "-t", "-r", "-u", "-p", "-b", "-g", "-e",
	"-storage", "--storage", "-archive", "--archive", "-ratelimit", "--ratelimit",
	"-redis", "--redis", "-logger", "--logger", "-otlp", "--otlp",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string          gRPC bind address (e.g., ":50051")
//	-d string          PostgreSQL DSN
//	-s string          JWT HMAC secret key
//	-t int             access token validity, minutes
//	-r int             refresh token validity, minutes
//	-u / -p string     S3 root user / password
//	-b / -g / -e       S3 bucket, region and base endpoint
//	-storage string    postgres | memory
//	-archive string    database | s3
//	-ratelimit string  memory | redis
//	-redis string      Redis address
//	-logger string     slog | zap
//	-otlp string       OTLP/HTTP trace endpoint; empty disables tracing
//
// Only the flags above are considered; the rest of args is ignored so the
// -c and -env layers can share the command line.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, serverFlags)

	fs := flag.NewFlagSet("idkeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 archive bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.StorageDriver, "storage", config.StorageDriver, "storage driver: postgres or memory")
	fs.StringVar(&config.ArchiveBackend, "archive", config.ArchiveBackend, "archive backend: database or s3")
	fs.StringVar(&config.RateLimitBackend, "ratelimit", config.RateLimitBackend, "rate limit backend: memory or redis")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.Logger, "logger", config.Logger, "logger: slog or zap")
	fs.StringVar(&config.OTLPEndpoint, "otlp", config.OTLPEndpoint, "OTLP/HTTP trace endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// durations are only touched when given, so sub-minute values from
	// earlier layers survive
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
		}
	})
	return nil
}
