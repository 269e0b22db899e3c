package config

import (
	"errors"
	"time"
)

// AWSConfig holds provider credentials and provisioning bounds.
type AWSConfig struct {
	AccessKeyID          string
	SecretAccessKey      string
	SessionToken         string
	DefaultRegion        string
	SecretBucket         string
	Endpoint             string
	NetworkReadyTimeout  time.Duration
	InstanceReadyTimeout time.Duration
	PollInitialInterval  time.Duration
	PollMaxInterval      time.Duration
}

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	LogLevel           string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	JWTAudience        string
	AllowedOrigin      string
	AWS                AWSConfig
	KeyMaterialKey     string
	DefaultNetworkCIDR string
	DefaultSubnetCIDR  string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	ProvisionLockTTL   time.Duration
	ProvisionLockWait  time.Duration
	CompensationWindow time.Duration
	RateLimitWrite     int
	RateLimitRead      int
	NATSURL            string
	NATSSubjectPrefix  string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		Addr:          GetString("API_ADDR", ":8000"),
		DatabaseURL:   FirstString("postgres://puyu:puyu@db:5432/puyu?sslmode=disable", "DATABASE_URL", "DATABASE_CONNECTION_STRING"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:     FirstString("", "JWT_SECRET", "SUPABASE_SECRET_KEY"),
		JWTAudience:   GetString("JWT_AUDIENCE", "authenticated"),
		AllowedOrigin: FirstString("", "CORS_ALLOWED_ORIGIN", "PUYU_FRONTEND"),
		AWS: AWSConfig{
			AccessKeyID:          GetString("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      GetString("AWS_SECRET_ACCESS_KEY", ""),
			SessionToken:         GetString("AWS_SESSION_TOKEN", ""),
			DefaultRegion:        GetString("AWS_DEFAULT_REGION", "eu-west-1"),
			SecretBucket:         GetString("AWS_S3_BUCKET", ""),
			Endpoint:             GetString("AWS_ENDPOINT_URL", ""),
			NetworkReadyTimeout:  GetSeconds("AWS_NETWORK_TIMEOUT_SECONDS", 120),
			InstanceReadyTimeout: GetSeconds("AWS_INSTANCE_TIMEOUT_SECONDS", 300),
			PollInitialInterval:  GetMillis("AWS_POLL_INITIAL_MS", 500),
			PollMaxInterval:      GetSeconds("AWS_POLL_MAX_SECONDS", 15),
		},
		KeyMaterialKey:     GetString("KEY_MATERIAL_ENCRYPTION_KEY", ""),
		DefaultNetworkCIDR: GetString("NETWORK_CIDR", "10.255.0.0/16"),
		DefaultSubnetCIDR:  GetString("SUBNET_CIDR", "10.255.0.0/20"),
		RedisAddr:          GetString("REDIS_ADDR", ""),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		ProvisionLockTTL:   GetSeconds("PROVISION_LOCK_TTL_SECONDS", 600),
		ProvisionLockWait:  GetSeconds("PROVISION_LOCK_WAIT_SECONDS", 300),
		CompensationWindow: GetSeconds("PROVISION_COMPENSATION_SECONDS", 120),
		RateLimitWrite:     GetInt("RATE_LIMIT_WRITE_PER_MINUTE", 30),
		RateLimitRead:      GetInt("RATE_LIMIT_READ_PER_MINUTE", 120),
		NATSURL:            GetString("NATS_URL", ""),
		NATSSubjectPrefix:  GetString("NATS_SUBJECT_PREFIX", "puyu.provisioning"),
	}
}

// Validate reports settings the API cannot start without.
func (c APIConfig) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "" {
		errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required"))
	}
	if c.AWS.SecretBucket == "" {
		errs = append(errs, errors.New("AWS_S3_BUCKET is required"))
	}
	return errors.Join(errs...)
}
