package config

type AppConfig struct {
	APIPort       string `env:"PORT" envDefault:"11000"`
	APIKey        string `env:"API_KEY,required"`
	CanonicalHost string `env:"CANONICAL_HOST" envDefault:"go.linkshield.io"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`
	RedisURL      string `env:"REDIS_URL"`
	// ClickDeadlineMs bounds the whole click flow; scoring overruns fail
	// toward the safe page.
	ClickDeadlineMs int `env:"CLICK_DEADLINE_MS" envDefault:"300"`
}

type CloakerDatabaseConfig struct {
	Host            string `env:"CLOAKER_POSTGRES_HOST,required"`
	Port            string `env:"CLOAKER_POSTGRES_PORT,required"`
	User            string `env:"CLOAKER_POSTGRES_USER,required"`
	DBName          string `env:"CLOAKER_POSTGRES_DB_NAME,required"`
	Password        string `env:"CLOAKER_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"CLOAKER_POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"CLOAKER_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"CLOAKER_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"CLOAKER_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"CLOAKER_POSTGRES_SSL_MODE" envDefault:"disable"`
}

type GeoIPConfig struct {
	CityDBPath string `env:"GEOIP_CITY_DB_PATH" envDefault:"/data/geoip/GeoLite2-City.mmdb"`
	ASNDBPath  string `env:"GEOIP_ASN_DB_PATH" envDefault:"/data/geoip/GeoLite2-ASN.mmdb"`
	AnonDBPath string `env:"GEOIP_ANON_DB_PATH" envDefault:"/data/geoip/GeoIP2-Anonymous-IP.mmdb"`
}

type WebhookConfig struct {
	QueueSize        int `env:"WEBHOOK_QUEUE_SIZE" envDefault:"1024"`
	Workers          int `env:"WEBHOOK_WORKERS" envDefault:"4"`
	TimeoutSeconds   int `env:"WEBHOOK_TIMEOUT_SECONDS" envDefault:"10"`
	MaxRetries       int `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	BackoffSeconds   int `env:"WEBHOOK_BACKOFF_SECONDS" envDefault:"1"`
	MaxBackoffSeconds int `env:"WEBHOOK_MAX_BACKOFF_SECONDS" envDefault:"60"`
}

type DomainConfig struct {
	// IngressIP is the address the A record of a custom domain must point at.
	IngressIP string `env:"DOMAIN_INGRESS_IP,required"`
	// TXTPrefix is prepended to the domain for the ownership challenge
	// record, e.g. _cloaker.promo.example.com.
	TXTPrefix string `env:"DOMAIN_TXT_PREFIX" envDefault:"_cloaker"`
	// MinRecheckMinutes throttles repeated verification attempts.
	MinRecheckMinutes int `env:"DOMAIN_MIN_RECHECK_MINUTES" envDefault:"5"`
}

type ArchiveConfig struct {
	Enabled         bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"BUCKET_NAME_VISITOR_ARCHIVE" envDefault:"visitor-archive"`
	RetentionDays   int    `env:"ARCHIVE_RETENTION_DAYS" envDefault:"90"`
	BatchSize       int    `env:"ARCHIVE_BATCH_SIZE" envDefault:"5000"`
}
