package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	GCS           GCSConfig
	Storage       StorageConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Gemini        GeminiConfig
	Embedding     EmbeddingConfig
	VectorIndex   VectorIndexConfig
	Vision        VisionConfig
	Search        SearchConfig
	Pipeline      PipelineConfig
	Transcription TranscriptionConfig
	Backfill      BackfillConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Embedding.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STUDIOFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"STUDIOFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STUDIOFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STUDIOFLOW_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"STUDIOFLOW_LOG_FORMAT" default:"json"`

	CORSOrigins     []string      `envconfig:"STUDIOFLOW_API_CORS_ORIGINS"`
	SearchRateLimit int           `envconfig:"STUDIOFLOW_API_SEARCH_RATE_LIMIT" default:"120"`
	RateLimitWindow time.Duration `envconfig:"STUDIOFLOW_API_RATE_LIMIT_WINDOW" default:"1m"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STUDIOFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STUDIOFLOW_DB_DSN"`
	Driver string `envconfig:"STUDIOFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STUDIOFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"STUDIOFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STUDIOFLOW_DB_USER"`
	LegacyPassword string `envconfig:"STUDIOFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"STUDIOFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"STUDIOFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STUDIOFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STUDIOFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STUDIOFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STUDIOFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"STUDIOFLOW_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STUDIOFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STUDIOFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"STUDIOFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"STUDIOFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STUDIOFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STUDIOFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STUDIOFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STUDIOFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STUDIOFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STUDIOFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STUDIOFLOW_AUTO_MIGRATE" default:"false"`
	BigQuery    bool `envconfig:"STUDIOFLOW_FEATURE_BIGQUERY" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STUDIOFLOW_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"STUDIOFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STUDIOFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"STUDIOFLOW_GCS_BUCKET_NAME"`
	CDNBaseURL string `envconfig:"STUDIOFLOW_GCS_CDN_BASE_URL"`
}

// StorageConfig selects the MediaStore implementation.
type StorageConfig struct {
	Backend      string `envconfig:"STUDIOFLOW_STORAGE_BACKEND" default:"gcs"`
	LocalRoot    string `envconfig:"STUDIOFLOW_STORAGE_LOCAL_ROOT" default:"./var/storage"`
	LocalCDN     string `envconfig:"STUDIOFLOW_STORAGE_LOCAL_CDN_BASE_URL" default:"http://localhost:8080/files"`
	OutputPrefix string `envconfig:"STUDIOFLOW_STORAGE_OUTPUT_PREFIX" default:"processed"`
}

type PubSubConfig struct {
	PipelineTopic          string `envconfig:"STUDIOFLOW_PUBSUB_PIPELINE_TOPIC" default:"sf-pipeline-tasks"`
	PipelineSubscription   string `envconfig:"STUDIOFLOW_PUBSUB_PIPELINE_SUBSCRIPTION" default:"sf-pipeline-tasks-worker"`
	EmbeddingTopic         string `envconfig:"STUDIOFLOW_PUBSUB_EMBEDDING_TOPIC" default:"sf-embedding-jobs"`
	EmbeddingSubscription  string `envconfig:"STUDIOFLOW_PUBSUB_EMBEDDING_SUBSCRIPTION" default:"sf-embedding-jobs-worker"`
	MaxOutstandingMessages int    `envconfig:"STUDIOFLOW_PUBSUB_MAX_OUTSTANDING" default:"4"`
	// MaxExtension must cover every attempt and backoff of the longest stage
	// (merge: 3 x 3h + 15m); the worker refuses to start below that.
	MaxExtension time.Duration `envconfig:"STUDIOFLOW_PUBSUB_MAX_EXTENSION" default:"10h"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"STUDIOFLOW_BIGQUERY_DATASET" default:"studioflow"`
	StepEventsTable string `envconfig:"STUDIOFLOW_BIGQUERY_STEP_EVENTS_TABLE" default:"pipeline_step_events"`
}

type GeminiConfig struct {
	APIKey string `envconfig:"STUDIOFLOW_GEMINI_API_KEY"`
}

// EmbeddingConfig selects and tunes the embedding strategy.
type EmbeddingConfig struct {
	Backend            string        `envconfig:"STUDIOFLOW_EMBEDDING_BACKEND" default:"gemini_column"`
	Model              string        `envconfig:"STUDIOFLOW_EMBEDDING_MODEL" default:"text-embedding-004"`
	TargetDimension    int           `envconfig:"STUDIOFLOW_EMBEDDING_DIMENSION" default:"1536"`
	LocalServerURL     string        `envconfig:"STUDIOFLOW_EMBEDDING_LOCAL_URL" default:"http://localhost:11434"`
	LocalModel         string        `envconfig:"STUDIOFLOW_EMBEDDING_LOCAL_MODEL" default:"nomic-embed-text"`
	MaxRetries         int           `envconfig:"STUDIOFLOW_EMBEDDING_MAX_RETRIES" default:"4"`
	RetryBaseDelay     time.Duration `envconfig:"STUDIOFLOW_EMBEDDING_RETRY_BASE_DELAY" default:"2s"`
	RetryMaxDelay      time.Duration `envconfig:"STUDIOFLOW_EMBEDDING_RETRY_MAX_DELAY" default:"30s"`
	RequestTimeout     time.Duration `envconfig:"STUDIOFLOW_EMBEDDING_REQUEST_TIMEOUT" default:"30s"`
	RateLimitPerMinute int64         `envconfig:"STUDIOFLOW_EMBEDDING_RATE_LIMIT_PER_MINUTE" default:"120"`
}

func (e EmbeddingConfig) validate() error {
	switch e.Backend {
	case EmbeddingBackendGeminiIndex, EmbeddingBackendGeminiColumn, EmbeddingBackendLocalServer:
	default:
		return fmt.Errorf("unknown embedding backend %q", e.Backend)
	}
	if e.TargetDimension <= 0 {
		return fmt.Errorf("%s must be positive", EnvEmbeddingDimension)
	}
	return nil
}

// VectorIndexConfig configures the managed external vector index.
type VectorIndexConfig struct {
	Host      string `envconfig:"STUDIOFLOW_VECTOR_INDEX_HOST"`
	APIKey    string `envconfig:"STUDIOFLOW_VECTOR_INDEX_API_KEY"`
	Namespace string `envconfig:"STUDIOFLOW_VECTOR_INDEX_NAMESPACE" default:"media"`
}

type VisionConfig struct {
	Model              string `envconfig:"STUDIOFLOW_VISION_MODEL" default:"gemini-1.5-flash"`
	CondenseThreshold  int    `envconfig:"STUDIOFLOW_VISION_CONDENSE_THRESHOLD" default:"1200"`
	MaxImageBytes      int    `envconfig:"STUDIOFLOW_VISION_MAX_IMAGE_BYTES" default:"8388608"`
	FrameSampleOffsets string `envconfig:"STUDIOFLOW_VISION_FRAME_OFFSETS" default:"0.1,0.5,0.9"`
}

type SearchConfig struct {
	MinQueryLength      int     `envconfig:"STUDIOFLOW_SEARCH_MIN_QUERY_LENGTH" default:"3"`
	DefaultThreshold    float64 `envconfig:"STUDIOFLOW_SEARCH_DEFAULT_THRESHOLD" default:"0.3"`
	DefaultMaxResults   int     `envconfig:"STUDIOFLOW_SEARCH_DEFAULT_MAX_RESULTS" default:"20"`
	CandidateMultiplier int     `envconfig:"STUDIOFLOW_SEARCH_CANDIDATE_MULTIPLIER" default:"3"`
}

type PipelineConfig struct {
	WorkDir     string        `envconfig:"STUDIOFLOW_PIPELINE_WORK_DIR" default:"/tmp/studioflow"`
	FFmpegPath  string        `envconfig:"STUDIOFLOW_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath string        `envconfig:"STUDIOFLOW_FFPROBE_PATH" default:"ffprobe"`
	MergeLock   time.Duration `envconfig:"STUDIOFLOW_PIPELINE_MERGE_LOCK_TTL" default:"3h"`
	VideoCRF    int           `envconfig:"STUDIOFLOW_PIPELINE_VIDEO_CRF" default:"23"`
	VideoPreset string        `envconfig:"STUDIOFLOW_PIPELINE_VIDEO_PRESET" default:"medium"`
	// BackoffScale shrinks stage retry backoff; 1 in production.
	BackoffScale float64 `envconfig:"STUDIOFLOW_PIPELINE_BACKOFF_SCALE" default:"1"`
}

type TranscriptionConfig struct {
	APIKey       string        `envconfig:"STUDIOFLOW_TRANSCRIPTION_API_KEY"`
	BaseURL      string        `envconfig:"STUDIOFLOW_TRANSCRIPTION_BASE_URL" default:"https://api.assemblyai.com/v2"`
	PollInterval time.Duration `envconfig:"STUDIOFLOW_TRANSCRIPTION_POLL_INTERVAL" default:"5s"`
}

type BackfillConfig struct {
	BatchSize  int `envconfig:"STUDIOFLOW_BACKFILL_BATCH_SIZE" default:"25"`
	MaxBatches int `envconfig:"STUDIOFLOW_BACKFILL_MAX_BATCHES" default:"200"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"STUDIOFLOW_CRON_INTERVAL" default:"1h"`
	WorkDirRetention  time.Duration `envconfig:"STUDIOFLOW_CRON_WORKDIR_RETENTION" default:"72h"`
	BackfillSweepSize int           `envconfig:"STUDIOFLOW_CRON_BACKFILL_SWEEP_ORGS" default:"50"`
	JobTimeout        time.Duration `envconfig:"STUDIOFLOW_CRON_JOB_TIMEOUT" default:"30m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
