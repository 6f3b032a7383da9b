package config

const EnvPrefix = "STUDIOFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EmbeddingBackendGeminiIndex  = "gemini_index"
	EmbeddingBackendGeminiColumn = "gemini_column"
	EmbeddingBackendLocalServer  = "local_server"
)

const (
	StorageBackendGCS   = "gcs"
	StorageBackendLocal = "local"
)

const (
	EnvAppEnv   = "STUDIOFLOW_APP_ENV"
	EnvPort     = "STUDIOFLOW_APP_PORT"
	EnvLogLevel = "STUDIOFLOW_LOG_LEVEL"

	EnvDBDSN  = "STUDIOFLOW_DB_DSN"
	EnvDBHost = "STUDIOFLOW_DB_HOST"
	EnvDBUser = "STUDIOFLOW_DB_USER"
	EnvDBName = "STUDIOFLOW_DB_NAME"

	EnvRedisURL     = "STUDIOFLOW_REDIS_URL"
	EnvGCPProjectID = "STUDIOFLOW_GCP_PROJECT_ID"
	EnvGCSBucket    = "STUDIOFLOW_GCS_BUCKET_NAME"

	EnvPubSubPipelineTopic = "STUDIOFLOW_PUBSUB_PIPELINE_TOPIC"
	EnvPubSubPipelineSub   = "STUDIOFLOW_PUBSUB_PIPELINE_SUBSCRIPTION"

	EnvEmbeddingBackend   = "STUDIOFLOW_EMBEDDING_BACKEND"
	EnvEmbeddingDimension = "STUDIOFLOW_EMBEDDING_DIMENSION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
