package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Vision     VisionConfig     `yaml:"vision"`
	Matching   MatchingConfig   `yaml:"matching"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	APIKey      string `yaml:"api_key"`
	// MaxUploadMB bounds the multipart body of enrollment and login requests.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps users and
	// templates in process and is meant for local runs.
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectorModel      string  `yaml:"detector_model"`
	EmbedderModel      string  `yaml:"embedder_model"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// Embedder tensor layout. The defaults describe a FaceNet export:
	// 160x160 NHWC input, 128-d output, prewhitened pixels.
	EmbedderInputName  string        `yaml:"embedder_input_name"`
	EmbedderOutputName string        `yaml:"embedder_output_name"`
	EmbedderInputSize  int           `yaml:"embedder_input_size"`
	EmbedderLayout     string        `yaml:"embedder_layout"`
	EmbeddingDim       int           `yaml:"embedding_dim"`
	Normalization      string        `yaml:"normalization"`
	InferenceTimeout   time.Duration `yaml:"inference_timeout"`
	// Degraded enables the synthetic preview generator when the model
	// cannot be loaded. It never affects login.
	Degraded bool `yaml:"degraded"`
}

type MatchingConfig struct {
	Threshold       float64 `yaml:"threshold"`
	DimensionPolicy string  `yaml:"dimension_policy"`
}

type EnrollmentConfig struct {
	MinWidth        int             `yaml:"min_width"`
	MinHeight       int             `yaml:"min_height"`
	MinQuality      float64         `yaml:"min_quality"`
	InterImageDelay time.Duration   `yaml:"inter_image_delay"`
	BatchTTL        time.Duration   `yaml:"batch_ttl"`
	MaxBatchImages  int             `yaml:"max_batch_images"`
	SourceRef       SourceRefConfig `yaml:"source_ref"`
}

type SourceRefConfig struct {
	// Mode is "prefix", "object" or "none".
	Mode         string `yaml:"mode"`
	PrefixLength int    `yaml:"prefix_length"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config data, then applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Matching.DimensionPolicy {
	case "truncate", "strict":
	default:
		return fmt.Errorf("unknown dimension policy %q", c.Matching.DimensionPolicy)
	}
	switch c.Enrollment.SourceRef.Mode {
	case "prefix", "object", "none":
	default:
		return fmt.Errorf("unknown source ref mode %q", c.Enrollment.SourceRef.Mode)
	}
	if c.Enrollment.SourceRef.Mode == "object" && c.MinIO.Endpoint == "" {
		return fmt.Errorf("source ref mode object requires minio.endpoint")
	}
	if c.Matching.Threshold <= 0 {
		return fmt.Errorf("matching threshold must be positive, got %v", c.Matching.Threshold)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "facenet.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EmbedderInputName == "" {
		cfg.Vision.EmbedderInputName = "input"
	}
	if cfg.Vision.EmbedderOutputName == "" {
		cfg.Vision.EmbedderOutputName = "embeddings"
	}
	if cfg.Vision.EmbedderInputSize == 0 {
		cfg.Vision.EmbedderInputSize = 160
	}
	if cfg.Vision.EmbedderLayout == "" {
		cfg.Vision.EmbedderLayout = "nhwc"
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 128
	}
	if cfg.Vision.Normalization == "" {
		cfg.Vision.Normalization = "facenet"
	}
	if cfg.Vision.InferenceTimeout == 0 {
		cfg.Vision.InferenceTimeout = 5 * time.Second
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.6
	}
	if cfg.Matching.DimensionPolicy == "" {
		cfg.Matching.DimensionPolicy = "truncate"
	}
	if cfg.Enrollment.MinWidth == 0 {
		cfg.Enrollment.MinWidth = 300
	}
	if cfg.Enrollment.MinHeight == 0 {
		cfg.Enrollment.MinHeight = 300
	}
	if cfg.Enrollment.MinQuality == 0 {
		cfg.Enrollment.MinQuality = 90
	}
	if cfg.Enrollment.BatchTTL == 0 {
		cfg.Enrollment.BatchTTL = 30 * time.Minute
	}
	if cfg.Enrollment.MaxBatchImages == 0 {
		cfg.Enrollment.MaxBatchImages = 20
	}
	if cfg.Enrollment.SourceRef.Mode == "" {
		cfg.Enrollment.SourceRef.Mode = "prefix"
	}
	if cfg.Enrollment.SourceRef.PrefixLength == 0 {
		cfg.Enrollment.SourceRef.PrefixLength = 100
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "faceid"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEID_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEID_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEID_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FACEID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEID_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FACEID_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FACEID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEID_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEID_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
	if v := os.Getenv("FACEID_SOURCE_REF_MODE"); v != "" {
		cfg.Enrollment.SourceRef.Mode = v
	}
	if v := os.Getenv("FACEID_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("FACEID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
