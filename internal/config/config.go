package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingSalt is returned when no identifier salt is configured.
var ErrMissingSalt = errors.New("identity salt is required")

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Display  DisplayConfig  `yaml:"display"`
	Database DatabaseConfig `yaml:"database"`
	Identity IdentityConfig `yaml:"identity"`
	Camera   CameraConfig   `yaml:"camera"`
	Capture  CaptureConfig  `yaml:"capture"`
	Vision   VisionConfig   `yaml:"vision"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	APIKey           string   `yaml:"api_key"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// Addr returns the listen address for the display service.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DisplayConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	AdTemplate     string        `yaml:"ad_template"`
	TemplateSource string        `yaml:"template_source"` // file, minio
	TemplateTTL    time.Duration `yaml:"template_ttl"`
	Offer          string        `yaml:"offer"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, postgres
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	Echo     bool   `yaml:"echo"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type IdentityConfig struct {
	Salt      string `yaml:"salt"`
	Precision int    `yaml:"precision"`
	Algorithm string `yaml:"algorithm"` // hmac-sha256, blake2b
}

type CameraConfig struct {
	Device     string `yaml:"device"`
	Format     string `yaml:"format"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FPS        int    `yaml:"fps"`
	MaxRetries int    `yaml:"max_retries"`
}

type CaptureConfig struct {
	Cooldown    time.Duration `yaml:"cooldown"`
	MetricsPort int           `yaml:"metrics_port"`
}

type VisionConfig struct {
	Backend            string  `yaml:"backend"` // onnx, dlib
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	MinFaceSize        int     `yaml:"min_face_size"` // pixels
	ONNXLibrary        string  `yaml:"onnx_library"`
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

// Enabled reports whether an object store is configured.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file, a .env file in the working directory and
// environment variable overrides. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings both processes depend on.
func (c *Config) Validate() error {
	if c.Identity.Salt == "" {
		return ErrMissingSalt
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Display.TemplateSource {
	case "file":
	case "minio":
		if !c.MinIO.Enabled() {
			return fmt.Errorf("template_source minio requires minio endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown template source %q", c.Display.TemplateSource)
	}
	if c.Identity.Precision < 0 || c.Identity.Precision > 6 {
		return fmt.Errorf("identity precision must be between 0 and 6, got %d", c.Identity.Precision)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Display.PollInterval == 0 {
		cfg.Display.PollInterval = 1500 * time.Millisecond
	}
	if cfg.Display.AdTemplate == "" {
		cfg.Display.AdTemplate = "./templates/ad.html"
	}
	if cfg.Display.TemplateSource == "" {
		cfg.Display.TemplateSource = "file"
	}
	if cfg.Display.TemplateTTL == 0 {
		cfg.Display.TemplateTTL = 30 * time.Second
	}
	if cfg.Display.Offer == "" {
		cfg.Display.Offer = "10% off"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "./data/app.db"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 5
	}
	if cfg.Identity.Precision == 0 {
		cfg.Identity.Precision = 3
	}
	if cfg.Identity.Algorithm == "" {
		cfg.Identity.Algorithm = "hmac-sha256"
	}
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 5
	}
	if cfg.Camera.MaxRetries == 0 {
		cfg.Camera.MaxRetries = 3
	}
	if cfg.Capture.Cooldown == 0 {
		cfg.Capture.Cooldown = 3 * time.Second
	}
	if cfg.Capture.MetricsPort == 0 {
		cfg.Capture.MetricsPort = 8082
	}
	if cfg.Vision.Backend == "" {
		cfg.Vision.Backend = "onnx"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "./models"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 40
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEADS_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FACEADS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEADS_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEADS_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.Server.CORSAllowOrigins = splitList(v)
	}
	if v := os.Getenv("FACEADS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Display.PollInterval = d
		}
	}
	if v := os.Getenv("FACEADS_AD_TEMPLATE"); v != "" {
		cfg.Display.AdTemplate = v
	}
	if v := os.Getenv("FACEADS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FACEADS_SQLITE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FACEADS_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEADS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEADS_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEADS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEADS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEADS_DB_ECHO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.Echo = b
		}
	}
	if v := os.Getenv("FACEADS_ID_HASH_SALT"); v != "" {
		cfg.Identity.Salt = v
	}
	if v := os.Getenv("FACEADS_CAMERA_DEVICE"); v != "" {
		cfg.Camera.Device = v
	}
	if v := os.Getenv("FACEADS_FRAME_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Camera.Width = n
		}
	}
	if v := os.Getenv("FACEADS_FRAME_HEIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Camera.Height = n
		}
	}
	if v := os.Getenv("FACEADS_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Capture.Cooldown = d
		}
	}
	if v := os.Getenv("FACEADS_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEADS_VISION_BACKEND"); v != "" {
		cfg.Vision.Backend = v
	}
	if v := os.Getenv("FACEADS_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEADS_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEADS_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEADS_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEADS_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEADS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
