// Package config loads the server configuration from DEBRIEF_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "DEBRIEF_"

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	DBPath    string `env:"DB_PATH" envDefault:"debrief.db"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	BaseURL   string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// SessionSecret signs the session cookie.
	SessionSecret string `env:"SESSION_SECRET"`

	Listener   Listener `envPrefix:"LISTENER_"`
	Transcribe Transcribe
	Push       Push `envPrefix:"VAPID_"`
	Jobs       Jobs `envPrefix:"JOB_"`
	Storage    Storage

	// InternalCIDRs are the networks allowed to reach the catch-up API and
	// metrics, matched against the TCP peer address.
	InternalCIDRs []string `env:"INTERNAL_CIDRS" envSeparator:"," envDefault:"127.0.0.0/8,::1/128,172.16.0.0/12"`

	// TrustedProxies are the peers whose X-Forwarded-For is honored when
	// resolving the client address.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," envDefault:"127.0.0.0/8,::1/128,172.16.0.0/12"`
}

// Listener is the local process that receives finished transcripts.
type Listener struct {
	URL            string        `env:"URL" envDefault:"http://host.docker.internal:9999/notify"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"2s"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
}

type Transcribe struct {
	APIKey   string        `env:"GROQ_API_KEY"`
	BaseURL  string        `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com"`
	Model    string        `env:"TRANSCRIBE_MODEL" envDefault:"whisper-large-v3"`
	Language string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`
	Timeout  time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"120s"`
}

// Push holds the VAPID key pair. Push delivery is disabled when either key
// is empty.
type Push struct {
	PublicKey  string `env:"PUBLIC_KEY"`
	PrivateKey string `env:"PRIVATE_KEY"`
	Subject    string `env:"SUBJECT" envDefault:"mailto:admin@example.com"`
}

func (p Push) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

type Jobs struct {
	Workers     int           `env:"WORKERS" envDefault:"2"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	Backoff     time.Duration `env:"BACKOFF" envDefault:"2s"`
	QueueSize   int           `env:"QUEUE_SIZE" envDefault:"100"`
}

// Storage selects the blob backend. S3 is used when S3Bucket is set,
// otherwise blobs are written under Dir.
type Storage struct {
	Dir         string `env:"STORAGE_DIR" envDefault:"storage"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	// BackupPassphrase encrypts database snapshots written by `debrief backup`.
	BackupPassphrase string `env:"BACKUP_PASSPHRASE"`
}

func (s Storage) UseS3() bool {
	return s.S3Bucket != ""
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom parses the given environment map instead of the process
// environment when environ is non-nil.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 characters"))
	}
	if u, err := url.Parse(c.Listener.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("LISTENER_URL %q is not an absolute URL", c.Listener.URL))
	}
	if c.Listener.ConnectTimeout <= 0 || c.Listener.ReadTimeout <= 0 {
		errs = append(errs, errors.New("listener timeouts must be positive"))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("JOB_WORKERS must be at least 1"))
	}
	if c.Jobs.MaxAttempts < 1 {
		errs = append(errs, errors.New("JOB_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Jobs.QueueSize < 1 {
		errs = append(errs, errors.New("JOB_QUEUE_SIZE must be at least 1"))
	}
	if _, err := c.Networks(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ProxyNetworks(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	if (c.Push.PublicKey == "") != (c.Push.PrivateKey == "") {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together"))
	}

	return errors.Join(errs...)
}

// Networks parses InternalCIDRs.
func (c *Config) Networks() ([]*net.IPNet, error) {
	return parseCIDRs("INTERNAL_CIDRS", c.InternalCIDRs)
}

// ProxyNetworks parses TrustedProxies.
func (c *Config) ProxyNetworks() ([]*net.IPNet, error) {
	return parseCIDRs("TRUSTED_PROXIES", c.TrustedProxies)
}

func parseCIDRs(name string, cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
