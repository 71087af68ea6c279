package config

import (
	"crypto/x509"
	"fmt"
	"time"

	goconf "github.com/kayac/go-config"
	"github.com/pkg/errors"
)

// Limit values
const (
	MaxQueueSize         = 40960 // Maximum queue size.
	MinQueueSize         = 128   // Minimum Queue size.
	MaxRequestSize       = 5000  // Maximum of requset count.
	MinRequestSize       = 1     // Minimum of request size.
	MaxWriteAttemptsMax  = 10    // Maximum of write attempts per frame.
	MinErrorPollInterval = 1     // Minimum error poll interval (msec).
)

const (
	// Default array size of posted data. If not configures at file, this value is set.
	DefaultRequestQueueSize = 2000
	// Default port number of provider server
	DefaultPort = 8003
	// Default supervisor's queue size. If not configures at file, this value is set.
	DefaultQueueSize = 1000
	// DefaultConnectTimeout is the TLS connect timeout (sec).
	DefaultConnectTimeout = 60
	// DefaultMaxWriteAttempts is the number of attempts to write one frame.
	DefaultMaxWriteAttempts = 2
	// DefaultErrorPollWindow is how long to wait for an error record after a batch (msec).
	DefaultErrorPollWindow = 1000
	// DefaultErrorPollInterval is the sleep between two error polls (msec).
	DefaultErrorPollInterval = 50
	// DefaultTrackingKey is the redis list receiving tracking tokens.
	DefaultTrackingKey = "binfish:sent"
)

// Config is the configure of a binary APNs provider server
type Config struct {
	Apns     SectionApns     `toml:"apns"`
	Provider SectionProvider `toml:"provider"`
	Tracking SectionTracking `toml:"tracking"`
}

// SectionProvider is Binfish provider configuration
type SectionProvider struct {
	QueueSize        int `toml:"queue_size"`
	RequestQueueSize int `toml:"max_request_size"`
	Port             int `toml:"port"`
	DebugPort        int
	MaxConnections   int    `toml:"max_connections"`
	ErrorHook        string `toml:"error_hook"`
}

// SectionApns is the gateway configuration which is loaded from binfish.toml
type SectionApns struct {
	Host              string `toml:"host"`
	CertFile          string `toml:"cert_file"`
	KeyFile           string `toml:"key_file"`
	Passphrase        string `toml:"passphrase"`
	RootCertFile      string `toml:"root_cert_file"`
	Sandbox           bool   `toml:"sandbox"`
	ConnectTimeout    int    `toml:"connect_timeout"`
	MaxWriteAttempts  int    `toml:"max_write_attempts"`
	ErrorPollWindow   int    `toml:"error_poll_window"`
	ErrorPollInterval int    `toml:"error_poll_interval"`
	SkipValidation    bool   `toml:"skip_validation"`
	SkipInsecure      bool   `toml:"skip_insecure"`

	CertificateNotAfter time.Time
}

// SectionTracking configures where tracking tokens of sent notifications go.
type SectionTracking struct {
	RedisURL string `toml:"redis_url"`
	Key      string `toml:"key"`
}

// ConnectTimeoutDuration returns the connect timeout as a time.Duration.
func (s SectionApns) ConnectTimeoutDuration() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// ErrorPollWindowDuration returns the error poll window as a time.Duration.
func (s SectionApns) ErrorPollWindowDuration() time.Duration {
	return time.Duration(s.ErrorPollWindow) * time.Millisecond
}

// ErrorPollIntervalDuration returns the error poll interval as a time.Duration.
func (s SectionApns) ErrorPollIntervalDuration() time.Duration {
	return time.Duration(s.ErrorPollInterval) * time.Millisecond
}

// SetDefaults fills zero values with their defaults.
func (s *SectionApns) SetDefaults() {
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.MaxWriteAttempts == 0 {
		s.MaxWriteAttempts = DefaultMaxWriteAttempts
	}
	if s.ErrorPollWindow == 0 {
		s.ErrorPollWindow = DefaultErrorPollWindow
	}
	if s.ErrorPollInterval == 0 {
		s.ErrorPollInterval = DefaultErrorPollInterval
	}
}

// DefaultLoadConfig loads default /etc/binfish/binfish.toml
func DefaultLoadConfig() (Config, error) {
	return LoadConfig("/etc/binfish/binfish.toml")
}

// LoadConfig reads binfish.toml and loads on Config struct
func LoadConfig(fn string) (Config, error) {
	var config Config

	if err := goconf.LoadWithEnvTOML(&config, fn); err != nil {
		return config, err
	}

	// if not set parameters, set default value.
	if config.Provider.RequestQueueSize == 0 {
		config.Provider.RequestQueueSize = DefaultRequestQueueSize
	}

	if config.Provider.QueueSize == 0 {
		config.Provider.QueueSize = DefaultQueueSize
	}

	if config.Provider.Port == 0 {
		config.Provider.Port = DefaultPort
	}

	config.Apns.SetDefaults()

	if config.Tracking.RedisURL != "" && config.Tracking.Key == "" {
		config.Tracking.Key = DefaultTrackingKey
	}

	// validates config parameters
	if err := (&config).validateConfig(); err != nil {
		return config, errors.Wrap(err, "validate config failed")
	}

	return config, nil
}

func (c *Config) validateConfig() error {
	if err := c.validateConfigProvider(); err != nil {
		return errors.Wrap(err, "[provider]")
	}
	if err := c.validateConfigAPNs(); err != nil {
		return errors.Wrap(err, "[apns]")
	}
	return nil
}

func (c *Config) validateConfigProvider() error {
	if c.Provider.RequestQueueSize < MinRequestSize || c.Provider.RequestQueueSize > MaxRequestSize {
		return fmt.Errorf("MaxRequestSize was out of available range: %d. (%d-%d)", c.Provider.RequestQueueSize,
			MinRequestSize, MaxRequestSize)
	}

	if c.Provider.QueueSize < MinQueueSize || c.Provider.QueueSize > MaxQueueSize {
		return fmt.Errorf("QueueSize was out of available range: %d. (%d-%d)", c.Provider.QueueSize,
			MinQueueSize, MaxQueueSize)
	}

	return nil
}

func (c *Config) validateConfigAPNs() error {
	if c.Apns.CertFile == "" {
		return fmt.Errorf("Not specified a cert file.")
	}

	if c.Apns.MaxWriteAttempts < 1 || c.Apns.MaxWriteAttempts > MaxWriteAttemptsMax {
		return fmt.Errorf("MaxWriteAttempts was out of available range: %d. (1-%d)", c.Apns.MaxWriteAttempts,
			MaxWriteAttemptsMax)
	}

	if c.Apns.ErrorPollInterval < MinErrorPollInterval || c.Apns.ErrorPollInterval > c.Apns.ErrorPollWindow {
		return fmt.Errorf("ErrorPollInterval was out of available range: %d. (%d-%d)", c.Apns.ErrorPollInterval,
			MinErrorPollInterval, c.Apns.ErrorPollWindow)
	}

	// check certificate files and expiration
	cert, err := LoadCertificate(c.Apns.CertFile, c.Apns.KeyFile, c.Apns.Passphrase)
	if err != nil {
		return errors.Wrap(err, "Invalid certificate for APNs")
	}
	now := time.Now()
	for _, _ct := range cert.Certificate {
		ct, err := x509.ParseCertificate(_ct)
		if err != nil {
			return fmt.Errorf("Cannot parse X509 certificate")
		}
		if now.Before(ct.NotBefore) || now.After(ct.NotAfter) {
			return fmt.Errorf("Certificate is expired. Subject: %s, NotBefore: %s, NotAfter: %s", ct.Subject, ct.NotBefore, ct.NotAfter)
		}
		if c.Apns.CertificateNotAfter.IsZero() || ct.NotAfter.Before(c.Apns.CertificateNotAfter) {
			// hold minimum not after
			c.Apns.CertificateNotAfter = ct.NotAfter
		}
	}

	if c.Apns.RootCertFile != "" {
		if _, err := LoadRootCAs(c.Apns.RootCertFile); err != nil {
			return err
		}
	}
	return nil
}
