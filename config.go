package mimic

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"github.com/tfkr-ae/mimic/intercept"
	"github.com/tfkr-ae/mimic/service"
)

// Storage backends.
const (
	BackendFile   = service.BackendFile
	BackendSQLite = service.BackendSQLite
)

// Config is the mimic configuration persisted as config.yaml in the config dir.
type Config struct {
	viper          *viper.Viper
	ConfigDir      string        `mapstructure:"config_dir"`      // Current config dir
	StorageDir     string        `mapstructure:"storage_dir"`     // Directory holding the mapping index and content
	StorageBackend string        `mapstructure:"storage_backend"` // "file" or "sqlite"
	ProxyAddress   string        `mapstructure:"proxy_address"`
	ProxyPort      string        `mapstructure:"proxy_port"`
	APIAddress     string        `mapstructure:"api_address"`
	APIPort        string        `mapstructure:"api_port"`
	ForwardTimeout time.Duration `mapstructure:"forward_timeout"` // Upper bound for one upstream exchange
	LogLevel       string        `mapstructure:"log_level"`       // debug, info, warn or error
	LogFormat      string        `mapstructure:"log_format"`      // text or json
	ChromePaths    []string      `mapstructure:"chrome_paths"`    // Extra Chrome executables tried before the defaults
}

// LoadConfig reads config.yaml from configDir, writing it with defaults when it does not exist yet.
// Values already set on v (for example bound CLI flags) take precedence over the file.
func LoadConfig(configDir string, v *viper.Viper) (*Config, error) {
	if configDir == "" {
		return nil, errors.New("config dir is empty")
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("creating config dir %s: %w", configDir, err)
	}
	if v == nil {
		v = viper.New()
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetDefault("storage_dir", filepath.Join(configDir, "mimic"))
	v.SetDefault("storage_backend", BackendFile)
	v.SetDefault("proxy_address", "127.0.0.1")
	v.SetDefault("proxy_port", "8080")
	v.SetDefault("api_address", "127.0.0.1")
	v.SetDefault("api_port", "8081")
	v.SetDefault("forward_timeout", intercept.DefaultForwardTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("chrome_paths", []string{})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file : %w", err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			return nil, fmt.Errorf("writing config file : %w", err)
		}
	}

	config := &Config{viper: v}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshalling config to struct : %w", err)
	}
	config.ConfigDir = configDir

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the values that cannot be defaulted sensibly.
func (cfg *Config) Validate() error {
	switch cfg.StorageBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("invalid storage backend %q", cfg.StorageBackend)
	}
	if cfg.ForwardTimeout <= 0 {
		return fmt.Errorf("invalid forward timeout %s", cfg.ForwardTimeout)
	}
	return nil
}

// AddChromePath registers an extra Chrome executable and saves the configuration.
func (cfg *Config) AddChromePath(path string) error {
	if path == "" {
		return errors.New("chrome path is empty")
	}
	cfg.ChromePaths = append(cfg.ChromePaths, path)
	cfg.viper.Set("chrome_paths", cfg.ChromePaths)
	if err := cfg.viper.WriteConfig(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// getSPKIHash returns the base64 SHA-256 hash of the certificate Subject Public Key Info.
func getSPKIHash(cert *x509.Certificate) string {
	spkiHash := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(spkiHash[:])
}

func saveCertAndKey(cert *x509.Certificate, priv any, configDir string) error {
	certPath := filepath.Join(configDir, certFile)
	keyPath := filepath.Join(configDir, keyFile)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write cert file: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("unable to marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

func loadCertAndKey(configDir string) (*x509.Certificate, any, error) {
	certPEM, err := os.ReadFile(filepath.Join(configDir, certFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read cert file: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, errors.New("failed to decode cert PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(filepath.Join(configDir, keyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, nil, errors.New("failed to decode key PEM block")
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return cert, priv, nil
}
