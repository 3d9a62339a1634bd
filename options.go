package mimic

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/martian/mitm"
	"github.com/spf13/viper"
	"github.com/tfkr-ae/mimic/intercept"
)

// WithOptions applies a series of configuration functions to the proxy instance.
// It returns the first error encountered.
func (proxy *Proxy) WithOptions(options ...func(*Proxy) error) error {
	for _, option := range options {
		err := option(proxy)
		if err != nil {
			return fmt.Errorf("applying option on mimic : %w", err)
		}
	}
	return nil
}

// WithLogger sets the proxy logger. A nil logger keeps the discarding default.
func WithLogger(logger *slog.Logger) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if logger != nil {
			proxy.Logger = logger
		}
		return nil
	}
}

// WithConfigDir loads (or creates) config.yaml in appConfigDir into proxy.Config.
// Values already set on v, such as bound CLI flags, take precedence. A nil v uses a fresh viper instance.
func WithConfigDir(appConfigDir string, v *viper.Viper) func(*Proxy) error {
	return func(proxy *Proxy) error {
		config, err := LoadConfig(appConfigDir, v)
		if err != nil {
			return err
		}
		return WithConfig(config)(proxy)
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(config *Config) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if config == nil || config.ConfigDir == "" {
			return errors.New("config is not loaded")
		}
		proxy.ConfigDir = config.ConfigDir
		proxy.Config = config
		if config.ForwardTimeout > 0 {
			proxy.ForwardTimeout = config.ForwardTimeout
		}
		return nil
	}
}

// WithEngine sets the decision engine consulted by MimicRequestModifier.
func WithEngine(engine *intercept.Engine) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if engine == nil {
			return errors.New("engine is nil")
		}
		proxy.Engine = engine
		return nil
	}
}

// WithForwardTimeout bounds every upstream exchange. Non-positive durations are rejected.
func WithForwardTimeout(timeout time.Duration) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid forward timeout %s", timeout)
		}
		proxy.ForwardTimeout = timeout
		return nil
	}
}

// WithDefaultModifiers installs the mimic request and response pipelines and registers the proxy as the martian modifier.
func WithDefaultModifiers() func(*Proxy) error {
	return func(proxy *Proxy) error {
		if proxy.martianProxy == nil {
			return errors.New("proxy has no martianProxy")
		}
		proxy.AddRequestModifier(PreventLoopModifier)
		proxy.AddRequestModifier(SkipConnectRequestModifier)
		proxy.AddRequestModifier(SetupRequestModifier)
		proxy.AddRequestModifier(MimicRequestModifier)

		proxy.AddResponseModifier(ResponseFilterModifier)
		proxy.AddResponseModifier(MimicResponseModifier)

		proxy.martianProxy.SetRequestModifier(proxy)
		proxy.martianProxy.SetResponseModifier(proxy)
		return nil
	}
}

// WithTLS configures the proxy CA from proxy.ConfigDir, creating and saving a new one on first run.
func WithTLS() func(*Proxy) error {
	return func(proxy *Proxy) error {
		if proxy.ConfigDir == "" {
			return errors.New("config dir is not set")
		}

		var x509c *x509.Certificate
		var priv any
		var err error
		certPath := filepath.Join(proxy.ConfigDir, certFile)
		if _, err = os.Stat(certPath); os.IsNotExist(err) {
			proxy.Logger.Info("creating certificate authority", "path", certPath)
			x509c, priv, err = mitm.NewAuthority("Mimic", "Mimic Authority", 365*3*24*time.Hour)
			if err != nil {
				return fmt.Errorf("creating new mitm authority : %w", err)
			}

			if err := saveCertAndKey(x509c, priv, proxy.ConfigDir); err != nil {
				return fmt.Errorf("saving cert and key to disk: %w", err)
			}
		} else {
			proxy.Logger.Debug("loading certificate authority", "path", certPath)
			x509c, priv, err = loadCertAndKey(proxy.ConfigDir)
			if err != nil {
				return fmt.Errorf("loading cert and key from disk: %w", err)
			}
		}

		proxy.SPKIHash = getSPKIHash(x509c)
		proxy.Cert = x509c

		tlsc, err := mitm.NewConfig(x509c, priv)
		if err != nil {
			return fmt.Errorf("creating new mitm config : %w", err)
		}
		proxy.martianProxy.SetMITM(tlsc)
		tlsConfig := tlsc.TLS()

		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return fmt.Errorf("fetching system cert pool : %w", err)
		}
		tlsConfig.RootCAs = systemPool
		tlsConfig.RootCAs.AddCert(x509c)
		proxy.TLSConfig = tlsConfig
		return nil
	}
}
