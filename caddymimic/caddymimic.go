// Package caddymimic registers the mimic interception middleware as a Caddy HTTP handler.
//
//	mimic [<storage_dir>] {
//		storage_dir     <path>
//		storage_backend file|sqlite
//		forward_timeout <duration>
//	}
package caddymimic

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/tfkr-ae/mimic/intercept"
	"github.com/tfkr-ae/mimic/service"
)

func init() {
	caddy.RegisterModule(Mimic{})
	httpcaddyfile.RegisterHandlerDirective("mimic", parseCaddyfile)
}

// services shares one MappingService per storage location between handler instances
// and across config reloads.
var services = caddy.NewUsagePool()

type sharedService struct {
	service *service.MappingService
	close   func() error
}

func (s *sharedService) Destruct() error {
	return s.close()
}

// Mimic serves mapping content, forwards to concrete mapping URLs and hands every
// other request to the next handler.
type Mimic struct {
	StorageDir     string         `json:"storage_dir,omitempty"`
	StorageBackend string         `json:"storage_backend,omitempty"`
	ForwardTimeout caddy.Duration `json:"forward_timeout,omitempty"`

	poolKey string
	engine  *intercept.Engine
	handler *intercept.Handler
	logger  *slog.Logger
}

// CaddyModule returns the Caddy module information.
func (Mimic) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.mimic",
		New: func() caddy.Module { return new(Mimic) },
	}
}

// Provision implements caddy.Provisioner.
func (m *Mimic) Provision(ctx caddy.Context) error {
	m.logger = ctx.Slogger()
	if m.StorageBackend == "" {
		m.StorageBackend = service.BackendFile
	}
	if m.ForwardTimeout == 0 {
		m.ForwardTimeout = caddy.Duration(intercept.DefaultForwardTimeout)
	}
	if m.StorageDir == "" {
		m.StorageDir = filepath.Join(caddy.AppDataDir(), "mimic")
	}

	m.poolKey = m.StorageBackend + ":" + m.StorageDir
	value, _, err := services.LoadOrNew(m.poolKey, func() (caddy.Destructor, error) {
		mappings, closeFn, err := service.Open(m.StorageDir, m.StorageBackend, m.logger)
		if err != nil {
			return nil, err
		}
		return &sharedService{service: mappings, close: closeFn}, nil
	})
	if err != nil {
		return fmt.Errorf("opening mapping storage : %w", err)
	}

	m.engine, err = intercept.NewEngine(value.(*sharedService).service, intercept.WithEngineLogger(m.logger))
	if err != nil {
		return err
	}
	m.handler, err = intercept.NewHandler(m.engine,
		intercept.WithForwardTimeout(time.Duration(m.ForwardTimeout)),
		intercept.WithHandlerLogger(m.logger),
	)
	return err
}

// Validate implements caddy.Validator.
func (m *Mimic) Validate() error {
	switch m.StorageBackend {
	case service.BackendFile, service.BackendSQLite:
	default:
		return fmt.Errorf("invalid storage backend %q", m.StorageBackend)
	}
	if m.ForwardTimeout < 0 {
		return fmt.Errorf("invalid forward timeout %s", time.Duration(m.ForwardTimeout))
	}
	return nil
}

// Cleanup implements caddy.CleanerUpper.
func (m *Mimic) Cleanup() error {
	if m.poolKey == "" {
		return nil
	}
	_, err := services.Delete(m.poolKey)
	return err
}

// ServeHTTP implements caddyhttp.MiddlewareHandler.
func (m *Mimic) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	target := intercept.TargetURL(r)
	decision := m.engine.Decide(target)

	switch decision.Action {
	case intercept.Serve:
		m.logger.Debug("returning mimicked content", "target", target, "id", decision.Mapping.ID)
		return intercept.WriteMimicked(intercept.TrackHeaders(w), decision.Mapping, nil)
	case intercept.Forward:
		// Unmatched requests continue down the route, a matched mapping pins its own URL.
		if decision.Mapping != nil {
			m.handler.Forward(w, r, decision.Target)
			return nil
		}
	}
	return next.ServeHTTP(w, r)
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	var m Mimic
	err := m.UnmarshalCaddyfile(h.Dispenser)
	return &m, err
}

// UnmarshalCaddyfile implements caddyfile.Unmarshaler.
func (m *Mimic) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for d.Next() {
		if d.NextArg() {
			m.StorageDir = d.Val()
		}
		if d.NextArg() {
			return d.ArgErr()
		}

		for d.NextBlock(0) {
			switch d.Val() {
			case "storage_dir":
				if !d.NextArg() {
					return d.ArgErr()
				}
				m.StorageDir = d.Val()

			case "storage_backend":
				if !d.NextArg() {
					return d.ArgErr()
				}
				m.StorageBackend = d.Val()

			case "forward_timeout":
				if !d.NextArg() {
					return d.ArgErr()
				}
				timeout, err := caddy.ParseDuration(d.Val())
				if err != nil {
					return d.Errf("parsing forward_timeout : %v", err)
				}
				m.ForwardTimeout = caddy.Duration(timeout)

			default:
				return d.Errf("unknown subdirective: %s", d.Val())
			}
		}
	}
	return nil
}

var (
	_ caddy.Provisioner           = (*Mimic)(nil)
	_ caddy.Validator             = (*Mimic)(nil)
	_ caddy.CleanerUpper          = (*Mimic)(nil)
	_ caddyhttp.MiddlewareHandler = (*Mimic)(nil)
	_ caddyfile.Unmarshaler       = (*Mimic)(nil)
)
