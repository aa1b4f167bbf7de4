package factory

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/config"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/probe"
	target_proxy "github.com/hasirciogluhq/xrelay/cmd/proxy/internal/proxy/target"
)

// ProxyFactory creates the TARGET connection handler
type ProxyFactory struct {
	cfg *config.Config
	log *slog.Logger
}

// NewProxyFactory creates a new proxy factory
func NewProxyFactory(cfg *config.Config, log *slog.Logger) *ProxyFactory {
	return &ProxyFactory{cfg: cfg, log: log}
}

// Create builds the handler. The probe path is wired in only when enabled,
// so one server serves both variants.
func (f *ProxyFactory) Create() *target_proxy.TargetProxy {
	p := &target_proxy.TargetProxy{
		Parser: &target_proxy.Parser{
			MaxHeaderBytes: f.cfg.MaxHeaderBytes,
		},
		Engine: &target_proxy.Engine{
			Dialer:         &net.Dialer{},
			ConnectTimeout: f.cfg.ConnectTimeout,
			IdleTimeout:    f.cfg.IdleTimeout,
			BufferSize:     f.cfg.BufferSize,
		},
		HandshakeTimeout: f.cfg.HandshakeTimeout,
	}

	if f.cfg.ProbeEnabled {
		f.log.Info("Probe path enabled", "path", f.cfg.ProbePath, "lookup_url", f.cfg.ProbeLookupURL)
		p.Parser.ProbePrefix = probe.RequestPrefix(f.cfg.ProbePath)
		p.Probe = &probe.Responder{
			Lookup: &probe.HTTPLookup{
				Client: &http.Client{Timeout: f.cfg.ProbeLookupTimeout},
				URL:    f.cfg.ProbeLookupURL,
			},
			Timeout: f.cfg.ProbeLookupTimeout,
		}
	}

	return p
}
