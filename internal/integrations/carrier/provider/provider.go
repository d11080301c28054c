// Package provider builds the carrier adapter selected in config. It is
// constructed once per process and injected everywhere it is needed.
package provider

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/breaker"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/gatewayv1"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/simulated"
)

const (
	Simulated = "simulated"
	Gateway   = "gateway"
)

func New(cfg config.CarrierConfig, webhookTolerance time.Duration) (carrier.Client, error) {
	if cfg.WebhookSecret == "" {
		slog.Warn("carrier webhook secret is not configured, webhook signatures will not be verified",
			"provider", cfg.Provider)
	}

	var c carrier.Client
	switch cfg.Provider {
	case "", Simulated:
		c = simulated.New(time.Duration(cfg.SimulatedStepSeconds)*time.Second, cfg.WebhookSecret).
			AllowMissingTimestamp(cfg.WebhookAllowMissingTimestamp)
	case Gateway:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("carrier base_url is required for provider %q", Gateway)
		}
		v := carrier.NewSignatureVerifier(cfg.WebhookSecret, webhookTolerance).
			AllowMissingTimestamp(cfg.WebhookAllowMissingTimestamp)
		c = gatewayv1.New(cfg.BaseURL, cfg.APIKey, v)
	default:
		return nil, fmt.Errorf("unknown carrier provider %q", cfg.Provider)
	}

	if cfg.BreakerEnabled {
		st := breaker.DefaultSettings()
		if cfg.BreakerTimeoutSeconds > 0 {
			st.Timeout = time.Duration(cfg.BreakerTimeoutSeconds) * time.Second
		}
		c = breaker.Wrap(c, st)
	}
	return c, nil
}
