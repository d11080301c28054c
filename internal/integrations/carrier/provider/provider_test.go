package provider

import (
	"strconv"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/breaker"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/gatewayv1"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/simulated"
	"github.com/stretchr/testify/require"
)

func TestNew_SelectsAdapter(t *testing.T) {
	c, err := New(config.CarrierConfig{Provider: "simulated"}, time.Minute)
	require.NoError(t, err)
	_, ok := c.(*simulated.Client)
	require.True(t, ok)

	c, err = New(config.CarrierConfig{}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, simulated.Name, c.Name())

	c, err = New(config.CarrierConfig{Provider: "gateway", BaseURL: "http://carrier.local", APIKey: "k", WebhookSecret: "s"}, time.Minute)
	require.NoError(t, err)
	_, ok = c.(*gatewayv1.Client)
	require.True(t, ok)
}

func TestNew_BreakerWrapsAdapter(t *testing.T) {
	c, err := New(config.CarrierConfig{Provider: "gateway", BaseURL: "http://carrier.local", BreakerEnabled: true}, time.Minute)
	require.NoError(t, err)
	b, ok := c.(*breaker.Client)
	require.True(t, ok)
	require.Equal(t, gatewayv1.Name, b.Name())
	require.Equal(t, "closed", b.State())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.CarrierConfig{Provider: "gateway"}, time.Minute)
	require.Error(t, err)

	_, err = New(config.CarrierConfig{Provider: "pigeon"}, time.Minute)
	require.Error(t, err)
}

func TestNew_WebhookTimestampPolicy(t *testing.T) {
	body := []byte(`{"type":"tracking.updated"}`)
	bare := carrier.Sign("s", body, "")

	for _, p := range []string{"simulated", "gateway"} {
		strict, err := New(config.CarrierConfig{Provider: p, BaseURL: "http://carrier.local", WebhookSecret: "s"}, time.Minute)
		require.NoError(t, err)
		require.False(t, strict.VerifyWebhookSignature(body, bare, ""), p)

		ts := strconv.FormatInt(time.Now().Unix(), 10)
		require.True(t, strict.VerifyWebhookSignature(body, carrier.Sign("s", body, ts), ts), p)

		legacy, err := New(config.CarrierConfig{
			Provider: p, BaseURL: "http://carrier.local", WebhookSecret: "s", WebhookAllowMissingTimestamp: true,
		}, time.Minute)
		require.NoError(t, err)
		require.True(t, legacy.VerifyWebhookSignature(body, bare, ""), p)
	}
}
