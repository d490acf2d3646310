package netaccess

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wireline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Gateway toggles a customer's network access on the provisioning
// system. Calls happen after the owning transaction commits; a failure
// is logged and retried by the scheduler, never rolled back into
// billing state.
type Gateway interface {
	Disable(ctx context.Context, customerID snowflake.ID) error
	Enable(ctx context.Context, customerID snowflake.ID) error
}

type httpGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) Gateway {
	return &httpGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *httpGateway) Disable(ctx context.Context, customerID snowflake.ID) error {
	return g.post(ctx, fmt.Sprintf("%s/v1/access/%s/disable", g.baseURL, customerID))
}

func (g *httpGateway) Enable(ctx context.Context, customerID snowflake.ID) error {
	return g.post(ctx, fmt.Sprintf("%s/v1/access/%s/enable", g.baseURL, customerID))
}

func (g *httpGateway) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("network access toggle failed: %s returned %d", url, resp.StatusCode)
	}
	return nil
}

type noopGateway struct {
	log *zap.Logger
}

func (g *noopGateway) Disable(ctx context.Context, customerID snowflake.ID) error {
	g.log.Info("netaccess.disable_noop", zap.String("customer_id", customerID.String()))
	return nil
}

func (g *noopGateway) Enable(ctx context.Context, customerID snowflake.ID) error {
	g.log.Info("netaccess.enable_noop", zap.String("customer_id", customerID.String()))
	return nil
}

func NewFromConfig(cfg config.Config, log *zap.Logger) Gateway {
	if cfg.NetworkAccessBaseURL == "" {
		return &noopGateway{log: log.Named("netaccess")}
	}
	return NewHTTPGateway(cfg.NetworkAccessBaseURL, time.Duration(cfg.NetworkAccessTimeout)*time.Second)
}

var Module = fx.Module("netaccess",
	fx.Provide(NewFromConfig),
)
