// pkg/dns/cloudflare.go
//
// Optional DNS collaborator. When a Cloudflare zone is configured the
// engine can create the A record itself instead of waiting for the
// operator to do it; either way issuance still gates on observed
// propagation, never on the API call succeeding.

package dns

import (
	"context"

	cf "github.com/cloudflare/cloudflare-go"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// recordTTL is short so a re-deploy to a new host propagates quickly.
const recordTTL = 120

// Config holds the Cloudflare zone credentials. Enabled false turns the
// collaborator into a no-op.
type Config struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
	ZoneID   string `mapstructure:"zone_id" yaml:"zone_id"`
}

// Client manages A records in one zone.
type Client struct {
	api    *cf.API
	config Config
}

// NewClient initializes the API client. With Enabled false no token is
// required and every call is a logged no-op.
func NewClient(config Config) (*Client, error) {
	if !config.Enabled {
		return &Client{config: config}, nil
	}
	api, err := cf.NewWithAPIToken(config.APIToken)
	if err != nil {
		return nil, cerr.Wrap(err, "initialize Cloudflare API client")
	}
	return &Client{api: api, config: config}, nil
}

// EnsureRecord makes the zone's A record for domain point at addr. Existing
// records with the right content are left alone, stale ones are updated.
func (c *Client) EnsureRecord(ctx context.Context, domain, addr string) error {
	logger := otelzap.Ctx(ctx)

	if !c.config.Enabled {
		logger.Info("DNS management disabled, assuming record exists",
			zap.String("domain", domain),
			zap.String("addr", addr))
		return nil
	}

	zone := cf.ZoneIdentifier(c.config.ZoneID)
	records, _, err := c.api.ListDNSRecords(ctx, zone, cf.ListDNSRecordsParams{
		Type: "A",
		Name: domain,
	})
	if err != nil {
		return cerr.Wrapf(err, "list DNS records for %s", domain)
	}

	proxied := false // the ACME HTTP-01 challenge must reach the origin directly
	if len(records) == 0 {
		_, err := c.api.CreateDNSRecord(ctx, zone, cf.CreateDNSRecordParams{
			Type:    "A",
			Name:    domain,
			Content: addr,
			TTL:     recordTTL,
			Proxied: &proxied,
		})
		if err != nil {
			return cerr.Wrapf(err, "create DNS record %s -> %s", domain, addr)
		}
		logger.Info("DNS record created",
			zap.String("domain", domain),
			zap.String("addr", addr))
		return nil
	}

	record := records[0]
	if record.Content == addr && (record.Proxied == nil || !*record.Proxied) {
		logger.Debug("DNS record already correct", zap.String("domain", domain))
		return nil
	}

	_, err = c.api.UpdateDNSRecord(ctx, zone, cf.UpdateDNSRecordParams{
		ID:      record.ID,
		Type:    "A",
		Name:    domain,
		Content: addr,
		TTL:     recordTTL,
		Proxied: &proxied,
	})
	if err != nil {
		return cerr.Wrapf(err, "update DNS record %s -> %s", domain, addr)
	}
	logger.Info("DNS record updated",
		zap.String("domain", domain),
		zap.String("previous", record.Content),
		zap.String("addr", addr))
	return nil
}

// DeleteRecord removes the A record for domain if present.
func (c *Client) DeleteRecord(ctx context.Context, domain string) error {
	if !c.config.Enabled {
		return nil
	}

	zone := cf.ZoneIdentifier(c.config.ZoneID)
	records, _, err := c.api.ListDNSRecords(ctx, zone, cf.ListDNSRecordsParams{
		Type: "A",
		Name: domain,
	})
	if err != nil {
		return cerr.Wrapf(err, "list DNS records for %s", domain)
	}
	for _, record := range records {
		if err := c.api.DeleteDNSRecord(ctx, zone, record.ID); err != nil {
			return cerr.Wrapf(err, "delete DNS record %s", record.ID)
		}
	}
	return nil
}
