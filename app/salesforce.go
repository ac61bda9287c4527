package app

import (
	"context"
	"log"

	"example/bulk-upload-api/app/config"
	"example/bulk-upload-api/bulk"
)

// sf is the shared Bulk API client. Tests swap it for one backed by a fake
// endpoint.
var sf *bulk.Client

// MustInitSalesforce builds the shared Bulk API client and fails hard when
// the credentials are unusable.
func MustInitSalesforce() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	c, err := NewSalesforceClient(context.Background(), cfg)
	if err != nil {
		log.Fatalf("salesforce init: %v", err)
	}
	sf = c
	log.Println("Connected to Salesforce")
}

// NewSalesforceClient wraps the configured session when one is present,
// otherwise runs the JWT bearer login.
func NewSalesforceClient(ctx context.Context, cfg *config.Config) (*bulk.Client, error) {
	var c *bulk.Client
	if cfg.Salesforce.AccessToken != "" && cfg.Salesforce.InstanceURL != "" {
		c = bulk.NewClient(cfg.Salesforce.InstanceURL, cfg.Salesforce.AccessToken)
	} else {
		key, err := bulk.LoadPrivateKey(cfg.Salesforce.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		c, err = bulk.NewClientLogin(ctx, bulk.LoginConfig{
			LoginURL:   cfg.Salesforce.LoginURL,
			ClientID:   cfg.Salesforce.ClientID,
			Username:   cfg.Salesforce.Username,
			PrivateKey: key,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Salesforce.APIVersion != "" {
		c.SetAPIVersion(cfg.Salesforce.APIVersion)
	}
	return c, nil
}
