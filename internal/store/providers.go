package store

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Provider describes an S3-compatible service the s3 backend can target.
type Provider struct {
	Name             string
	DefaultEndpoint  string
	DefaultRegion    string
	EndpointTemplate string // fmt template taking the region
	PathStyle        bool
}

// Providers lists the S3-compatible services with known defaults.
var Providers = map[string]Provider{
	"aws": {
		Name:          "AWS S3",
		DefaultRegion: "us-east-1",
	},
	"minio": {
		Name:            "MinIO",
		DefaultEndpoint: "http://localhost:9000",
		DefaultRegion:   "us-east-1",
		PathStyle:       true,
	},
	"garage": {
		Name:            "Garage",
		DefaultEndpoint: "http://localhost:3900",
		DefaultRegion:   "garage",
		PathStyle:       true,
	},
	"wasabi": {
		Name:             "Wasabi",
		DefaultEndpoint:  "https://s3.wasabisys.com",
		DefaultRegion:    "us-east-1",
		EndpointTemplate: "https://s3.%s.wasabisys.com",
	},
	"digitalocean": {
		Name:             "DigitalOcean Spaces",
		DefaultEndpoint:  "https://nyc3.digitaloceanspaces.com",
		DefaultRegion:    "nyc3",
		EndpointTemplate: "https://%s.digitaloceanspaces.com",
	},
	"backblaze": {
		Name:             "Backblaze B2",
		DefaultEndpoint:  "https://s3.us-west-000.backblazeb2.com",
		DefaultRegion:    "us-west-000",
		EndpointTemplate: "https://s3.%s.backblazeb2.com",
		PathStyle:        true,
	},
	"scaleway": {
		Name:             "Scaleway Object Storage",
		DefaultEndpoint:  "https://s3.fr-par.scw.cloud",
		DefaultRegion:    "fr-par",
		EndpointTemplate: "https://s3.%s.scw.cloud",
	},
}

// LookupProvider returns the provider entry, case-insensitively.
func LookupProvider(name string) (Provider, error) {
	if name == "" {
		return Provider{}, fmt.Errorf("provider name is required")
	}
	p, ok := Providers[strings.ToLower(name)]
	if !ok {
		return Provider{}, fmt.Errorf("unknown provider: %s (supported: %s)",
			name, strings.Join(providerNames(), ", "))
	}
	return p, nil
}

// ResolveEndpoint fills in the endpoint and region from the provider
// defaults. An empty endpoint for aws means the SDK resolves it.
func ResolveEndpoint(provider, endpoint, region string) (string, string, error) {
	p, err := LookupProvider(provider)
	if err != nil {
		return "", "", err
	}
	if region == "" {
		region = p.DefaultRegion
	}
	if endpoint == "" {
		if p.EndpointTemplate != "" && region != "" {
			endpoint = fmt.Sprintf(p.EndpointTemplate, region)
		} else {
			endpoint = p.DefaultEndpoint
		}
	}
	if endpoint == "" {
		return "", region, nil
	}
	endpoint = normalizeEndpoint(endpoint)
	if err := validateEndpoint(endpoint); err != nil {
		return "", "", err
	}
	return endpoint, region, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a hostname")
	}
	return nil
}

func providerNames() []string {
	names := make([]string, 0, len(Providers))
	for name := range Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
