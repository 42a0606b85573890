// Package update checks Docker Hub for a newer frontend image tag than the
// one currently pinned, rate-limited so routine `up` invocations do not hit
// the network every time.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/go-version"

	"github.com/akatzai/comfydock/config"
)

// Checker queries the configured Docker Hub tags endpoint.
type Checker struct {
	resolver *config.Resolver
	http     *retryablehttp.Client
	logger   *slog.Logger
	now      func() time.Time
}

// NewChecker builds a checker that persists its last-check stamp through the
// given resolver.
func NewChecker(resolver *config.Resolver, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil
	return &Checker{
		resolver: resolver,
		http:     client,
		logger:   logger,
		now:      time.Now,
	}
}

// tagsPage is the relevant slice of the Docker Hub v2 tags listing.
type tagsPage struct {
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
}

// Check reports whether a newer frontend tag than cfg.FrontendVersion is
// published. Unless force is set, the check is skipped when update checking
// is disabled or the configured interval since the last check has not passed.
// A successful check persists the last-check timestamp.
func (c *Checker) Check(ctx context.Context, cfg *config.Resolved, force bool) (bool, string, error) {
	if !force {
		if !cfg.CheckForUpdates {
			return false, "", nil
		}
		interval := time.Duration(cfg.UpdateCheckIntervalDays) * 24 * time.Hour
		last := time.Unix(cfg.LastUpdateCheck, 0)
		if c.now().Sub(last) < interval {
			c.logger.Debug("skipping update check, interval not elapsed",
				"last_check", last, "interval", interval)
			return false, "", nil
		}
	}

	latest, err := c.latestTag(ctx, cfg.DockerHubTagsURL)
	if err != nil {
		return false, "", err
	}

	if err := c.resolver.Set(config.KeyLastUpdateCheck, strconv.FormatInt(c.now().Unix(), 10)); err != nil {
		c.logger.Warn("failed to persist update check timestamp", "error", err)
	}

	current, err := version.NewVersion(cfg.FrontendVersion)
	if err != nil {
		return false, "", fmt.Errorf("current frontend version %q is not parseable: %w", cfg.FrontendVersion, err)
	}
	if latest != nil && latest.GreaterThan(current) {
		return true, latest.String(), nil
	}
	return false, "", nil
}

// latestTag fetches the tags listing and returns the highest semantic
// version among them. Tags that do not parse as versions ("latest", branch
// builds) are skipped.
func (c *Checker) latestTag(ctx context.Context, url string) (*version.Version, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tags from %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags endpoint %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags response: %w", err)
	}
	var page tagsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse tags response: %w", err)
	}

	var latest *version.Version
	for _, tag := range page.Results {
		v, err := version.NewVersion(tag.Name)
		if err != nil {
			continue
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, nil
}
