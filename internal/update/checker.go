package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
)

// defaultAPIBase is the GitHub API root. Tests point the checker at an
// httptest server instead.
const defaultAPIBase = "https://api.github.com"

const checkTimeout = 15 * time.Second

// Status is the cached outcome of the last release check.
type Status struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	CheckedAt       time.Time `json:"checked_at,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Checker polls the GitHub releases API for a configured repository.
type Checker struct {
	repo    string // "owner/name"
	version string
	apiBase string
	client  *http.Client
	logger  *logging.Logger

	mu     sync.RWMutex
	status Status
}

// New creates a checker for the given repository and running version.
func New(repo, version string, logger *logging.Logger) *Checker {
	return newWithBase(defaultAPIBase, repo, version, logger)
}

func newWithBase(apiBase, repo, version string, logger *logging.Logger) *Checker {
	return &Checker{
		repo:    repo,
		version: version,
		apiBase: apiBase,
		client:  &http.Client{Timeout: checkTimeout},
		logger:  logger.With("component", "update"),
		status:  Status{CurrentVersion: version},
	}
}

// releaseResponse is the subset of the GitHub latest-release payload we read.
type releaseResponse struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Check queries the latest release and refreshes the cached status. A failed
// check keeps the previous release information and records the error.
func (c *Checker) Check(ctx context.Context) Status {
	reqCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	release, err := c.fetchLatest(reqCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.CheckedAt = time.Now()
	if err != nil {
		c.status.Error = err.Error()
		c.logger.Warn("release check failed", "repo", c.repo, "error", err)
		return c.status
	}

	c.status.Error = ""
	c.status.LatestVersion = release.TagName
	c.status.ReleaseURL = release.HTMLURL
	c.status.UpdateAvailable = newerThanCurrent(release.TagName, c.version)

	if c.status.UpdateAvailable {
		c.logger.Info("newer release available",
			"current", c.version,
			"latest", release.TagName,
		)
	}
	return c.status
}

// Status returns the cached result of the last check.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// RegisterDailyCheck schedules a daily release check on the shared cron.
func (c *Checker) RegisterDailyCheck(cr *cron.Cron) {
	cr.AddFunc("@daily", func() {
		c.Check(context.Background())
	})
}

func (c *Checker) fetchLatest(ctx context.Context) (*releaseResponse, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github responded %d", resp.StatusCode)
	}

	var release releaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	if release.TagName == "" {
		return nil, fmt.Errorf("release has no tag name")
	}
	return &release, nil
}

// newerThanCurrent reports whether the release tag differs from the running
// version. Tags and versions are compared with the "v" prefix stripped; a
// dev build ("dev", "unknown") never reports an update.
func newerThanCurrent(tag, current string) bool {
	tag = strings.TrimPrefix(tag, "v")
	current = strings.TrimPrefix(current, "v")
	if current == "" || current == "dev" || current == "unknown" {
		return false
	}
	return tag != current
}
