package cardigann

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// maxPackageSize caps the size of a downloaded definition package.
const maxPackageSize = 64 << 20

// Repository fetches Cardigann definitions from a remote catalog.
type Repository struct {
	httpClient *http.Client
	logger     zerolog.Logger
	config     RepositoryConfig
}

// RepositoryConfig contains configuration for the definition repository.
type RepositoryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Branch         string        `mapstructure:"branch"`
	Version        string        `mapstructure:"version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Attempts       uint64        `mapstructure:"attempts"`
}

// DefaultRepositoryConfig returns the default repository configuration.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		BaseURL:        "https://indexers.prowlarr.com",
		Branch:         "master",
		Version:        "11",
		RequestTimeout: 60 * time.Second,
		UserAgent:      "searchd/1.0",
		Attempts:       3,
	}
}

// NewRepository creates a definition repository. A nil client gets one
// with the configured timeout.
func NewRepository(cfg RepositoryConfig, client *http.Client, logger zerolog.Logger) *Repository {
	def := DefaultRepositoryConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Branch == "" {
		cfg.Branch = def.Branch
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Repository{
		httpClient: client,
		logger:     logger.With().Str("component", "definition-repository").Logger(),
		config:     cfg,
	}
}

// Config returns the repository configuration.
func (r *Repository) Config() RepositoryConfig {
	return r.config
}

func (r *Repository) buildURL(path string) string {
	return fmt.Sprintf("%s/%s/%s/%s", r.config.BaseURL, r.config.Branch, r.config.Version, path)
}

// get fetches url, retrying connection failures and 5xx replies with
// exponential backoff.
func (r *Repository) get(ctx context.Context, url, accept string, limit int64) ([]byte, error) {
	backoff := retry.WithMaxRetries(r.config.Attempts-1, retry.NewExponential(500*time.Millisecond))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", r.config.UserAgent)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to fetch %s: %w", url, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrDefinitionNotFound, url)
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read response: %w", err))
		}
		if int64(len(data)) > limit {
			return fmt.Errorf("response from %s exceeds %d bytes", url, limit)
		}
		body = data
		return nil
	})
	return body, err
}

// FetchDefinitionList retrieves the list of available definitions.
func (r *Repository) FetchDefinitionList(ctx context.Context) ([]DefinitionMetadata, error) {
	data, err := r.get(ctx, r.buildURL(""), "application/json", maxPackageSize)
	if err != nil {
		return nil, err
	}
	var metadata []DefinitionMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode definition list: %w", err)
	}
	r.logger.Info().Int("count", len(metadata)).Msg("Fetched definition list")
	return metadata, nil
}

// FetchDefinitionRaw retrieves raw YAML content for a definition.
func (r *Repository) FetchDefinitionRaw(ctx context.Context, id string) ([]byte, error) {
	r.logger.Debug().Str("id", id).Msg("Fetching definition")
	return r.get(ctx, r.buildURL(id), "", maxPackageSize)
}

// FetchDefinition retrieves and parses a single definition.
func (r *Repository) FetchDefinition(ctx context.Context, id string) (*Definition, error) {
	data, err := r.FetchDefinitionRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition %s: %w", id, err)
	}
	return def, nil
}

// FetchPackage downloads the ZIP package of all definitions and returns
// the raw YAML content keyed by definition id.
func (r *Repository) FetchPackage(ctx context.Context) (map[string][]byte, error) {
	url := r.buildURL("package.zip")
	r.logger.Info().Str("url", url).Str("version", r.config.Version).Msg("Fetching definition package")

	data, err := r.get(ctx, url, "", maxPackageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package: %w", err)
	}
	r.logger.Debug().Int("size", len(data)).Msg("Downloaded package")

	definitions, err := r.extractPackage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract package: %w", err)
	}
	r.logger.Info().Int("count", len(definitions)).Msg("Extracted definitions from package")
	return definitions, nil
}

// extractPackage extracts YAML definitions from a ZIP archive.
func (r *Repository) extractPackage(zipData []byte) (map[string][]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP: %w", err)
	}

	definitions := make(map[string][]byte)
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		id, ok := definitionID(filepath.Base(file.Name))
		if !ok {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			r.logger.Warn().Str("file", file.Name).Err(err).Msg("Failed to open file in ZIP")
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxPackageSize))
		rc.Close()
		if err != nil {
			r.logger.Warn().Str("file", file.Name).Err(err).Msg("Failed to read file in ZIP")
			continue
		}
		definitions[id] = content
	}
	return definitions, nil
}
