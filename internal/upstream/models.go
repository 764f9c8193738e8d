package upstream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/credential"
)

// defaultModels backs /v1/models when the upstream catalog cannot be
// fetched.
var defaultModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-3-pro-preview",
}

// ModelCatalog serves the model list, refreshing it lazily from the
// upstream catalog endpoint.
type ModelCatalog struct {
	client    *http.Client
	url       string
	host      string
	userAgent string
	creds     *credential.Manager

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

const modelCatalogTTL = 10 * time.Minute

// NewModelCatalog builds a catalog from configuration.
func NewModelCatalog(cfg *config.Config, creds *credential.Manager) *ModelCatalog {
	return &ModelCatalog{
		client:    &http.Client{Timeout: 15 * time.Second},
		url:       cfg.API.ModelsURL,
		host:      cfg.API.Host,
		userAgent: cfg.API.UserAgent,
		creds:     creds,
	}
}

// Models returns the model identifiers to advertise. Upstream fetch
// failures fall back to the built-in list; results are cached.
func (mc *ModelCatalog) Models(ctx context.Context) []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.cached != nil && time.Since(mc.fetchedAt) < modelCatalogTTL {
		return mc.cached
	}

	models, err := mc.fetch(ctx)
	if err != nil {
		log.WithError(err).Debug("model catalog fetch failed, using built-in list")
		if mc.cached != nil {
			return mc.cached
		}
		return defaultModels
	}

	mc.cached = models
	mc.fetchedAt = time.Now()
	return models
}

func (mc *ModelCatalog) fetch(ctx context.Context) ([]string, error) {
	if mc.url == "" {
		return defaultModels, nil
	}

	cred, release, err := mc.creds.Acquire(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mc.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("User-Agent", mc.userAgent)
	if mc.host != "" {
		req.Host = mc.host
	}

	resp, err := mc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &catalogError{status: resp.StatusCode}
	}

	var models []string
	gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
		name := m.Get("name").String()
		if name == "" {
			name = m.String()
		}
		// Upstream names arrive as "models/<id>".
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		if name != "" {
			models = append(models, name)
		}
		return true
	})
	if len(models) == 0 {
		return defaultModels, nil
	}
	return models, nil
}

type catalogError struct{ status int }

func (e *catalogError) Error() string {
	return "model catalog request failed with status " + http.StatusText(e.status)
}
