package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/nikshitha/leadgen/resilience"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Verification sources
const (
	SourceHunter          = "hunter_api"
	SourceFormatOnly      = "format_check_only"
	SourceFormatFallback  = "format_check_fallback"
	defaultHunterBaseURL  = "https://api.hunter.io/v2"
	defaultRequestsPerSec = 5
)

// Verification is the verdict on one address
type Verification struct {
	Email  string `json:"email"`
	Valid  bool   `json:"valid"`
	Score  int    `json:"score"`
	Source string `json:"source"`
}

// Verifier checks addresses and resolves company domains
type Verifier interface {
	Verify(ctx context.Context, email string) (Verification, error)
	FindDomain(ctx context.Context, company string) (string, error)
}

// HunterClient talks to the Hunter v2 API. Without an API key it only
// checks the address format and never finds domains.
type HunterClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	policy  resilience.RetryPolicy
	logger  *logger.Logger
}

// NewHunterClient creates a client from the enrichment settings
func NewHunterClient(cfg config.EnrichmentConfig, timeout time.Duration, log *logger.Logger) *HunterClient {
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithModule("hunter")

	baseURL := strings.TrimRight(cfg.HunterBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultHunterBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}

	if cfg.HunterAPIKey == "" {
		log.Warn("HUNTER_API_KEY not set, email verification is limited to format checks")
	}

	return &HunterClient{
		apiKey:  cfg.HunterAPIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		policy:  resilience.DefaultPolicy().WithLogger(log, "hunter"),
		logger:  log,
	}
}

// HasAPIKey reports whether real verification is available
func (h *HunterClient) HasAPIKey() bool {
	return h.apiKey != ""
}

type hunterVerifyResponse struct {
	Data struct {
		Result string `json:"result"`
		Score  int    `json:"score"`
	} `json:"data"`
}

type hunterDomainResponse struct {
	Data struct {
		Domain string `json:"domain"`
	} `json:"data"`
}

// Verify asks Hunter whether email is deliverable. When the API is not
// configured or fails, the verdict falls back to the format check and the
// error is only logged.
func (h *HunterClient) Verify(ctx context.Context, email string) (Verification, error) {
	if !h.HasAPIKey() {
		v := Verification{Email: email, Valid: IsValidFormat(email), Source: SourceFormatOnly}
		metrics.RecordEmailVerification(v.Source)
		return v, nil
	}

	params := url.Values{}
	params.Set("email", email)

	var resp hunterVerifyResponse
	if err := h.get(ctx, "/email-verifier", params, &resp); err != nil {
		if ctx.Err() != nil {
			return Verification{}, ctx.Err()
		}
		h.logger.WithField("email", email).WithError(err).Error("Hunter verification failed")
		v := Verification{Email: email, Valid: IsValidFormat(email), Source: SourceFormatFallback}
		metrics.RecordEmailVerification(v.Source)
		return v, nil
	}

	v := Verification{
		Email:  email,
		Valid:  resp.Data.Result == "deliverable",
		Score:  resp.Data.Score,
		Source: SourceHunter,
	}
	metrics.RecordEmailVerification(v.Source)
	h.logger.EnrichmentResult(email, v.Valid, v.Score, v.Source)
	return v, nil
}

// FindDomain looks up the web domain of company. An empty string means
// unknown.
func (h *HunterClient) FindDomain(ctx context.Context, company string) (string, error) {
	if !h.HasAPIKey() || company == "" {
		return "", nil
	}

	params := url.Values{}
	params.Set("company", company)

	var resp hunterDomainResponse
	if err := h.get(ctx, "/domain-search", params, &resp); err != nil {
		return "", eris.Wrapf(err, "domain search for %q", company)
	}

	h.logger.WithFields(map[string]interface{}{
		"company": company,
		"domain":  resp.Data.Domain,
	}).Debug("Company domain resolved")
	return resp.Data.Domain, nil
}

func (h *HunterClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("api_key", h.apiKey)
	endpoint := h.baseURL + path + "?" + params.Encode()

	return resilience.Do(ctx, h.policy, func(ctx context.Context) error {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return eris.Wrap(err, "build hunter request")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return eris.Wrapf(err, "hunter %s", path)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("hunter %s: status %d", path, resp.StatusCode)
			if te := resilience.FromResponse(resp, statusErr); te != nil {
				return te
			}
			return statusErr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return eris.Wrapf(err, "decode hunter %s response", path)
		}
		return nil
	})
}
