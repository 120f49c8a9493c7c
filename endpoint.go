package adminws

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

type (
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	// EndpointResolver finds where to connect to. It is called on every connect cycle.
	EndpointResolver interface {
		Resolve(ctx context.Context) (OpenConnectionParams, error)
	}

	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	// OpenConnectionParamsRepo wraps a getter with error logging.
	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Resolve(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger.WithField("type", "open_conn_params_repo")}
}

// StaticResolver always connects to rawURL.
func StaticResolver(logger Logger, rawURL string) (OpenConnectionParamsRepo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return OpenConnectionParamsRepo{}, errors.Wrapf(ErrInvalidConfig, "url %q: %s", rawURL, err)
	}
	params := OpenConnectionParams{URL: *u, Header: http.Header{}}
	return NewOpenConnectionParamsRepo(logger, func(context.Context) (OpenConnectionParams, error) {
		return params, nil
	}), nil
}

// FallbackURL derives the streaming endpoint from the page origin: the scheme is upgraded to
// its websocket counterpart (https to wss, http to ws) and path replaces the origin path.
func FallbackURL(origin, path string) (url.URL, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return url.URL{}, errors.Wrapf(ErrInvalidConfig, "origin %q: %s", origin, err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return url.URL{}, errors.Wrapf(ErrInvalidConfig, "origin %q: unsupported scheme", origin)
	}
	if u.Host == "" {
		return url.URL{}, errors.Wrapf(ErrInvalidConfig, "origin %q: missing host", origin)
	}

	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	return *u, nil
}

type discoveryResponse struct {
	URL string `json:"url"`
}

// DiscoveryResolver asks an HTTP endpoint for the streaming URL, authenticated with the current
// access token. When the lookup keeps failing it falls back to FallbackURL.
type DiscoveryResolver struct {
	client       *fasthttp.Client
	logger       Logger
	tokens       TokenProvider
	discoveryURL string
	origin       string
	fallbackPath string
	attempts     uint
	timeout      time.Duration
	retryDelay   time.Duration
}

func NewDiscoveryResolver(logger Logger, cfg Config, tokens TokenProvider) *DiscoveryResolver {
	attempts := cfg.DiscoveryAttempts
	if attempts == 0 {
		attempts = 1
	}
	return &DiscoveryResolver{
		client:       &fasthttp.Client{Name: "adminws"},
		logger:       logger.WithField("type", "discovery_resolver"),
		tokens:       tokens,
		discoveryURL: cfg.DiscoveryURL,
		origin:       cfg.Origin,
		fallbackPath: cfg.FallbackPath,
		attempts:     attempts,
		timeout:      cfg.DiscoveryTimeout,
		retryDelay:   200 * time.Millisecond,
	}
}

func (d *DiscoveryResolver) Resolve(ctx context.Context) (OpenConnectionParams, error) {
	params := OpenConnectionParams{Header: http.Header{}}

	if d.discoveryURL != "" {
		rawURL, err := retry.DoWithData(
			d.lookup,
			retry.Context(ctx),
			retry.Attempts(d.attempts),
			retry.Delay(d.retryDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				d.logger.Debugf("discovery attempt #%d failed: %s", n+1, err)
			}),
		)
		if err == nil {
			u, perr := url.Parse(rawURL)
			if perr == nil && u.Host != "" {
				params.URL = *u
				return params, nil
			}
			err = errors.Errorf("malformed url %q", rawURL)
		}
		if ctx.Err() != nil {
			return params, ctx.Err()
		}
		d.logger.Warnf("discovery failed, using fallback: %s", err)
	}

	u, err := FallbackURL(d.origin, d.fallbackPath)
	if err != nil {
		return params, errors.Wrap(ErrDiscovery, err.Error())
	}
	params.URL = u
	return params, nil
}

func (d *DiscoveryResolver) lookup() (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(d.discoveryURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if token, ok := d.tokens.Token(); ok {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}

	if err := d.client.DoTimeout(req, resp, d.timeout); err != nil {
		return "", errors.Wrap(ErrDiscovery, err.Error())
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return "", retry.Unrecoverable(errors.Wrapf(ErrAuthFailed, "discovery answered %d", code))
	case code == fasthttp.StatusTooManyRequests:
		return "", errors.Wrap(ErrRateLimit, string(resp.Body()))
	case code != fasthttp.StatusOK:
		return "", errors.Wrapf(ErrDiscovery, "discovery answered %d", code)
	}

	var body discoveryResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", errors.Wrap(ErrDiscovery, err.Error())
	}
	if body.URL == "" {
		return "", errors.Wrap(ErrDiscovery, "empty url")
	}
	return body.URL, nil
}

// NewResolver picks a static endpoint when cfg.URL is set and discovery otherwise.
func NewResolver(logger Logger, cfg Config, tokens TokenProvider) (EndpointResolver, error) {
	if cfg.URL != "" {
		return StaticResolver(logger, cfg.URL)
	}
	return NewDiscoveryResolver(logger, cfg, tokens), nil
}
