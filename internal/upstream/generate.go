package upstream

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/constants"
	"antigravity2api-go/internal/credential"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/monitoring"
	"antigravity2api-go/internal/streaming"
)

var tracer = otel.Tracer("antigravity2api/upstream")

// Engine runs one generation request across the credential pool,
// rotating to the next credential on retryable failures.
type Engine struct {
	creds      *credential.Manager
	client     *Client
	maxRetries int
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Credentials *credential.Manager
	Client      *Client
	Config      *config.Config
}

// NewEngine builds an Engine.
func NewEngine(opts EngineOptions) *Engine {
	maxRetries := opts.Config.Retry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	return &Engine{
		creds:      opts.Credentials,
		client:     opts.Client,
		maxRetries: maxRetries,
	}
}

// BodyFunc builds the upstream request body for the chosen credential;
// the body embeds its project and session identifiers.
type BodyFunc func(cred *credential.Credential) ([]byte, error)

// sinkError wraps a failure from the caller's event sink so the loop
// can tell it apart from upstream failures.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }

// Execute drives the retry loop. Each attempt acquires a credential,
// streams the response and forwards parsed events to onEvent. Rate
// limits, upstream 5xx and transport failures rotate to the next
// credential, up to the configured attempt budget; other failures
// surface immediately. Once an event has reached onEvent the response
// is committed and no further attempt is made.
func (e *Engine) Execute(ctx context.Context, buildBody BodyFunc, onEvent func(streaming.Event) error) error {
	ctx, span := tracer.Start(ctx, "upstream.generate")
	defer span.End()

	tried := make(map[string]struct{})
	var lastErr *apierrors.APIError

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			monitoring.UpstreamRetriesTotal.Inc()
		}

		cred, release, err := e.creds.Acquire(ctx, tried)
		if err != nil {
			// Pool exhausted mid-request: the last upstream failure is
			// more specific than the generic no-credentials reply.
			var acquireErr *apierrors.APIError
			if lastErr != nil && errors.As(err, &acquireErr) && acquireErr.Kind == apierrors.KindNoCredentials {
				span.SetStatus(codes.Error, lastErr.Message)
				return lastErr
			}
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		started, err := e.attempt(ctx, cred, buildBody, onEvent)
		release()

		if err == nil {
			e.creds.RecordSuccess(cred)
			monitoring.UpstreamRequestsTotal.WithLabelValues("success").Inc()
			span.SetAttributes(attribute.Int("upstream.attempts", attempt+1))
			return nil
		}

		var sinkErr *sinkError
		if errors.As(err, &sinkErr) {
			// The caller's side failed, usually a dropped client
			// connection. Not the credential's fault and not retryable.
			monitoring.UpstreamRequestsTotal.WithLabelValues("client_abort").Inc()
			return sinkErr.err
		}

		apiErr := apierrors.AsAPIError(err)
		e.creds.RecordFailure(cred, apiErr)
		monitoring.UpstreamRequestsTotal.WithLabelValues(outcomeLabel(apiErr)).Inc()

		if started {
			// Part of the reply already reached the client; a second
			// attempt would duplicate it.
			span.SetStatus(codes.Error, apiErr.Message)
			return apierrors.NewStream("stream interrupted after output began: " + apiErr.Message)
		}
		if !retryable(apiErr) {
			span.SetStatus(codes.Error, apiErr.Message)
			return apiErr
		}

		tried[cred.RefreshToken] = struct{}{}
		lastErr = apiErr
		log.WithFields(log.Fields{
			"credential": cred.TokenPrefix(),
			"attempt":    attempt + 1,
			"error":      apiErr.Code,
		}).Warn("upstream attempt failed, rotating credential")
	}

	span.SetStatus(codes.Error, lastErr.Message)
	return lastErr
}

// attempt performs one upstream call. It reports whether any event was
// delivered to onEvent before the error, which commits the response.
func (e *Engine) attempt(ctx context.Context, cred *credential.Credential, buildBody BodyFunc, onEvent func(streaming.Event) error) (bool, error) {
	body, err := buildBody(cred)
	if err != nil {
		return false, apierrors.NewValidation("build upstream request: " + err.Error())
	}

	parser := streaming.NewParser(func() int64 { return time.Now().UnixMilli() })
	started := false
	start := time.Now()

	deliver := func(ev streaming.Event) error {
		started = true
		if err := onEvent(ev); err != nil {
			return &sinkError{err: err}
		}
		return nil
	}

	err = e.client.Stream(ctx, cred, body, func(payload []byte) error {
		for _, ev := range parser.ParseData(payload) {
			if err := deliver(ev); err != nil {
				return err
			}
		}
		return nil
	})
	monitoring.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return started, err
	}

	for _, ev := range parser.Flush() {
		if err := deliver(ev); err != nil {
			return started, err
		}
	}
	return started, nil
}

func retryable(apiErr *apierrors.APIError) bool {
	switch {
	case apiErr.Kind == apierrors.KindRateLimit:
		return true
	case apiErr.IsServerError():
		return true
	case apiErr.Kind == apierrors.KindNetwork, apiErr.Kind == apierrors.KindStream:
		return true
	default:
		return false
	}
}

func outcomeLabel(apiErr *apierrors.APIError) string {
	switch {
	case apiErr.Kind == apierrors.KindRateLimit:
		return "rate_limited"
	case apiErr.Kind == apierrors.KindAuthentication:
		return "auth_rejected"
	case apiErr.IsServerError():
		return "server_error"
	case apiErr.Kind == apierrors.KindNetwork:
		return "network_error"
	default:
		return "error"
	}
}
