// Package vault fetches Kafka credentials for a topic directive. The
// transport (local fixture, AWS Lambda, Azure Function, GCP Cloud Function)
// is pluggable; response mapping is delegated to the rosetta package so it
// stays independently testable.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/probeerr"
	"github.com/matthew-bram/test-probe/internal/rosetta"
)

// Invoker posts an assembled credential request to a vault endpoint and
// returns the HTTP-equivalent status plus raw response body.
// Authentication is infrastructure-level; request bodies never carry it.
type Invoker interface {
	Invoke(ctx context.Context, request []byte) (status int, body []byte, err error)
}

// Client runs the credential pipeline for one topic directive at a time.
type Client struct {
	invoker       Invoker
	config        rosetta.Config
	requestParams map[string]string
	jaasDefaults  rosetta.JaasDefaults
	logger        *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient builds a vault client over the given transport.
func NewClient(invoker Invoker, cfg rosetta.Config, requestParams map[string]string, defaults rosetta.JaasDefaults, logger *slog.Logger) *Client {
	return &Client{
		invoker:        invoker,
		config:         cfg,
		requestParams:  requestParams,
		jaasDefaults:   defaults,
		logger:         logger,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     5 * time.Second,
	}
}

// FetchSecurityDirective assembles the vault request, posts it, classifies
// the response, and maps it into a KafkaSecurityDirective. Transient
// failures are retried exactly once with exponential backoff.
func (c *Client) FetchSecurityDirective(ctx context.Context, td directive.TopicDirective) (directive.KafkaSecurityDirective, error) {
	request, err := c.assembleRequest(td)
	if err != nil {
		return directive.KafkaSecurityDirective{}, err
	}

	body, err := c.invokeWithRetry(ctx, td, request)
	if err != nil {
		return directive.KafkaSecurityDirective{}, err
	}

	return rosetta.BuildSecurityDirective(c.config, td, body, c.jaasDefaults)
}

func (c *Client) assembleRequest(td directive.TopicDirective) ([]byte, error) {
	if c.config.RequestTemplate == nil {
		request := map[string]any{
			"topic":           td.Topic,
			"role":            string(td.Role),
			"clientPrincipal": td.ClientPrincipal,
		}
		data, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal vault request: %w", err)
		}
		return data, nil
	}

	expanded, err := rosetta.ExpandTemplate(c.config.RequestTemplate, td, c.requestParams)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vault request: %w", err)
	}
	return data, nil
}

func (c *Client) invokeWithRetry(ctx context.Context, td directive.TopicDirective, request []byte) ([]byte, error) {
	body, err := c.invokeOnce(ctx, request)
	if err == nil || !probeerr.Transient(err) {
		return body, err
	}

	c.logger.Warn("vault call failed, retrying",
		"topic", td.Topic, "role", td.Role, "error", err)

	// One retry only. The backoff policy still bounds the wait so a
	// rate-limited vault is not hammered immediately.
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff
	wait := policy.NextBackOff()

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return nil, probeerr.Wrap(probeerr.KindVaultTimeout, ctx.Err(), "vault retry interrupted")
	}

	return c.invokeOnce(ctx, request)
}

func (c *Client) invokeOnce(ctx context.Context, request []byte) ([]byte, error) {
	status, body, err := c.invoker.Invoke(ctx, request)
	if err != nil {
		kind := classifyTransport(err)
		return nil, probeerr.Wrap(kind, err, "vault call failed")
	}
	if kind := ClassifyStatus(status); kind != "" {
		return nil, probeerr.New(kind, "vault returned status %d", status)
	}
	return body, nil
}
