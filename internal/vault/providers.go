package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// ProviderConfig selects and parameterizes the vault transport.
type ProviderConfig struct {
	// Provider is one of "local", "lambda", "azure-function", "gcp-function".
	Provider string
	// Endpoint is the HTTP URL for azure-function / gcp-function.
	Endpoint string
	// FunctionName is the Lambda function name or ARN.
	FunctionName string
	// FunctionKey is the Azure Functions host key, sent as x-functions-key.
	FunctionKey string
	// Region overrides the AWS region for the lambda provider.
	Region string
	// FixtureFile is a JSON document served verbatim by the local provider.
	FixtureFile string
}

// NewInvoker constructs the transport for the configured provider.
func NewInvoker(ctx context.Context, cfg ProviderConfig, httpClient *http.Client) (Invoker, error) {
	switch cfg.Provider {
	case "local":
		if cfg.FixtureFile == "" {
			return nil, probeerr.New(probeerr.KindVaultConfiguration, "local provider requires a fixture file")
		}
		body, err := os.ReadFile(cfg.FixtureFile)
		if err != nil {
			return nil, probeerr.Wrap(probeerr.KindVaultConfiguration, err, "failed to read vault fixture")
		}
		return &LocalInvoker{Responses: []LocalResponse{{Status: http.StatusOK, Body: body}}}, nil
	case "lambda":
		return newLambdaInvoker(ctx, cfg)
	case "azure-function":
		if cfg.Endpoint == "" {
			return nil, probeerr.New(probeerr.KindVaultConfiguration, "azure-function provider requires an endpoint")
		}
		return &httpInvoker{client: httpClient, endpoint: cfg.Endpoint, functionKey: cfg.FunctionKey}, nil
	case "gcp-function":
		if cfg.Endpoint == "" {
			return nil, probeerr.New(probeerr.KindVaultConfiguration, "gcp-function provider requires an endpoint")
		}
		return &httpInvoker{client: httpClient, endpoint: cfg.Endpoint}, nil
	default:
		return nil, probeerr.New(probeerr.KindVaultConfiguration, "unknown vault provider %q", cfg.Provider)
	}
}

// httpInvoker posts the request body to an HTTP-fronted vault function.
// Azure host keys ride in the x-functions-key header; GCP relies on
// network-level auth and sends the bare request.
type httpInvoker struct {
	client      *http.Client
	endpoint    string
	functionKey string
}

func (h *httpInvoker) Invoke(ctx context.Context, request []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(request))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build vault request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.functionKey != "" {
		req.Header.Set("x-functions-key", h.functionKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read vault response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// lambdaInvoker invokes an AWS Lambda synchronously. IAM covers auth.
type lambdaInvoker struct {
	client       *awslambda.Client
	functionName string
}

func newLambdaInvoker(ctx context.Context, cfg ProviderConfig) (Invoker, error) {
	if cfg.FunctionName == "" {
		return nil, probeerr.New(probeerr.KindVaultConfiguration, "lambda provider requires a function name")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, probeerr.Wrap(probeerr.KindVaultConfiguration, err, "failed to load AWS config")
	}
	return &lambdaInvoker{
		client:       awslambda.NewFromConfig(awsCfg),
		functionName: cfg.FunctionName,
	}, nil
}

func (l *lambdaInvoker) Invoke(ctx context.Context, request []byte) (int, []byte, error) {
	out, err := l.client.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName: &l.functionName,
		Payload:      request,
	})
	if err != nil {
		return 0, nil, err
	}
	if out.FunctionError != nil {
		return http.StatusInternalServerError, out.Payload, nil
	}
	status := http.StatusOK
	if out.StatusCode != 0 {
		status = int(out.StatusCode)
	}
	return status, out.Payload, nil
}

// LocalInvoker is an in-memory vault fixture. Responses are scripted per
// call; once the script is exhausted the last entry repeats.
type LocalInvoker struct {
	Responses []LocalResponse
	calls     int
}

// LocalResponse is one scripted vault reply.
type LocalResponse struct {
	Status int
	Body   []byte
}

func (l *LocalInvoker) Invoke(_ context.Context, _ []byte) (int, []byte, error) {
	if len(l.Responses) == 0 {
		return http.StatusNotFound, nil, nil
	}
	idx := l.calls
	if idx >= len(l.Responses) {
		idx = len(l.Responses) - 1
	}
	l.calls++
	r := l.Responses[idx]
	return r.Status, r.Body, nil
}
