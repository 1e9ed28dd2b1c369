// internal/clients/client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
	"quickbill/internal/platform/httpx"
)

// Options configures the HTTP transport and circuit breaker shared by every
// client.
type Options struct {
	Timeout         time.Duration
	BreakerFailures uint32
	OpenPeriod      time.Duration
	HTTPClient      *http.Client
	Logger          zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.OpenPeriod <= 0 {
		o.OpenPeriod = 10 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}

type client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func newClient(name, baseURL string, opts Options) *client {
	opts = opts.withDefaults()
	logger := opts.Logger.With().Str("client", name).Logger()
	failures := opts.BreakerFailures
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.HTTPClient,
		logger:  logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: opts.OpenPeriod,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			// Business rejections are answers, not outages.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, catalog.ErrUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

// response carries the status code of a successful call.
type response struct {
	status int
}

// do sends in as JSON and decodes a 2xx body into out. Error bodies are
// mapped back onto the package sentinels; transport failures and an open
// breaker become catalog.ErrUnavailable.
func (c *client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return 0, err
		}
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", catalog.ErrUnavailable, method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, decodeError(resp)
		}
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("%w: decode %s %s: %v", catalog.ErrUnavailable, method, path, err)
			}
		}
		return response{status: resp.StatusCode}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %v", catalog.ErrUnavailable, err)
		}
		return 0, err
	}
	return res.(response).status, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var env httpx.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Error == nil {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", catalog.ErrUnavailable, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	apiErr := env.Error

	switch apiErr.Code {
	case httpx.CodeInsufficientStock:
		insufficient := &catalog.InsufficientStockError{}
		insufficient.ProductID, _ = uuid.Parse(apiErr.ProductID)
		if apiErr.Requested != nil {
			insufficient.Requested = *apiErr.Requested
		}
		if apiErr.Available != nil {
			insufficient.Available = *apiErr.Available
		}
		return insufficient
	case httpx.CodeProductNotFound:
		return fmt.Errorf("%w: %s", catalog.ErrNotFound, apiErr.Message)
	case httpx.CodeBillNotFound:
		return fmt.Errorf("%w: %s", billing.ErrBillNotFound, apiErr.Message)
	case httpx.CodeBillDeleted:
		return fmt.Errorf("%w: %s", billing.ErrBillDeleted, apiErr.Message)
	case httpx.CodeDuplicateProduct:
		return fmt.Errorf("%w: %s", catalog.ErrDuplicateProduct, apiErr.Message)
	case httpx.CodeProductReferenced:
		return fmt.Errorf("%w: %s", catalog.ErrProductReferenced, apiErr.Message)
	case httpx.CodeOperationConflict:
		return fmt.Errorf("%w: %s", catalog.ErrOperationConflict, apiErr.Message)
	case httpx.CodeValidationFailed:
		return fmt.Errorf("%w: %s", catalog.ErrInvalidAdjustment, apiErr.Message)
	case httpx.CodeUnavailable:
		return fmt.Errorf("%w: %s", catalog.ErrUnavailable, apiErr.Message)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", catalog.ErrUnavailable, apiErr.Message)
	}
	return apiErr
}

// Ping checks the service health endpoint.
func (c *client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}
