package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmehdipour/order-pipeline/internal/model"
)

// ErrOrderRejected marks a business failure: the order can never be fulfilled.
// Processors wrap it; the settler then records the order as Failed. Any other
// processing error leaves the order Pending for the reconciler.
var ErrOrderRejected = errors.New("order rejected")

// Processor is the unit of work performed for one order.
type Processor interface {
	Process(ctx context.Context, msg model.DispatchMessage) error
}

type ProcessorFunc func(ctx context.Context, msg model.DispatchMessage) error

func (f ProcessorFunc) Process(ctx context.Context, msg model.DispatchMessage) error { return f(ctx, msg) }

// NewProcessorFromConfig picks the processing stage: "delay" (default) or "http".
func NewProcessorFromConfig(c config.ProcessorConfig, delay time.Duration) (Processor, error) {
	switch c.Kind {
	case "", "delay":
		return DelayProcessor{Delay: delay}, nil
	case "http":
		if c.FulfillmentURL == "" {
			return nil, errors.New("processor.fulfillment_url is required for kind http")
		}
		return NewHTTPProcessor(c.FulfillmentURL, c.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown processor kind %q", c.Kind)
	}
}

// DelayProcessor stands in for fulfillment by waiting a fixed time.
type DelayProcessor struct {
	Delay time.Duration
}

func (p DelayProcessor) Process(ctx context.Context, _ model.DispatchMessage) error {
	t := time.NewTimer(p.Delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPProcessor hands the order to a fulfillment service.
// 2xx: fulfilled. 4xx: the service refused the order (ErrOrderRejected).
// Anything else is treated as a transient fault.
type HTTPProcessor struct {
	url    string
	client *http.Client
}

func NewHTTPProcessor(url string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProcessor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProcessor) Process(ctx context.Context, msg model.DispatchMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.OrderID)

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode/100 == 2:
		return nil
	case res.StatusCode/100 == 4:
		return fmt.Errorf("%w: fulfillment status=%d", ErrOrderRejected, res.StatusCode)
	default:
		return fmt.Errorf("fulfillment status=%d", res.StatusCode)
	}
}
