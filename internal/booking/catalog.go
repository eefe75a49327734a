package booking

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Catalog looks up services offered by trainers.
type Catalog interface {
	GetService(ctx context.Context, serviceID string) (*Service, error)
}

// HTTPCatalog reads services from the catalog service over HTTP.
type HTTPCatalog struct {
	client *resty.Client
}

// NewHTTPCatalog returns a client for the catalog service at baseURL.
func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &HTTPCatalog{client: client}
}

func (c *HTTPCatalog) GetService(ctx context.Context, serviceID string) (*Service, error) {
	var svc Service
	req := c.client.R().
		SetContext(ctx).
		SetPathParam("id", serviceID).
		SetResult(&svc)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := req.Get("/api/services/{id}")
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	case resp.IsError():
		return nil, fmt.Errorf("catalog returned %d for service %s", resp.StatusCode(), serviceID)
	}

	if svc.ID == "" {
		svc.ID = serviceID
	}
	return &svc, nil
}
