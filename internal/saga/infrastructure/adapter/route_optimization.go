package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"fulfillment/internal/pkg/httpclient"
	"fulfillment/internal/pkg/retry"
	"fulfillment/internal/saga/domain"
)

const apiKeyHeader = "X-API-Key"

type rosRequest struct {
	OrderNumber     string `json:"orderNumber"`
	PickupAddress   string `json:"pickupAddress"`
	DeliveryAddress string `json:"deliveryAddress"`
	Priority        string `json:"priority"`
}

type rosResponse struct {
	OptimizationID   string  `json:"optimizationId"`
	Route            string  `json:"route"`
	EstimatedMinutes int     `json:"estimatedMinutes"`
	DistanceKm       float64 `json:"distanceKm"`
}

var rosExecutePolicy = retry.Policy{MaxAttempts: 3, Backoff: 200 * time.Millisecond, Multiplier: 2}

// RouteOptimizationAdapter requests an optimized route from the ROS system.
// The step has no external side effect, so Compensate is a recorded no-op.
type RouteOptimizationAdapter struct {
	client *httpclient.Client
	url    string
	apiKey string
}

func NewRouteOptimizationAdapter(client *httpclient.Client, url, apiKey string) *RouteOptimizationAdapter {
	return &RouteOptimizationAdapter{client: client, url: url, apiKey: apiKey}
}

func (a *RouteOptimizationAdapter) Name() domain.Step {
	return domain.StepRouteOptimization
}

func (a *RouteOptimizationAdapter) Execute(ctx context.Context, req *domain.OrderFulfillmentRequest) domain.StepResult {
	if a.apiKey == "" {
		// The ROS rejects keyless requests outright; don't waste the call.
		return domain.StepFailure("ROS call impossible", "no API key configured for route optimization")
	}

	payload, err := json.Marshal(rosRequest{
		OrderNumber:     req.OrderNumber,
		PickupAddress:   req.PickupAddress,
		DeliveryAddress: req.DeliveryAddress,
		Priority:        string(req.Priority),
	})
	if err != nil {
		return domain.StepFailure("ROS request encoding failed", err.Error())
	}

	var raw, message string
	err = retry.Do(ctx, rosExecutePolicy, func(ctx context.Context) error {
		resp, err := a.client.Post(ctx, a.url, "application/json", payload, map[string]string{apiKeyHeader: a.apiKey})
		if err != nil {
			return errors.Wrap(err, "ROS call")
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return errors.Errorf("ROS returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(errors.Errorf("ROS rejected request with status %d: %s", resp.StatusCode, resp.Body))
		}

		var route rosResponse
		if err := json.Unmarshal(resp.Body, &route); err != nil {
			return retry.Permanent(errors.Wrap(err, "decode ROS response"))
		}
		if route.OptimizationID == "" {
			return retry.Permanent(errors.New("ROS response carries no optimization id"))
		}

		raw = string(resp.Body)
		message = fmt.Sprintf("route optimized (%s): %d min, %.1f km", route.OptimizationID, route.EstimatedMinutes, route.DistanceKm)
		return nil
	})
	if err != nil {
		return domain.StepFailure("route optimization failed", err.Error())
	}
	return domain.StepSuccess(message, raw)
}

// Compensate has nothing to undo: route optimization leaves no state behind
// in the ROS. It still reports success so the unwind trail is complete.
func (a *RouteOptimizationAdapter) Compensate(ctx context.Context, orderNumber string) domain.StepResult {
	return domain.StepSuccess("no compensation required for route optimization", "")
}
