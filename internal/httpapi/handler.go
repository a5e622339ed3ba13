// Package httpapi is the thin HTTP carrier in front of the firewall engine.
// It owns no policy logic: decisions come back from the router as data and
// are returned with status 200 whether allowed, denied, or downgraded.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/firewall"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/pkg/ratelimit"
)

// UsageStore is the read slice of the ledger the usage endpoint needs.
type UsageStore interface {
	ListEventsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*ledger.UsageEvent, error)
	TotalCostByTenant(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
}

type Handler struct {
	router  *firewall.Router
	usage   UsageStore
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

func NewHandler(router *firewall.Router, usage UsageStore, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		router:  router,
		usage:   usage,
		limiter: limiter,
		tracer:  tracer,
	}
}

type routeBody struct {
	UserID string         `json:"user_id"`
	ToolID string         `json:"tool_id"`
	Units  int64          `json:"units"`
	Params map[string]any `json:"params,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var body routeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.ToolID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool_id is required"})
		return
	}
	if body.Units < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "units must not be negative"})
		return
	}

	allowed, err := h.limiter.Allow(ctx, tenantID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	ctx, span := h.tracer.Start(ctx, "firewall.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", auth.GetRequestID(ctx)),
		attribute.String("tool_id", body.ToolID),
	)

	res := h.router.Route(ctx, &firewall.RouteRequest{
		TenantID: tenantID,
		UserID:   body.UserID,
		ToolID:   body.ToolID,
		Units:    body.Units,
		Params:   body.Params,
	})
	span.SetAttributes(attribute.String("decision", string(res.Decision)))

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	events, err := h.usage.ListEventsByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	totalCost, err := h.usage.TotalCostByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":      tenantID,
		"total_requests": len(events),
		"total_cost_usd": totalCost,
		"events":         events,
		"from":           from,
		"to":             to,
	})
}
