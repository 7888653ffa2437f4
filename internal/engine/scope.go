package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// DefaultLookback is the window used when the request carries no time range.
const DefaultLookback = time.Hour

// ScopeCatalog lists the services and environments known to the telemetry store.
type ScopeCatalog interface {
	Catalog(ctx context.Context, service string) (models.ScopeCatalog, error)
}

// ScopeResolver turns a request into the immutable scope of one run.
type ScopeResolver struct {
	catalog  ScopeCatalog
	lookback time.Duration
	strict   bool
	now      func() time.Time
	logger   *slog.Logger
}

// NewScopeResolver constructs a resolver. With strict set and a catalog
// present, services unknown to the catalog are rejected.
func NewScopeResolver(logger *slog.Logger, catalog ScopeCatalog, lookback time.Duration, strict bool) *ScopeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &ScopeResolver{
		catalog:  catalog,
		lookback: lookback,
		strict:   strict,
		now:      time.Now,
		logger:   logger,
	}
}

// Resolve derives the scope from the question and request parameters. Every
// failure wraps utils.ErrScopeResolution.
func (r *ScopeResolver) Resolve(ctx context.Context, req models.InvestigationRequest) (models.Scope, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return models.Scope{}, scopeError("question is required")
	}

	end := req.TimeRange.End
	if end.IsZero() {
		end = r.now()
	}
	start := req.TimeRange.Start
	if start.IsZero() {
		start = end.Add(-r.lookback)
	}
	if end.Before(start) {
		return models.Scope{}, scopeError(fmt.Sprintf("time range end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)))
	}

	service := strings.TrimSpace(req.Service)
	environment := strings.TrimSpace(req.Environment)
	if err := r.checkCatalog(ctx, service); err != nil {
		return models.Scope{}, err
	}

	filters := make([]string, 0, len(req.Filters))
	for _, f := range req.Filters {
		if f = strings.TrimSpace(f); f != "" {
			filters = append(filters, strings.ToLower(f))
		}
	}
	filters = utils.UniqueStrings(append(filters, utils.Keywords(question)...))

	return models.Scope{
		Service:     service,
		Environment: environment,
		TimeRange:   models.TimeRange{Start: start.UTC(), End: end.UTC()},
		Filters:     filters,
		Fingerprint: Fingerprint(question, service, environment),
	}, nil
}

func (r *ScopeResolver) checkCatalog(ctx context.Context, service string) error {
	if !r.strict || r.catalog == nil || service == "" {
		return nil
	}
	catalog, err := r.catalog.Catalog(ctx, "")
	if err != nil {
		r.logger.Warn("scope catalog unavailable, skipping service check", slog.Any("error", err))
		return nil
	}
	if len(catalog.Services) == 0 {
		return nil
	}
	for _, known := range catalog.Services {
		if strings.EqualFold(known, service) {
			return nil
		}
	}
	return scopeError(fmt.Sprintf("service %q is not present in telemetry", service))
}

// Fingerprint identifies repeated investigations of the same question and scope.
func Fingerprint(question, service, environment string) string {
	return utils.ContentHash(utils.NormalizeText(question), strings.ToLower(service), strings.ToLower(environment))[:16]
}

func scopeError(msg string) error {
	return utils.KindError("resolve scope", utils.ErrScopeResolution, fmt.Errorf("%s", msg))
}
