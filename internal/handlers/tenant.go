package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/httpx"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/requestctx"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

const tenantParam = "tenant"

// TenantMiddleware resolves the {tenant} slug and stores the tenant on the request context.
func TenantMiddleware(tenants repositories.TenantRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tenants == nil {
				httpx.WriteError(ctx, w, httpx.NewError("tenant_service_unavailable", "tenant lookup unavailable", http.StatusServiceUnavailable))
				return
			}
			slug := strings.TrimSpace(chi.URLParam(r, tenantParam))
			if slug == "" {
				httpx.WriteError(ctx, w, httpx.NewError("tenant_not_found", "tenant not found", http.StatusNotFound))
				return
			}
			tenant, err := tenants.FindBySlug(ctx, slug)
			if err != nil {
				switch {
				case repositories.IsNotFound(err):
					httpx.WriteError(ctx, w, httpx.NewError("tenant_not_found", "tenant not found", http.StatusNotFound))
				case repositories.IsUnavailable(err):
					httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable).AsRetryable())
				default:
					requestctx.Logger(ctx).Error("tenant lookup failed", zap.String("slug", slug), zap.Error(err))
					httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to resolve tenant", http.StatusInternalServerError))
				}
				return
			}
			ctx = requestctx.WithTenant(ctx, tenant)
			ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("tenantId", tenant.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tenantFromRequest returns the tenant placed by TenantMiddleware, writing a 404 when absent.
func tenantFromRequest(w http.ResponseWriter, r *http.Request) (domain.Tenant, bool) {
	tenant, ok := requestctx.Tenant(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("tenant_not_found", "tenant not found", http.StatusNotFound))
		return domain.Tenant{}, false
	}
	return tenant, true
}
