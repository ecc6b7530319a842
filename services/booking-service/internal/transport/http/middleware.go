package httpx

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	a "github.com/asiradnan/musical-bassoon/pkg/auth"
	"github.com/asiradnan/musical-bassoon/pkg/obs"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
)

const (
	ctxSub   = "sub"
	ctxRole  = "role"
	ctxEmail = "email"
	ctxAdmin = "admin"
)

// Tracing starts a server span per request, continuing any W3C trace context
// the caller sent.
func Tracing(service string) gin.HandlerFunc {
	tracer := obs.Tracer(service)
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "not authorized, no token"})
			return
		}
		claims, err := a.ParseValidate(secret, strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "not authorized, token failed"})
			return
		}
		c.Set(ctxSub, claims.Sub)
		c.Set(ctxRole, claims.Role)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxAdmin, claims.IsAdmin())
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ctxRole)
		if _, ok := allowed[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden", "message": "not authorized as an admin"})
			return
		}
		c.Next()
	}
}

// actorFrom builds the lifecycle actor from the claims JWTAuth stored.
func actorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{
		UserID: c.GetString(ctxSub),
		Email:  c.GetString(ctxEmail),
		Admin:  c.GetBool(ctxAdmin),
	}
}
