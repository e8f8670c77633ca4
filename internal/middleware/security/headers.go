package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// ParseOrigins splits a comma separated origin list. "*" or an empty value
// means any origin.
func ParseOrigins(csv string) []string {
	var out []string
	for _, o := range strings.Split(csv, ",") {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		out = append(out, strings.TrimRight(o, "/"))
	}
	return out
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'self'; " +
		"img-src 'self' data: https:; " +
		"media-src 'self' blob: data:; " +
		"connect-src 'self' " + connectSrc(cfg.AllowedOrigins) + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", csp)
		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		return c.Next()
	}
}

// CORS allows the configured origins, or any origin when none are set.
func CORS(cfg HeadersConfig) fiber.Handler {
	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ",")
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	})
}

func connectSrc(origins []string) string {
	// Websocket chat connects back to the same host.
	parts := []string{"ws:", "wss:"}
	parts = append(parts, origins...)
	return strings.Join(parts, " ")
}
