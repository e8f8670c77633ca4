package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Query string `json:"query" validate:"required,max=10"`
	Depth int    `json:"depth" validate:"omitempty,min=1,max=4"`
	Kind  string `json:"kind" validate:"omitempty,oneof=text html"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(&sample{Query: "天安门"}))

	err := Struct(&sample{})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "query is required")

	err = Struct(&sample{Query: "q", Depth: 9, Kind: "pdf"})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "depth must be at most 4")
	assert.Contains(t, err.Error(), "kind must be one of [text html]")
}

func TestBind(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		var req sample
		if err := Bind(c, &req); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		return c.SendString(req.Query)
	})

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"query":"故宫"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"query":`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestMiddlewareContentType(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{}))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest("POST", "/", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/xml")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	req = httptest.NewRequest("POST", "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "天安门", Sanitize("  天\x00安门 \n"))
}
