package snap

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-runconnect/internal/directions"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

func TestSnapHandler(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/routes"), NewService(&fakeRouter{err: directions.ErrNotConfigured}, nil))

	body, _ := json.Marshal(Request{Waypoints: original})
	req := httptest.NewRequest(http.MethodPost, "/routes/snap", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("snap status: %v", err)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success || res.Message != msgNotConfigured || len(res.Coordinates) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSnapHandlerValidation(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/routes"), NewService(&fakeRouter{}, nil))

	for _, payload := range []string{
		`{"waypoints":[{"lat":1,"lng":2}]}`,
		`{"waypoints":[{"lat":91,"lng":2},{"lat":1,"lng":2}]}`,
		`{"waypoints":`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/routes/snap", bytes.NewReader([]byte(payload)))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", payload, resp.StatusCode)
		}
	}
}
