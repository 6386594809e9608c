package fulfillment

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/auth"
	"restoran-fulfillment/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-32"

func newTestApp(h *harness) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apperr.FiberErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))})
	api := app.Group("/api", auth.JWTMiddleware(auth.NewJWTValidator(testSecret)))
	Register(api, h.svc)
	return app
}

func call(t *testing.T, app *fiber.App, method, path string, id auth.Identity, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	tok, err := auth.GenerateToken(testSecret, id, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

var (
	customerC1 = auth.Identity{SubjectID: "c1", Role: models.RoleCustomer}
	customerC2 = auth.Identity{SubjectID: "c2", Role: models.RoleCustomer}
	waiterW1   = auth.Identity{SubjectID: "w1", Role: models.RoleWaiter}
	grillCook  = auth.Identity{SubjectID: "k1", Role: models.RoleKitchen, Station: "grill"}
)

func TestCreateOrderHandlerScopesCustomer(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	in := dineIn(kitchenItem("adana", 12))
	in.CustomerID = "somebody-else"
	in.WaiterID = strp("w9")
	status, body := call(t, app, http.MethodPost, "/api/orders", customerC1, in)
	require.Equal(t, http.StatusCreated, status, string(body))

	var got models.Order
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "c1", got.CustomerID)
	assert.Nil(t, got.WaiterID)
	assert.Len(t, got.Items, 1)

	status, _ = call(t, app, http.MethodPost, "/api/orders", grillCook, in)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestOrderHandlersHideOtherCustomers(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	mine := h.create(t, dineIn(kitchenItem("pide", 8)))
	other := dineIn(kitchenItem("pide", 8))
	other.CustomerID = "c2"
	h.create(t, other)

	status, body := call(t, app, http.MethodGet, "/api/orders/"+mine.ID, customerC2, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), `"code":"not_found"`)

	status, body = call(t, app, http.MethodGet, "/api/orders?customer_id=c1", customerC2, nil)
	require.Equal(t, http.StatusOK, status)
	var list []models.Order
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "c2", list[0].CustomerID)

	status, _ = call(t, app, http.MethodPost, "/api/orders/"+mine.ID+"/cancel", customerC2, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, app, http.MethodPost, "/api/orders/"+mine.ID+"/cancel", customerC1, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUpdateOrderStatusHandlerErrors(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	o := h.create(t, dineIn(kitchenItem("corba", 4)))

	status, body := call(t, app, http.MethodPatch, "/api/orders/"+o.ID+"/status", waiterW1, StatusRequest{Status: "ready"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), `"code":"invalid_transition"`)

	status, _ = call(t, app, http.MethodPatch, "/api/orders/"+o.ID+"/status", waiterW1, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, app, http.MethodPatch, "/api/orders/"+o.ID+"/status", customerC1, StatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = call(t, app, http.MethodPatch, "/api/orders/"+o.ID+"/status", waiterW1, StatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"confirmed"`)
}

func TestKitchenHandlersDefaultToTokenStation(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	o := h.create(t, dineIn(
		kitchenItem("adana", 12),
		CreateItemInput{Name: "Cacik", Quantity: 1, UnitPrice: 3, Station: strp("cold")},
	))
	h.confirm(t, o.ID)

	status, body := call(t, app, http.MethodGet, "/api/kitchen/queue", grillCook, nil)
	require.Equal(t, http.StatusOK, status)
	var queue []models.KitchenQueueEntry
	require.NoError(t, json.Unmarshal(body, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "grill", queue[0].StationName())
	assert.Equal(t, 3, queue[0].Priority)

	status, body = call(t, app, http.MethodGet, "/api/kitchen/queue?station=cold", grillCook, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &queue))
	require.Len(t, queue, 1)

	status, body = call(t, app, http.MethodPost, "/api/kitchen/queue/"+queue[0].ID+"/start", grillCook, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"preparing"`)

	status, body = call(t, app, http.MethodPost, "/api/kitchen/queue/"+queue[0].ID+"/start", grillCook, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), `"code":"invalid_state"`)

	status, _ = call(t, app, http.MethodPost, "/api/kitchen/queue/"+queue[0].ID+"/complete", waiterW1, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = call(t, app, http.MethodGet, "/api/kitchen/stats", grillCook, nil)
	require.Equal(t, http.StatusOK, status)
	var st Stats
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 1, st.Preparing)
}
