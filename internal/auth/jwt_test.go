package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"restoran-fulfillment/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestValidateRoundTrip(t *testing.T) {
	v := NewJWTValidator(testSecret)
	tok, err := GenerateToken(testSecret, Identity{SubjectID: "k1", Role: models.RoleKitchen, Station: "grill"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{SubjectID: "k1", Role: models.RoleKitchen, Station: "grill"}, id)
}

func TestValidateRejects(t *testing.T) {
	v := NewJWTValidator(testSecret)

	expired, err := GenerateToken(testSecret, Identity{SubjectID: "c1", Role: models.RoleCustomer}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	otherKey, err := GenerateToken("ffffffffffffffffffffffffffffffff", Identity{SubjectID: "c1", Role: models.RoleCustomer}, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(otherKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badRole, err := GenerateToken(testSecret, Identity{SubjectID: "x", Role: "chef"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(badRole)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	v := NewJWTValidator(testSecret)
	app := fiber.New()
	app.Get("/kitchen", JWTMiddleware(v), RequireRole(models.RoleKitchen, models.RoleAdmin), func(c *fiber.Ctx) error {
		id, err := CurrentIdentity(c)
		if err != nil {
			return err
		}
		return c.SendString(id.SubjectID + "@" + id.Station)
	})

	req := httptest.NewRequest("GET", "/kitchen", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	customer, _ := GenerateToken(testSecret, Identity{SubjectID: "c1", Role: models.RoleCustomer}, time.Hour)
	req = httptest.NewRequest("GET", "/kitchen", nil)
	req.Header.Set("Authorization", "Bearer "+customer)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	cook, _ := GenerateToken(testSecret, Identity{SubjectID: "k1", Role: models.RoleKitchen, Station: "bar"}, time.Hour)
	req = httptest.NewRequest("GET", "/kitchen", nil)
	req.Header.Set("Authorization", "Bearer "+cook)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
