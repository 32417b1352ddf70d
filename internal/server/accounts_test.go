package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/manasearch/internal/models"
)

func (e *testEnv) register(t *testing.T, email, password string) *models.User {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/users", models.AccountInput{Email: email, Password: password})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return ptr(decode[models.User](t, w))
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[models.LoginResponse](t, w).AccessToken
}

func ptr[T any](v T) *T { return &v }

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func TestAccounts_RegisterLoginLogout(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	seedCatalog(t, env)

	u := env.register(t, "Chandra@Example.com", "pyromancy")
	assert.Equal(t, "chandra@example.com", u.Email)
	assert.Equal(t, models.UserTypeClient, u.UserType)

	tests := []struct {
		name string
		in   models.AccountInput
		want int
	}{
		{"duplicate email", models.AccountInput{Email: "chandra@example.com", Password: "another"}, http.StatusConflict},
		{"short password", models.AccountInput{Email: "nissa@example.com", Password: "123"}, http.StatusBadRequest},
		{"bad email", models.AccountInput{Email: "nissa", Password: "zendikar"}, http.StatusBadRequest},
		{"unknown type", models.AccountInput{Email: "nissa@example.com", Password: "zendikar", UserType: "lich"}, http.StatusBadRequest},
		{"anonymous admin", models.AccountInput{Email: "nissa@example.com", Password: "zendikar", UserType: "admin"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/users", tt.in)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "chandra@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "chandra@example.com", Password: "pyromancy"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")
	resp := decode[models.LoginResponse](t, w)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, u.ID, resp.User.ID)
	token := resp.AccessToken

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Text: "bolt"}, bearer(token)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	n, err := env.store.CountHistory(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d", u.ID), nil, bearer(token)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, u.Email, decode[models.User](t, w).Email)

	other := env.register(t, "gideon@example.com", "sunblade")
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d", other.ID), nil, bearer(token)...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/users", nil, bearer(token)...)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(token)...)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Text: "bolt"}, bearer(token)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Tokens without a session can authenticate but cannot log out.
	w = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(signToken(t, fmt.Sprint(u.ID)))...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccounts_AdminAccess(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	ctx := context.Background()

	_, err := env.accounts.CreateAccount(ctx, models.AccountInput{
		Email: "urza@example.com", Password: "tolarian", UserType: models.UserTypeAdmin,
	})
	require.NoError(t, err)
	client := env.register(t, "mishra@example.com", "brothers")
	adminToken := env.login(t, "urza@example.com", "tolarian")
	clientToken := env.login(t, "mishra@example.com", "brothers")

	w := env.do(t, http.MethodGet, "/api/v1/users", nil, bearer(adminToken)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.User](t, w), 2)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/history", client.ID), nil, bearer(adminToken)...)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/users",
		models.AccountInput{Email: "karn@example.com", Password: "silver", UserType: models.UserTypeAdmin}, bearer(adminToken)...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, models.UserTypeAdmin, decode[models.User](t, w).UserType)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/users/%d", client.ID), nil, bearer(adminToken)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d", client.ID), nil, bearer(adminToken)...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The deleted user's session is gone with the account.
	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Text: "bolt"}, bearer(clientToken)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFavorites_HeaderAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cards := seedCatalog(t, env)
	u := env.register(t, "liliana@example.com", "necromancy")
	base := fmt.Sprintf("/api/v1/users/%d/favorites", u.ID)

	w := env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Card](t, w))

	w = env.do(t, http.MethodPost, base, favoriteRequest{CardID: cards[1].ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Counterspell", decode[models.Card](t, w).Name)
	w = env.do(t, http.MethodPost, base, favoriteRequest{CardID: cards[0].ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, base, favoriteRequest{CardID: cards[1].ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, base, favoriteRequest{CardID: 999})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, base, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	favs := decode[[]models.Card](t, w)
	require.Len(t, favs, 2)
	assert.Equal(t, cards[1].ID, favs[0].ID)
	assert.Equal(t, cards[0].ID, favs[1].ID)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", base, cards[1].ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", base, cards[1].ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/users/999/favorites", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFavorites_BearerScope(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret})
	cards := seedCatalog(t, env)
	owner := env.register(t, "jace@example.com", "beleren")
	env.register(t, "vraska@example.com", "golgari")
	ownerToken := env.login(t, "jace@example.com", "beleren")
	otherToken := env.login(t, "vraska@example.com", "golgari")
	base := fmt.Sprintf("/api/v1/users/%d/favorites", owner.ID)

	w := env.do(t, http.MethodPost, base, favoriteRequest{CardID: cards[2].ID}, bearer(ownerToken)...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, base, nil, bearer(otherToken)...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", base, cards[2].ID), nil, bearer(otherToken)...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAccounts_NotEnabled(t *testing.T) {
	env := newTestEnv(t, envOptions{noAccounts: true})
	w := env.do(t, http.MethodPost, "/api/v1/users", models.AccountInput{Email: "a@example.com", Password: "secret"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/users/1/favorites", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	// Login needs a signing key even when accounts are on.
	env = newTestEnv(t, envOptions{})
	env.register(t, "a@example.com", "secret")
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "a@example.com", Password: "secret"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAuth_SessionTokenNeedsAccounts(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: testSecret, noAccounts: true})
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "4",
		ID:        "session-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Text: "bolt"}, bearer(raw)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
