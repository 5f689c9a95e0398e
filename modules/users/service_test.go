package users_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/qualityapi/common"
	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/internal/apitest"
	"github.com/guarzo/qualityapi/modules/api"
	"github.com/guarzo/qualityapi/modules/session"
	"github.com/guarzo/qualityapi/modules/users"
)

func newService(t *testing.T, email string) (*apitest.Server, api.Client, users.Service) {
	t.Helper()
	srv := apitest.New(t)
	srv.AddUser("admin@b.com", "secret123", "Admin", model.RoleAdmin)
	srv.AddUser("user@b.com", "secret123", "User", model.RoleUser)

	hc, err := common.NewHttpClient(common.HttpClientOptions{})
	require.NoError(t, err)
	client := api.NewClient(srv.URL, hc, nil, nil)
	_, err = client.Login(context.Background(), email, "secret123")
	require.NoError(t, err)
	return srv, client, users.NewService(client, zerolog.Nop())
}

func TestRolesFromFlags(t *testing.T) {
	assert.Equal(t, []string{"User"}, users.RolesFromFlags(false, false))
	assert.Equal(t, []string{"Admin"}, users.RolesFromFlags(true, false))
	assert.Equal(t, []string{"Admin", "User"}, users.RolesFromFlags(true, true))
}

func TestList(t *testing.T) {
	_, _, svc := newService(t, "admin@b.com")
	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "admin@b.com", list[0].Email)
}

func TestCreate(t *testing.T) {
	srv, _, svc := newService(t, "admin@b.com")

	u, err := svc.Create(context.Background(), model.UserCreate{
		Email:    "  New@Example.COM ",
		FullName: " Nuevo ",
		Password: "longenough",
		IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	assert.Equal(t, "Nuevo", u.FullName)
	assert.Equal(t, []string{model.RoleUser}, u.Roles)

	_, pwd, ok := srv.User("new@example.com")
	require.True(t, ok)
	assert.Equal(t, "longenough", pwd)
}

func TestCreate_Validation(t *testing.T) {
	srv, _, svc := newService(t, "admin@b.com")

	cases := map[string]model.UserCreate{
		"bad email":    {Email: "not-an-email", Password: "longenough"},
		"short pass":   {Email: "x@y.com", Password: "short"},
		"unknown role": {Email: "x@y.com", Password: "longenough", Roles: []string{"Root"}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, users.ErrInvalidPayload))
			var verrs validator.ValidationErrors
			assert.True(t, errors.As(err, &verrs))
		})
	}
	assert.Len(t, srv.Requests(), 1, "only the login reached the server")
}

func TestCreate_Duplicate(t *testing.T) {
	_, _, svc := newService(t, "admin@b.com")
	_, err := svc.Create(context.Background(), model.UserCreate{Email: "user@b.com", Password: "longenough"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, common.StatusCode(err))
	assert.Contains(t, err.Error(), "Ya existe")
}

func TestUpdateAndActivation(t *testing.T) {
	srv, _, svc := newService(t, "admin@b.com")
	target, _, _ := srv.User("user@b.com")

	name := "Usuario Renombrado"
	u, err := svc.Update(context.Background(), target.ID, model.UserUpdate{FullName: &name, Roles: []string{}})
	require.NoError(t, err)
	assert.Equal(t, name, u.FullName)
	assert.Equal(t, []string{model.RoleUser}, u.Roles, "empty role set becomes User")

	u, err = svc.SetActive(context.Background(), target.ID, false)
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	_, err = svc.Update(context.Background(), 999, model.UserUpdate{FullName: &name})
	assert.Equal(t, http.StatusNotFound, common.StatusCode(err))

	_, err = svc.Update(context.Background(), target.ID, model.UserUpdate{Roles: []string{"Owner"}})
	assert.True(t, errors.Is(err, users.ErrInvalidPayload))
}

func TestSetPasswordAndDeactivate(t *testing.T) {
	srv, _, svc := newService(t, "admin@b.com")
	target, _, _ := srv.User("user@b.com")

	assert.True(t, errors.Is(svc.SetPassword(context.Background(), target.ID, "short"), users.ErrInvalidPayload))
	require.NoError(t, svc.SetPassword(context.Background(), target.ID, "brandnew123"))
	_, pwd, _ := srv.User("user@b.com")
	assert.Equal(t, "brandnew123", pwd)

	require.NoError(t, svc.Deactivate(context.Background(), target.ID))
	u, _, _ := srv.User("user@b.com")
	assert.False(t, u.IsActive)
	require.Len(t, srv.RequestsTo("/admin/users/2"), 1)
	assert.Equal(t, http.MethodDelete, srv.RequestsTo("/admin/users/2")[0].Method)
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	srv, _, svc := newService(t, "user@b.com")

	_, err := svc.List(context.Background())
	assert.True(t, errors.Is(err, session.ErrRoleRequired))
	assert.True(t, errors.Is(svc.Deactivate(context.Background(), 1), session.ErrRoleRequired))
	assert.Empty(t, srv.RequestsTo("/admin/users"))
}

func TestChangePassword(t *testing.T) {
	srv, client, svc := newService(t, "user@b.com")
	srv.ExpireAccessTokens()

	require.NoError(t, svc.ChangePassword(context.Background(), "secret123", "evenbetter1"))
	_, pwd, _ := srv.User("user@b.com")
	assert.Equal(t, "evenbetter1", pwd)
	assert.Equal(t, 1, srv.RefreshCalls())

	err := svc.ChangePassword(context.Background(), "wrong", "evenbetter2")
	assert.Equal(t, http.StatusBadRequest, common.StatusCode(err))
	assert.True(t, client.Session().IsAuthenticated())

	err = svc.ChangePassword(context.Background(), "", "evenbetter2")
	assert.True(t, errors.Is(err, users.ErrInvalidPayload))
}
