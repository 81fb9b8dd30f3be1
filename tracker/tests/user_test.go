package tests

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupBootstrapsOwnPlayer(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	info, err := user.userInfo()
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.False(t, info.Admin)
	require.NotEmpty(t, info.PlayerId)

	player, err := user.playerInfo(info.PlayerId.String(), false)
	require.NoError(t, err)
	assert.Equal(t, "alice", player.Name)
	assert.True(t, player.IsUser)

	// The user's own player record cannot be deleted.
	err = user.Delete(fmt.Sprintf("/players/%v", info.PlayerId)).Do(nil)
	assert.Error(t, err)
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	_, err := c.signup("alice", "alice@mail.com", "password1")
	require.NoError(t, err)

	_, err = c.signup("bob", "alice@mail.com", "password2")
	assert.Error(t, err)

	_, err = c.signup("alice", "alice2@mail.com", "password3")
	assert.Error(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	login, err := c.signup("alice", "alice@mail.com", "password1")
	require.NoError(t, err)

	err = c.login(loginInfo{Email: login.Email, Password: "wrong_password"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, c.login(login))

	_, err = c.userInfo()
	require.NoError(t, err)
}

func TestUserCreationIsAdminOnly(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	body := map[string]string{"username": "bob", "email": "bob@mail.com", "password": "bob_password"}
	err = user.Post("/user/create").Json(body).Do(nil)
	assert.Error(t, err)

	admin, err := env.adminClient()
	require.NoError(t, err)

	var res map[string]string
	require.NoError(t, admin.Post("/user/create").Json(body).Do(&res))
	require.NotEmpty(t, res["user_id"])

	err = user.Delete(fmt.Sprintf("/user/%v", res["user_id"])).Do(nil)
	assert.Error(t, err)

	require.NoError(t, admin.Delete(fmt.Sprintf("/user/%v", res["user_id"])).Do(nil))
}
