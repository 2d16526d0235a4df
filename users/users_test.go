package users_test

import (
	"testing"

	"github.com/jrsteele09/go-course-storefront/users"
	fakeuserrepo "github.com/jrsteele09/go-course-storefront/users/repofake"
	"github.com/stretchr/testify/require"
)

func TestAccount_CheckPassword(t *testing.T) {
	hash, err := users.HashPassword("Secret123")
	require.NoError(t, err)

	account := &users.Account{PasswordHash: hash}
	require.True(t, account.CheckPassword("Secret123"))
	require.False(t, account.CheckPassword("secret123"))
}

func TestIdentity_IsZero(t *testing.T) {
	require.True(t, users.Identity{}.IsZero())
	require.False(t, users.Identity{ID: 7}.IsZero())
}

func TestFakeUserRepo(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()

	account := &users.Account{Identity: users.Identity{Name: "Kim", Email: "kim@example.com"}}
	require.NoError(t, repo.Upsert(account))
	require.Equal(t, int64(1), account.ID)

	byEmail, err := repo.GetByEmail("kim@example.com")
	require.NoError(t, err)
	require.Equal(t, account, byEmail)

	_, err = repo.GetByID(42)
	require.Error(t, err)
}
