package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	t.Run("accepts every known role regardless of case and padding", func(t *testing.T) {
		cases := map[string]Role{
			"ADMIN":    RoleAdmin,
			"editor":   RoleEditor,
			" User ":   RoleUser,
			"aDmIn":    RoleAdmin,
			"EDITOR\n": RoleEditor,
		}
		for raw, want := range cases {
			got, err := ParseRole(raw)
			require.NoError(t, err, raw)
			require.Equal(t, want, got)
		}
	})

	t.Run("rejects unmapped values loudly", func(t *testing.T) {
		for _, raw := range []string{"", "root", "viewer", "ADMINS"} {
			_, err := ParseRole(raw)
			require.ErrorIs(t, err, ErrUnknownRole, raw)
		}
	})
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a@x.com", NormalizeEmail("  A@X.Com "))
}

func TestUserSummaryOmitsHash(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := User{ID: "u1", Email: "a@x.com", PasswordHash: "secret-hash", Role: RoleEditor, IsActive: true, CreatedAt: created}

	require.Equal(t, UserSummary{ID: "u1", Email: "a@x.com", Role: RoleEditor, IsActive: true, CreatedAt: created}, u.Summary())
}
