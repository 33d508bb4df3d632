package devtoken

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	now := time.Now().UTC()
	secret := []byte("s3cret")

	token, err := Build(Params{
		Secret:    secret,
		Subject:   "dashboard",
		ActorID:   1164597199594852395,
		Staff:     true,
		ExpiresIn: 10 * time.Minute,
	}, now)
	require.NoError(t, err)
	require.Len(t, strings.Split(token, "."), 3)

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return secret, nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "HS256", parsed.Method.Alg())
	require.Equal(t, "dashboard", claims["sub"])
	require.Equal(t, "1164597199594852395", claims["actor_id"])
	require.Equal(t, true, claims["staff"])
	require.Equal(t, float64(now.Add(10*time.Minute).Unix()), claims["exp"])
}

func TestBuildOmitsActorWhenZero(t *testing.T) {
	token, err := Build(Params{Secret: []byte("k"), Subject: "cron"}, time.Now())
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return []byte("k"), nil })
	require.NoError(t, err)
	_, ok := parsed.Claims.(jwt.MapClaims)["actor_id"]
	require.False(t, ok)
}

func TestBuildValidation(t *testing.T) {
	_, err := Build(Params{Subject: "x"}, time.Time{})
	require.Error(t, err)

	_, err = Build(Params{Secret: []byte("k")}, time.Time{})
	require.Error(t, err)

	_, err = Build(Params{Secret: []byte("k"), Subject: "x", ActorID: -1}, time.Time{})
	require.Error(t, err)
}
