package feedsync

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func testSessionJwt(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)
	return signed
}

func TestParseSessionJwtUnverified(t *testing.T) {
	sessionJwt := testSessionJwt(t, gojwt.MapClaims{
		"user_id":  float64(42),
		"username": "ada",
	})

	claims, err := ParseSessionJwtUnverified(sessionJwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, EntityId(42), claims.UserId)
	assert.Equal(t, "ada", claims.Username)
}

func TestParseSessionJwtStringUserId(t *testing.T) {
	sessionJwt := testSessionJwt(t, gojwt.MapClaims{
		"user_id": "17",
	})

	claims, err := ParseSessionJwtUnverified(sessionJwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, EntityId(17), claims.UserId)
}

func TestParseSessionJwtMalformed(t *testing.T) {
	_, err := ParseSessionJwtUnverified("not a jwt")
	assert.NotEqual(t, err, nil)
}

func TestClientDefaultAuthorFromJwt(t *testing.T) {
	fetcher := newStubFetcher(nil, nil)
	settings := DefaultClientSettings()
	settings.AuthJwt = testSessionJwt(t, gojwt.MapClaims{
		"user_id": float64(9),
	})
	client := NewClient(context.Background(), fetcher, newTestClock(), settings)
	defer client.Close()

	created, err := client.AddPost(context.Background(), &PostDraft{
		Title: "hello",
		Body:  "world",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, EntityId(9), created.UserId)
}
