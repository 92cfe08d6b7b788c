package httpapi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerNBTRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/pe/player/nbt/Alice", testToken, []byte{0x0a, 0x00, 0x01})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/pe/player/nbt/Alice", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x0a, 0x00, 0x01}, rec.Body.Bytes())
}

func TestWorldBlobLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/pe/world/overworld", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/pe/world/overworld", testToken, "PK-zip")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/pe/world/overworld", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PK-zip", rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/pe/world/overworld", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/pe/world/overworld", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlobUploadTooLarge(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/pe/player/nbt/Alice", testToken, strings.Repeat("x", 17))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/pe/player/nbt/Alice", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlobRejectsTraversal(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/pe/player/nbt/..", testToken, "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlobRequiresToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/pe/player/nbt/Alice", "", "x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, _, err := f.blobs.Get("player", "Alice")
	assert.Error(t, err, "rejected upload must not reach the store")
}
