package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/httpapi"
	"medcabinet.org/internal/session"
)

type harness struct {
	t         *testing.T
	server    string
	tokenFile string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hasher, err := auth.NewPINHasher("pinctl-test-salt", bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.NewMemoryUserStore(), auth.NewMemorySessionStore(), hasher)
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.New(httpapi.Options{
		Version: "test", Auth: svc, RateBurst: 1000, RatePerSec: 1000,
	}).Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, server: srv.URL, tokenFile: filepath.Join(t.TempDir(), "session")}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	full := append([]string{"-server", h.server, "-token-file", h.tokenFile}, args...)
	err := run(context.Background(), full, &out)
	return out.String(), err
}

func lastField(s string) string {
	fields := strings.Fields(s)
	return fields[len(fields)-1]
}

func TestPinctlFlow(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "pinctl setup")

	out, err = h.run("setup", "-nom", "Benali", "-prenom", "Mohamed", "-pin", "1234")
	require.NoError(t, err)
	adminID := lastField(out)

	out, err = h.run("login", "-user", adminID, "-pin", "1234")
	require.NoError(t, err)
	assert.Equal(t, "signed in as Mohamed Benali (medecin)\n", out)

	out, err = h.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, adminID)

	out, err = h.run("create-user", "-nom", "Haddad", "-prenom", "Amina", "-pin", "5678", "-role", "secretaire")
	require.NoError(t, err)
	secID := lastField(out)

	out, err = h.run("users")
	require.NoError(t, err)
	assert.Contains(t, out, secID)

	_, err = h.run("update-user", "-id", secID, "-active=false")
	require.NoError(t, err)

	out, err = h.run("users")
	require.NoError(t, err)
	assert.NotContains(t, out, secID)

	out, err = h.run("users", "-all")
	require.NoError(t, err)
	assert.Contains(t, out, secID)
	assert.Contains(t, out, "false")

	_, err = h.run("reset-pin", "-id", adminID, "-pin", "4321")
	require.NoError(t, err)

	_, err = h.run("unlock", "-pin", "1234")
	require.Error(t, err)
	assert.Equal(t, "PIN incorrect. 2 tentative(s) restante(s)", describe(err))

	_, err = h.run("unlock", "-pin", "4321")
	require.NoError(t, err)

	out, err = h.run("logout")
	require.NoError(t, err)
	assert.Equal(t, "signed out\n", out)

	out, err = h.run("status")
	require.NoError(t, err)
	assert.Equal(t, "not signed in\n", out)

	_, err = h.run("create-user", "-nom", "X", "-prenom", "Y", "-pin", "1111")
	assert.ErrorIs(t, err, session.ErrNoUser)
}

func TestPinctlUsage(t *testing.T) {
	h := newHarness(t)

	_, err := h.run()
	assert.ErrorIs(t, err, errUsage)

	_, err = h.run("frobnicate")
	assert.ErrorIs(t, err, errUsage)

	_, err = h.run("login", "-user", "someone")
	require.Error(t, err)
	assert.Equal(t, "-pin is required", describe(err))

	_, err = h.run("update-user", "-id", "x", "-active", "maybe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-active")
}
