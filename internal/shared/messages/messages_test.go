package messages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	msgs, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), msgs)
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enrollment_expired":{"title":"Sign in again"}}`), 0o600))

	msgs, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Sign in again", msgs.EnrollmentExpired.Title)
	assert.Equal(t, Defaults().EnrollmentExpired.Body, msgs.EnrollmentExpired.Body)
	assert.Equal(t, Defaults().EnrollmentDisconnected, msgs.EnrollmentDisconnected)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	title, body := Defaults().VerificationProcessed.Render("Chase", "verified")
	assert.Equal(t, "Account verification", title)
	assert.Equal(t, "Verification of your Chase account finished: verified.", body)
}
