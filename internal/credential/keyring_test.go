package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := opener
	opener = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { opener = prev })
}

func TestSetGetDelete(t *testing.T) {
	useArrayKeyring(t)

	require.NoError(t, Set(KeyRelayIMAPPassword, "hunter2"))
	got, err := Get(KeyRelayIMAPPassword)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, Delete(KeyRelayIMAPPassword))
	_, err = Get(KeyRelayIMAPPassword)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, Delete(KeyRelayIMAPPassword))
}

func TestToken(t *testing.T) {
	useArrayKeyring(t)
	t.Setenv(TokenEnv, "")

	tok, err := Token()
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, Set(KeyAPIToken, "stored"))
	tok, err = Token()
	require.NoError(t, err)
	assert.Equal(t, "stored", tok)

	t.Setenv(TokenEnv, "from-env")
	tok, err = Token()
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)
}
