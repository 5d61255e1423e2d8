package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskPrivateParams(t *testing.T) {
	params := map[string]string{
		"ipaddr":   "10.0.0.5",
		"password": "hunter2",
	}
	masked := MaskPrivateParams(params, map[string]bool{"password": true})

	assert.Equal(t, "10.0.0.5", masked["ipaddr"])
	assert.Equal(t, "******", masked["password"])
}

func TestClusterEncryptDecryptRoundTrip(t *testing.T) {
	require.NoError(t, SetClusterEncryptionKey(DeriveKeyFromClusterID("test-cluster")))

	ciphertext, err := Encrypt([]byte("device-credential"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("device-credential"), ciphertext)

	plaintext, err := Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "device-credential", string(plaintext))
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	require.NoError(t, SetClusterEncryptionKey(DeriveKeyFromClusterID("test-cluster")))

	_, err := Decrypt([]byte("x"))
	assert.Error(t, err)
}

func TestEncryptRequiresClusterKey(t *testing.T) {
	clusterEncryptionKey = nil
	_, err := Encrypt([]byte("device-credential"))
	assert.Error(t, err)
}

func TestSetClusterEncryptionKeyRejectsWrongSize(t *testing.T) {
	err := SetClusterEncryptionKey([]byte("too-short"))
	assert.Error(t, err)
}
