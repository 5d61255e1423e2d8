package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func specs() []ParamSpec {
	return []ParamSpec{
		{Name: "ip", Class: ClassUnique},
		{Name: "password", Class: ClassPrivate},
		{Name: "monitor_interval", Class: ClassReloadable},
	}
}

func TestRestartDigestIgnoresReloadableChange(t *testing.T) {
	base := map[string]string{"ip": "10.0.0.1", "password": "secret", "monitor_interval": "10s"}
	changed := map[string]string{"ip": "10.0.0.1", "password": "secret", "monitor_interval": "30s"}

	assert.Equal(t, RestartDigest(base, specs()), RestartDigest(changed, specs()))
}

func TestRestartDigestChangesOnUniqueParam(t *testing.T) {
	base := map[string]string{"ip": "10.0.0.1", "password": "secret", "monitor_interval": "10s"}
	changed := map[string]string{"ip": "10.0.0.2", "password": "secret", "monitor_interval": "10s"}

	assert.NotEqual(t, RestartDigest(base, specs()), RestartDigest(changed, specs()))
}

func TestSecureDigestIgnoresPrivateParam(t *testing.T) {
	base := map[string]string{"ip": "10.0.0.1", "password": "secret", "monitor_interval": "10s"}
	changed := map[string]string{"ip": "10.0.0.1", "password": "different", "monitor_interval": "10s"}

	assert.Equal(t, SecureDigest(base, specs()), SecureDigest(changed, specs()))
}

func TestSecureDigestChangesOnUniqueParam(t *testing.T) {
	base := map[string]string{"ip": "10.0.0.1", "password": "secret", "monitor_interval": "10s"}
	changed := map[string]string{"ip": "10.0.0.2", "password": "secret", "monitor_interval": "10s"}

	assert.NotEqual(t, SecureDigest(base, specs()), SecureDigest(changed, specs()))
}

func TestDigestOfIsOrderIndependent(t *testing.T) {
	params := map[string]string{"b": "2", "a": "1", "c": "3"}
	include := func(string) bool { return true }

	assert.Equal(t, digestOf(params, include), digestOf(params, include))
}
