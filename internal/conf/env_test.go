package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		wantErr bool
	}{
		{"true", false},
		{"0", false},
		{" true ", false},
		{"yes", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			err := validateEnvBool(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid boolean value")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvURL(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvURL("http://localhost:1026"))
	assert.NoError(t, validateEnvURL("https://orion.example.org"))
	assert.Error(t, validateEnvURL("localhost:1026"))
	assert.Error(t, validateEnvURL("ftp://orion"))
	assert.Error(t, validateEnvURL("http://"))
}

func TestValidateEnvPort(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvPort("5001"))
	assert.Error(t, validateEnvPort("0"))
	assert.Error(t, validateEnvPort("65536"))
	assert.Error(t, validateEnvPort("http"))
}

func TestValidateEnvDuration(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvDuration("2s"))
	assert.Error(t, validateEnvDuration("-1s"))
	assert.Error(t, validateEnvDuration("soon"))
}

func TestValidateEnvLogLevel(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvLogLevel("DEBUG"))
	assert.Error(t, validateEnvLogLevel("verbose"))
}

func TestEnvBindingsCoverBrokerEndpoint(t *testing.T) {
	t.Parallel()

	var found bool
	for _, b := range getEnvBindings() {
		if b.EnvVar == "ORION_CB_ENDPOINT" {
			found = true
			assert.Equal(t, "broker.url", b.ConfigKey)
		}
	}
	assert.True(t, found)
}
