package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitlab/digitlab/internal/buildinfo"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := RootCommand(buildinfo.NewContext("1.4.0", "2026-10-16"))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(t.Context()))
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")
	assert.Equal(t, "digitlab 1.4.0 (built 2026-10-16)\n", out)
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	dir := t.TempDir()
	out := execute(t, "config",
		"--port", "6000",
		"--broker", "http://orion.internal:1026",
		"--images", dir)

	assert.Contains(t, out, `port: "6000"`)
	assert.Contains(t, out, "url: http://orion.internal:1026")
	assert.Contains(t, out, "imagesdir: "+dir)
}

func TestConfigCommandDefaults(t *testing.T) {
	out := execute(t, "config")

	assert.Contains(t, out, `port: "5001"`)
	assert.Contains(t, out, "url: http://localhost:1026")
	assert.Contains(t, out, "imagesdir: collected_images")
}

func TestUnknownCommandFails(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := RootCommand(buildinfo.NewContext("1.4.0", ""))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"train"})
	assert.Error(t, root.Execute())
}
