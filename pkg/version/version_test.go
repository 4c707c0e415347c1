package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Contains(t, info.GoVersion, "go")
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestInfo_Short(t *testing.T) {
	info := Info{Version: "1.2.0", GitCommit: "0123456789abcdef", Platform: "linux/amd64"}
	assert.Equal(t, "1.2.0 (0123456, linux/amd64)", info.Short())

	info.GitCommit = "unknown"
	assert.Equal(t, "1.2.0 (unknown, linux/amd64)", info.Short())
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "1.0.0", GitCommit: "abc123", GoVersion: "go1.25.1", Platform: "darwin/arm64"}
	assert.Equal(t, "Version: 1.0.0, GitCommit: abc123, GoVersion: go1.25.1, Platform: darwin/arm64", info.String())
}

func TestInfo_JSON(t *testing.T) {
	info := Info{Version: "1.0.0", GitCommit: "abc123", GoVersion: "go1.25.1", Platform: "linux/amd64"}

	out, err := info.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"gitCommit": "abc123"`)
	assert.NotContains(t, out, "buildTime")
}
