package cmd

import (
	"fmt"
	"github.com/cyanoflame/FluffleDiscordBot-sub000/fluffle"
	"github.com/stretchr/testify/assert"
	"io"
	"os"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := fluffle.Version
	originalCommitSHA := fluffle.CommitSHA
	originalBuildTime := fluffle.BuildTime

	t.Cleanup(
		func() {
			fluffle.Version = originalVersion
			fluffle.CommitSHA = originalCommitSHA
			fluffle.BuildTime = originalBuildTime
		},
	)

	fluffle.Version = "1.0.0"
	fluffle.CommitSHA = "abc123"
	fluffle.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		fluffle.Version,
		fluffle.CommitSHA,
		fluffle.BuildTime,
	)
	assert.Equal(t, expected, output)
}
