// Package testlog wires the shared logger into tests.
package testlog

import (
	"testing"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logger := logging.Tests("test")
	logger.Debug().Str("test", t.Name()).Msg("start")
}
