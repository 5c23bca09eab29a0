package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

func TestRunRejectsMemoryQueue(t *testing.T) {
	err := run(context.Background(), &appconfig.Config{UseMemoryQueue: true}, logging.NewWithWriter("error", io.Discard))
	require.ErrorIs(t, err, errMemoryQueue)
}
