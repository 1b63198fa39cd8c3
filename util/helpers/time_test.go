package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC)
	require.Equal(t, "2024-03-09 17:04:05", FormatTime(ts))
}
