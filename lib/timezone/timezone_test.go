package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNow(t *testing.T) {
	now := Now()
	require.Equal(t, Location, now.Location())

	// same instant as the system clock, only the zone moves
	require.InDelta(t, time.Now().Unix(), now.Unix(), 2)
}
