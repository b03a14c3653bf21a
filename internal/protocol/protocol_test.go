package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slothive/internal/slot"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sent := SlotFoundPayload{
		Slots:     []slot.Descriptor{{Date: "2025-06-01", SlotID: "42", Time: "09:00"}},
		DataParam: "MAR/casablanca",
		Timestamp: time.Date(2025, 6, 1, 8, 59, 0, 0, time.UTC),
	}

	frame, err := Encode(TypeSlotFound, sent)
	require.NoError(t, err)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeSlotFound, env.Type)

	got, err := DecodePayload[SlotFoundPayload](env)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestDecode_RejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestStats_AddMergesIncrementally(t *testing.T) {
	total := Stats{Checks: 10, SlotsFound: 1}
	total.Add(Stats{Checks: 3, Bookings: 1})
	assert.Equal(t, Stats{Checks: 13, SlotsFound: 1, Bookings: 1}, total)
}
