package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only when RECEPTION_TEST_DATABASE_URL points at a disposable database.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("RECEPTION_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RECEPTION_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pg, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pg.Pool(), nil))
	t.Cleanup(pg.Close)
	return pg
}

func TestPostgres_RoundTrip(t *testing.T) {
	pg := openTestPostgres(t)
	ctx := context.Background()

	biz := &Business{
		Name:         "Drain Bros",
		TwilioNumber: "+61290000000-" + time.Now().Format("150405.000"),
		Services:     []Service{{Name: "Blocked drain", DurationMinutes: 60}},
		WorkingHours: WorkingHours{"monday": "7am-5pm"},
		AIConfig:     AIConfig{Timezone: "Australia/Sydney"},
	}
	require.NoError(t, pg.SaveBusiness(ctx, biz))

	got, err := pg.GetBusinessByNumber(ctx, biz.TwilioNumber)
	require.NoError(t, err)
	assert.Equal(t, biz.ID, got.ID)
	assert.Equal(t, "Blocked drain", got.Services[0].Name)
	assert.Equal(t, "7am-5pm", got.WorkingHours["monday"])

	_, err = pg.GetBusiness(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	call := &Call{BusinessID: biz.ID, CallSID: "CA" + biz.ID, CallerPhone: "0412000000"}
	require.NoError(t, pg.CreateCall(ctx, call))
	line := "Customer: hi\nAI: hello"
	require.NoError(t, pg.UpdateCall(ctx, call.ID, CallUpdate{AppendTranscript: &line}))

	when := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	booking := &Booking{BusinessID: biz.ID, CallID: call.ID, CustomerName: "John", CustomerPhone: "0412000000", Service: "Blocked drain", BookingDatetime: when, Status: BookingConfirmed}
	require.NoError(t, pg.CreateBooking(ctx, booking))

	latest, err := pg.LatestBookingByPhone(ctx, biz.ID, "0412000000")
	require.NoError(t, err)
	assert.Equal(t, booking.ID, latest.ID)
	assert.True(t, latest.BookingDatetime.Equal(when))

	storedCall, err := pg.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, line, storedCall.Transcript)
}
