package study

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePartType(t *testing.T) {
	tests := []struct {
		in      string
		want    PartType
		wantErr bool
	}{
		{"part5", Part5, false},
		{"part6", Part6, false},
		{"part7", Part7, false},
		{"part4", "", true},
		{"", "", true},
		{"PART5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePartType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = ParseDifficulty("hard")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, Hard, *d)

	_, err = ParseDifficulty("brutal")
	assert.True(t, IsValidation(err))
}

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	unavail := fmt.Errorf("insert answer: %w", &UnavailableError{Op: "upsert_answer", Err: base})

	assert.True(t, IsUnavailable(unavail))
	assert.False(t, IsConflict(unavail))
	assert.ErrorIs(t, unavail, base)

	conflict := fmt.Errorf("insert session: %w", &ConflictError{Resource: "study_session", Key: "s1"})
	assert.True(t, IsConflict(conflict))
	assert.False(t, IsUnavailable(conflict))

	assert.True(t, IsInvalidState(&InvalidStateError{Op: "complete", State: "completed"}))
	assert.True(t, IsOutOfRange(&OutOfRangeError{Index: 3, Total: 3}))
}

func TestDayUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on the 14th is already the 15th in Tokyo.
	instant := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), Day(instant, time.UTC))
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), Day(instant, tokyo))
}

func TestWeekAndMonthStart(t *testing.T) {
	// 2026-10-15 is a Thursday.
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WeekStart(day))
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), MonthStart(day))

	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, WeekStart(monday))

	sunday := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, WeekStart(sunday))
}
