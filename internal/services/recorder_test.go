package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"reftrack/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCode(t *testing.T, f *fixture, code, owner string) *models.ReferralCode {
	row := &models.ReferralCode{Code: code, OwnerID: owner, Active: true, CreatedAt: t0}
	inserted, err := f.store.CreateCode(context.Background(), row)
	require.NoError(t, err)
	require.True(t, inserted)
	return row
}

func TestEventRecorder_RecordClick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedCode(t, f, "AB12X9", "owner-1")

	t.Run("Success", func(t *testing.T) {
		click, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V1", Timestamp: at(0), Referrer: "https://news.example.com"})
		require.NoError(t, err)
		assert.NotZero(t, click.ID)
		assert.True(t, click.CodeActive)
		assert.Equal(t, at(0), click.Timestamp)
	})

	t.Run("Referrer Cut On Rune Boundary", func(t *testing.T) {
		referrer := strings.Repeat("a", 254) + "é"
		click, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V8", Timestamp: at(0), Referrer: referrer})
		require.NoError(t, err)

		var stored models.Click
		require.NoError(t, f.db.First(&stored, click.ID).Error)
		assert.Equal(t, strings.Repeat("a", 254), stored.Referrer)
		assert.True(t, utf8.ValidString(stored.Referrer))

		click, err = f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V8", Timestamp: at(1), Referrer: "https://x.example/\xff" + "é"})
		require.NoError(t, err)
		assert.Equal(t, "https://x.example/é", click.Referrer)
	})

	t.Run("Timestamp Normalized To UTC", func(t *testing.T) {
		local := time.Date(2026, 3, 1, 11, 0, 0, 123456789, time.FixedZone("CEST", 2*3600))
		click, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V9", Timestamp: local})
		require.NoError(t, err)
		assert.Equal(t, time.UTC, click.Timestamp.Location())
		assert.Equal(t, 123456000, click.Timestamp.Nanosecond())
	})

	t.Run("Missing Visitor", func(t *testing.T) {
		_, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Unknown Code", func(t *testing.T) {
		_, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "ZZZZZZ", VisitorID: "V1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Link Of Another Code", func(t *testing.T) {
		_, link := seedLink(t, f, "owner-2")
		_, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V1", LinkID: &link.ID})
		assert.ErrorIs(t, err, ErrInvalidInput)

		missing := uint(9999)
		_, err = f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V1", LinkID: &missing})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Inactive Code Recorded", func(t *testing.T) {
		_, err := f.codes.Deactivate(ctx, "owner-1")
		require.NoError(t, err)
		click, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V2", Timestamp: at(5)})
		require.NoError(t, err)
		assert.False(t, click.CodeActive)
	})
}

func TestEventRecorder_FirstClickWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedCode(t, f, "FIRST1", "owner-1")
	seedCode(t, f, "LATER2", "owner-2")

	// Delivered out of order: the later click arrives first.
	_, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "LATER2", VisitorID: "V1", Timestamp: at(30)})
	require.NoError(t, err)
	_, err = f.recorder.RecordClick(ctx, ClickDTO{Code: "FIRST1", VisitorID: "V1", Timestamp: at(10)})
	require.NoError(t, err)

	code, ok, err := f.recorder.AttributedCode(ctx, "V1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "FIRST1", code)

	signup, created, err := f.recorder.RecordSignup(ctx, "U1", "V1", at(40))
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, signup.Code)
	assert.Equal(t, "FIRST1", *signup.Code)

	_, ok, err = f.recorder.AttributedCode(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventRecorder_FirstClickTieBreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedCode(t, f, "TIEAA1", "owner-1")
	seedCode(t, f, "TIEBB2", "owner-2")

	_, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "TIEAA1", VisitorID: "V1", Timestamp: at(10)})
	require.NoError(t, err)
	_, err = f.recorder.RecordClick(ctx, ClickDTO{Code: "TIEBB2", VisitorID: "V1", Timestamp: at(10)})
	require.NoError(t, err)

	code, _, err := f.recorder.AttributedCode(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, "TIEAA1", code)
}

func TestEventRecorder_RecordSignup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedCode(t, f, "AB12X9", "owner-1")

	t.Run("Unattributed", func(t *testing.T) {
		signup, created, err := f.recorder.RecordSignup(ctx, "U2", "V2", at(10))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Nil(t, signup.Code)
		assert.False(t, signup.Attributed())
	})

	t.Run("Click After Signup Is Not Retroactive", func(t *testing.T) {
		_, err := f.recorder.RecordClick(ctx, ClickDTO{Code: "AB12X9", VisitorID: "V2", Timestamp: at(20)})
		require.NoError(t, err)

		stored, err := f.store.GetSignupByUser(ctx, "U2")
		require.NoError(t, err)
		assert.Nil(t, stored.Code)
	})

	t.Run("Duplicate Keeps First", func(t *testing.T) {
		again, created, err := f.recorder.RecordSignup(ctx, "U2", "V3", at(30))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "V2", again.VisitorID)
		assert.Nil(t, again.Code)
	})

	t.Run("Missing User", func(t *testing.T) {
		_, _, err := f.recorder.RecordSignup(ctx, "", "V1", at(0))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Concurrent Duplicates", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		creations := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := f.recorder.RecordSignup(ctx, "U-race", "V-race", at(50))
				assert.NoError(t, err)
				if created {
					mu.Lock()
					creations++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, creations)

		var count int64
		f.db.Model(&models.Signup{}).Where("user_id = ?", "U-race").Count(&count)
		assert.Equal(t, int64(1), count)
	})
}

func TestEventRecorder_RecordConversion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedCode(t, f, "AB12X9", "owner-1")
	_, _, err := f.recorder.RecordSignup(ctx, "U1", "V1", at(10))
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		conv, created, err := f.recorder.RecordConversion(ctx, ConversionDTO{OrderID: "O1", UserID: "U1", Amount: dec("100"), Currency: "usd", Timestamp: at(20)})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.ConversionPending, conv.Status)
		assert.Equal(t, "USD", conv.Currency)
	})

	t.Run("Duplicate Order Keeps First Amount", func(t *testing.T) {
		conv, created, err := f.recorder.RecordConversion(ctx, ConversionDTO{OrderID: "O1", UserID: "U1", Amount: dec("250"), Currency: "USD", Timestamp: at(25)})
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, dec("100").Equal(conv.Amount))

		var count int64
		f.db.Model(&models.Conversion{}).Where("order_id = ?", "O1").Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Unknown User Stored", func(t *testing.T) {
		conv, created, err := f.recorder.RecordConversion(ctx, ConversionDTO{OrderID: "O2", UserID: "ghost", Amount: dec("10"), Currency: "EUR"})
		assert.ErrorIs(t, err, ErrUnknownUser)
		require.NotNil(t, conv)
		assert.True(t, created)

		stored, err := f.store.GetConversionByOrder(ctx, "O2")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionPending, stored.Status)
	})

	t.Run("Invalid Input", func(t *testing.T) {
		cases := []ConversionDTO{
			{UserID: "U1", Amount: dec("1"), Currency: "USD"},
			{OrderID: "O3", Amount: dec("1"), Currency: "USD"},
			{OrderID: "O3", UserID: "U1", Amount: dec("-1"), Currency: "USD"},
			{OrderID: "O3", UserID: "U1", Amount: dec("1"), Currency: "US"},
			{OrderID: "O3", UserID: "U1", Amount: dec("1"), Currency: "U5D"},
		}
		for _, dto := range cases {
			_, _, err := f.recorder.RecordConversion(ctx, dto)
			assert.ErrorIs(t, err, ErrInvalidInput)
		}
	})

	t.Run("Zero Amount Allowed", func(t *testing.T) {
		_, created, err := f.recorder.RecordConversion(ctx, ConversionDTO{OrderID: "O-zero", UserID: "U1", Amount: dec("0"), Currency: "USD"})
		require.NoError(t, err)
		assert.True(t, created)
	})
}
