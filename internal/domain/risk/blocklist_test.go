package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "203.0.113.7", want: "203.0.113.7/32"},
		{in: "203.0.113.77/24", want: "203.0.113.0/24"},
		{in: "2001:db8::1", want: "2001:db8::1/128"},
		{in: "::ffff:198.51.100.4", want: "198.51.100.4/32"},
		{in: " 10.0.0.0/8 ", want: "10.0.0.0/8"},
		{in: "not-an-ip", wantErr: true},
		{in: "10.0.0.0/40", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseNetwork(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidNetwork)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestBlocklist_AddRemove(t *testing.T) {
	b, err := NewBlocklist([]string{"203.0.113.0/24"})
	require.NoError(t, err)

	assert.True(t, b.IsMalicious("203.0.113.50"))
	assert.True(t, b.IsMalicious("203.0.113.50:51234"))
	assert.False(t, b.IsMalicious("198.51.100.1"))
	assert.False(t, b.IsMalicious("garbage"))

	_, err = b.Add("198.51.100.1", 0)
	require.NoError(t, err)
	assert.True(t, b.IsMalicious("198.51.100.1"))
	assert.False(t, b.IsMalicious("198.51.100.2"))

	removed, err := b.Remove("198.51.100.1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, b.IsMalicious("198.51.100.1"))

	removed, err = b.Remove("198.51.100.1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = b.Add("nope", 0)
	assert.ErrorIs(t, err, ErrInvalidNetwork)
}

func TestBlocklist_AddReplacesEntry(t *testing.T) {
	b, err := NewBlocklist(nil)
	require.NoError(t, err)

	_, err = b.Add("10.0.0.0/8", time.Minute)
	require.NoError(t, err)
	_, err = b.Add("10.1.2.3/8", 0)
	require.NoError(t, err)

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.0/8", entries[0].Network)
	assert.True(t, entries[0].ExpiresAt.IsZero())
}

func TestBlocklist_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err := NewBlocklist(nil)
	require.NoError(t, err)
	b.SetClock(func() time.Time { return now })

	_, err = b.Add("192.0.2.0/24", time.Hour)
	require.NoError(t, err)
	_, err = b.Add("198.51.100.0/24", 0)
	require.NoError(t, err)
	assert.True(t, b.IsMalicious("192.0.2.9"))

	now = now.Add(time.Hour)
	assert.False(t, b.IsMalicious("192.0.2.9"), "expired entries stop matching before prune")
	assert.Len(t, b.Entries(), 1)

	assert.Equal(t, 1, b.Prune())
	assert.Equal(t, 0, b.Prune())
	assert.True(t, b.IsMalicious("198.51.100.7"))
}

func TestBlocklist_ConcurrentReadWrite(t *testing.T) {
	b, err := NewBlocklist(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = b.Add("192.0.2.0/24", 0)
				_, _ = b.Remove("192.0.2.0/24")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.IsMalicious("192.0.2.1")
				_ = b.Entries()
			}
		}()
	}
	wg.Wait()

	_, err = b.Add("192.0.2.0/24", 0)
	require.NoError(t, err)
	assert.True(t, b.IsMalicious("192.0.2.1"))
}
