package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoneNeverExpires(t *testing.T) {
	d := None()
	assert.False(t, d.Valid())
	assert.False(t, d.Expired())
	seconds, finite := d.Remaining()
	assert.False(t, finite)
	assert.Equal(t, 0, seconds)

	ch, stop := d.Timer()
	defer stop()
	assert.Nil(t, ch)
}

func TestAfterExpiresAndFires(t *testing.T) {
	d := After(0)
	assert.True(t, d.Valid())
	assert.True(t, d.Expired())

	d = After(1)
	ch, stop := d.Timer()
	defer stop()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("deadline timer never fired")
	}
}

func TestRemainingNeverGrows(t *testing.T) {
	d := After(2)
	first, _ := d.Remaining()
	time.Sleep(1100 * time.Millisecond)
	second, _ := d.Remaining()
	assert.LessOrEqual(t, second, first)
}
