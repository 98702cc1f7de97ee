package flashops

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndReadIn(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []LogEntry{
		{Timestamp: at, Message: "Connected at 115200 baud.", Category: CategorySuccess},
		{Timestamp: at.Add(time.Millisecond), Message: "ets Jun  8 2016 00:22:57", Category: CategoryDeviceOutput},
	}

	var buf bytes.Buffer
	rec := &Recorder{Dest: &buf}

	in := make(chan LogEntry, len(want))
	for _, e := range want {
		in <- e
	}
	close(in)
	require.NoError(t, rec.Record(in))

	out := make(chan LogEntry, len(want))
	require.NoError(t, ReadIn(out, &buf))

	var got []LogEntry
	for e := range out {
		got = append(got, e)
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
		assert.Equal(t, want[i].Message, got[i].Message)
		assert.Equal(t, want[i].Category, got[i].Category)
	}
}

func TestReadInCorrupt(t *testing.T) {
	out := make(chan LogEntry, 1)
	err := ReadIn(out, bytes.NewReader([]byte("not a recording")))
	assert.Error(t, err)

	_, ok := <-out
	assert.False(t, ok)
}
