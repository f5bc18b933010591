package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckAll(t *testing.T) {
	c := NewChecker(time.Second)
	c.Add("db", Ping(pinger{}))
	c.Add("llm", Configured("GEMINI_API_KEY", "k"))
	assert.True(t, c.CheckAll(context.Background()).OK)

	c.Add("redis", Ping(pinger{err: errors.New("refused")}))
	c.Add("calendar", Configured("GOOGLE_CALENDAR_CREDENTIALS", ""))
	st := c.CheckAll(context.Background())
	require.Len(t, st.Checks, 4)
	assert.False(t, st.OK)
	assert.Equal(t, "redis", st.Checks[2].Name)
	assert.Equal(t, "refused", st.Checks[2].Error)
	assert.Equal(t, "GOOGLE_CALENDAR_CREDENTIALS not set", st.Checks[3].Error)
	assert.Contains(t, st.String(), "✗ redis")
}

func TestCheckTimesOut(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	st := c.CheckAll(context.Background())
	assert.False(t, st.OK)
	assert.Equal(t, context.DeadlineExceeded.Error(), st.Checks[0].Error)
}
