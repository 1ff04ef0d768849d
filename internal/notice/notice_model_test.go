package notice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibilityState(t *testing.T) {
	cases := map[string]struct {
		scheduled *time.Time
		expire    time.Time
		want      Visibility
	}{
		"immediate":                    {nil, t0.Add(time.Hour), Active},
		"scheduled in the future":      {timePtr(t0.Add(time.Minute)), t0.Add(time.Hour), Pending},
		"scheduled exactly now":        {timePtr(t0), t0.Add(time.Hour), Active},
		"expires exactly now":          {nil, t0, Expired},
		"expired":                      {nil, t0.Add(-time.Second), Expired},
		"expiry before schedule":       {timePtr(t0.Add(2 * time.Hour)), t0.Add(-time.Hour), Expired},
		"future schedule, past expiry": {timePtr(t0.Add(time.Hour)), t0, Expired},
	}
	for name, tc := range cases {
		n := Notice{ScheduledAt: tc.scheduled, ExpireAt: tc.expire}
		assert.Equal(t, tc.want, VisibilityState(n, t0), name)
	}
}

func TestVisibilityState_ExpiryIsTerminal(t *testing.T) {
	n := Notice{ScheduledAt: timePtr(t0), ExpireAt: t0.Add(time.Hour)}
	for _, d := range []time.Duration{time.Hour, 2 * time.Hour, 24 * time.Hour, 365 * 24 * time.Hour} {
		assert.Equal(t, Expired, VisibilityState(n, t0.Add(d)))
	}
}

func TestKindForExtension(t *testing.T) {
	assert.Equal(t, KindImage, KindForExtension("jpeg"))
	assert.Equal(t, KindVideo, KindForExtension("mp4"))
	assert.Equal(t, KindAudio, KindForExtension("mp3"))
	assert.Equal(t, KindDocument, KindForExtension("xlsx"))
	assert.Equal(t, KindPDFImage, KindForExtension("pdf"))
}

func TestNoticePayload(t *testing.T) {
	n := Notice{
		ID:          7,
		Department:  "cs",
		AssetRef:    "a_page_1.jpg",
		AssetKind:   KindPDFImage,
		ScheduledAt: timePtr(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)),
		ExpireAt:    time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	p := n.Payload("2006-01-02 15:04:05")
	assert.Equal(t, uint64(7), p.ID)
	assert.Equal(t, "pdf_image", p.AssetKind)
	require.NotNil(t, p.ScheduledAt)
	assert.Equal(t, "2024-03-02 09:00:00", *p.ScheduledAt)
	assert.Equal(t, "2024-04-01 09:00:00", p.ExpireAt)

	n.ScheduledAt = nil
	assert.Nil(t, n.Payload("2006-01-02 15:04:05").ScheduledAt)
}
