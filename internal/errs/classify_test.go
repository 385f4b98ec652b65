package errs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"tgmirror/pkg/telegramapi"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"flood wait", telegramapi.NewFloodWait(5), CategoryRateLimit},
		{"wrapped flood wait", fmt.Errorf("send: %w", telegramapi.NewFloodWait(5)), CategoryRateLimit},
		{"validation", Validation("bad input"), CategoryValidation},
		{"business", Business("cross-dc raw read"), CategoryBusiness},
		{"cancelled", context.Canceled, CategorySystem},
		{"deadline", context.DeadlineExceeded, CategorySystem},
		{"disk full", syscall.ENOSPC, CategoryResource},
		{"fd limit", syscall.EMFILE, CategoryResource},
		{"fs permission", fs.ErrPermission, CategoryPermission},
		{"auth marker", errors.New("AUTH_KEY_UNREGISTERED: auth key invalid"), CategoryAuth},
		{"session expired", errors.New("session expired"), CategoryAuth},
		{"chat forbidden", errors.New("telegram: CHAT_WRITE_FORBIDDEN (403)"), CategoryPermission},
		{"connection reset", errors.New("read tcp: connection reset by peer"), CategoryNetwork},
		{"too many requests", errors.New("Too Many Requests"), CategoryRateLimit},
		{"no space", errors.New("write /tmp/x: no space left on device"), CategoryResource},
		{"unknown", errors.New("something odd"), CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(CategoryNetwork))
	assert.True(t, Retryable(CategoryResource))
	assert.False(t, Retryable(CategoryAuth))
	assert.False(t, Retryable(CategoryValidation))
	assert.False(t, Retryable(CategoryBusiness))
	assert.False(t, Retryable(CategoryRateLimit))
}

func TestRecorderCountsAndHistory(t *testing.T) {
	r := NewRecorder()
	r.Record(errors.New("connection reset"), SeverityError, map[string]string{"stage": "fetch"})
	r.Record(Validation("bad"), SeverityWarning, nil)
	r.Record(errors.New("connection refused"), SeverityError, nil)

	counts := r.Counts()
	assert.Equal(t, int64(2), counts[CategoryNetwork])
	assert.Equal(t, int64(1), counts[CategoryValidation])

	recent := r.Recent()
	assert.Len(t, recent, 3)
	assert.Equal(t, CategoryNetwork, recent[0].Category)
	assert.Equal(t, "fetch", recent[0].Context["stage"])
	assert.NotEmpty(t, recent[0].SuggestedAction)
}
