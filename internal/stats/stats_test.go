package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuccessRatioAndExitCode(t *testing.T) {
	// Vacuous success.
	assert.Equal(t, ExitOK, ExitCode(Snapshot{}, false))

	// All processed.
	s := Snapshot{Downloaded: 95, Skipped: 5}
	assert.Equal(t, 1.0, s.SuccessRatio())
	assert.Equal(t, ExitOK, ExitCode(s, false))

	// Degraded band.
	s = Snapshot{Downloaded: 85, Failed: 15}
	assert.Equal(t, ExitDegraded, ExitCode(s, false))

	// Majority failed.
	s = Snapshot{Downloaded: 50, Failed: 50}
	assert.Equal(t, ExitFailed, ExitCode(s, false))

	// Interrupt wins regardless of counts.
	assert.Equal(t, ExitInterrupt, ExitCode(Snapshot{Downloaded: 100}, true))
}

func TestPublishFailuresDegradeCleanRun(t *testing.T) {
	// All 100 downloads succeed but one of three publish targets rejects
	// every batch, so every item carries a publish failure. The download
	// ratio stays 1.0 and the run lands on partial, not on failed.
	s := Snapshot{Downloaded: 100, Published: 0, PubFailed: 100}
	assert.Equal(t, 1.0, s.SuccessRatio())
	assert.True(t, s.PublishImpaired())
	assert.Equal(t, ExitDegraded, ExitCode(s, false))

	// Items dropped at the upload queue degrade the run the same way.
	s = Snapshot{Downloaded: 100, Published: 98, Dropped: 2}
	assert.Equal(t, ExitDegraded, ExitCode(s, false))

	// A bad download ratio is not rescued by a clean publish side.
	s = Snapshot{Downloaded: 50, Failed: 50, Published: 50}
	assert.Equal(t, ExitFailed, ExitCode(s, false))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "20.0 MiB", FormatBytes(20<<20))
}
