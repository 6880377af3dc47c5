package spider

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerStartCrawlOnce(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.StartCrawl("https://example.com/") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
	require.False(t, tracker.IsCrawled("https://example.com/"))
	require.Equal(t, []string{"https://example.com/"}, tracker.Unfinished())

	tracker.FinishCrawl("https://example.com/")
	require.Empty(t, tracker.Unfinished())
	require.Equal(t, 1, tracker.CrawlingCount())
	require.Equal(t, 1, tracker.CrawledCount())
}

func TestTrackerClaimParseOnlyRecordsAdmitted(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	const loc = "https://example.com/catalog/a"

	require.False(t, tracker.ClaimParse(loc, func() bool { return false }))
	require.False(t, tracker.IsParsing(loc), "rejected admission must not be recorded")

	require.True(t, tracker.ClaimParse(loc, func() bool { return true }))
	require.True(t, tracker.IsParsing(loc))

	called := false
	require.False(t, tracker.ClaimParse(loc, func() bool {
		called = true
		return true
	}))
	require.False(t, called, "admit must not run for an already claimed location")
	require.Equal(t, 1, tracker.ParsingCount())
}

func TestTrackerClaimParseConcurrent(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, loc := range []string{"a", "b", "c"} {
				tracker.ClaimParse(loc, func() bool {
					admitted.Add(1)
					return true
				})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(3), admitted.Load())
	require.Equal(t, 3, tracker.ParsingCount())
}

func TestTrackerUnfinishedReportsCrawledWithoutStart(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	tracker.FinishCrawl("https://example.com/orphan")
	require.Equal(t, []string{"https://example.com/orphan"}, tracker.Unfinished())
}

func TestGateOpensOnce(t *testing.T) {
	t.Parallel()

	var (
		gate    Gate
		wg      sync.WaitGroup
		flipped atomic.Int32
	)
	require.False(t, gate.IsOpen())
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gate.Open() {
				flipped.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), flipped.Load())
	require.True(t, gate.IsOpen())
	require.False(t, gate.Open())
	require.True(t, gate.IsOpen())
}
