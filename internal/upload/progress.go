package upload

import "time"

// Progress is a point-in-time view of a running transfer.
type Progress struct {
	TotalFiles       int
	TransferredFiles int
	TotalBytes       int64
	TransferredBytes int64
	Percent          float64
	// Speed is bytes per second over the sliding window.
	Speed           float64
	ETA             time.Duration
	CurrentFileName string
}

type sample struct {
	at    time.Time
	bytes int64
}

// tracker accumulates byte counts and derives throttled Progress snapshots.
type tracker struct {
	now      func() time.Time
	window   time.Duration
	interval time.Duration

	progress Progress
	samples  []sample
	lastEmit time.Time
	emitted  bool
}

func newTracker(totalFiles int, totalBytes int64, window, interval time.Duration, now func() time.Time) *tracker {
	t := &tracker{
		now:      now,
		window:   window,
		interval: interval,
		progress: Progress{TotalFiles: totalFiles, TotalBytes: totalBytes},
	}
	t.samples = append(t.samples, sample{at: now(), bytes: 0})
	return t
}

// add records n transferred bytes of file and returns a snapshot when one is
// due. The snapshot that reaches the total is always returned.
func (t *tracker) add(file string, n int64) (Progress, bool) {
	t.progress.CurrentFileName = file
	t.progress.TransferredBytes += n
	if t.progress.TransferredBytes > t.progress.TotalBytes {
		t.progress.TransferredBytes = t.progress.TotalBytes
	}
	return t.emit(false)
}

// fileDone counts a completed file.
func (t *tracker) fileDone(file string) (Progress, bool) {
	t.progress.CurrentFileName = file
	if t.progress.TransferredFiles < t.progress.TotalFiles {
		t.progress.TransferredFiles++
	}
	return t.emit(false)
}

// complete forces the final snapshot at 100%.
func (t *tracker) complete() Progress {
	t.progress.TransferredBytes = t.progress.TotalBytes
	t.progress.TransferredFiles = t.progress.TotalFiles
	p, _ := t.emit(true)
	return p
}

func (t *tracker) emit(force bool) (Progress, bool) {
	now := t.now()
	t.samples = append(t.samples, sample{at: now, bytes: t.progress.TransferredBytes})
	t.trim(now)

	t.progress.Percent = t.percent()
	t.progress.Speed = t.speed()
	t.progress.ETA = 0
	if t.progress.Speed > 0 {
		remaining := float64(t.progress.TotalBytes - t.progress.TransferredBytes)
		t.progress.ETA = time.Duration(remaining / t.progress.Speed * float64(time.Second))
	}

	finished := t.progress.TransferredBytes == t.progress.TotalBytes && t.progress.TransferredFiles == t.progress.TotalFiles
	due := !t.emitted || now.Sub(t.lastEmit) >= t.interval
	if !force && !due && !finished {
		return t.progress, false
	}
	t.emitted = true
	t.lastEmit = now
	return t.progress, true
}

func (t *tracker) percent() float64 {
	p := 100.0
	if t.progress.TotalBytes > 0 {
		p = float64(t.progress.TransferredBytes) / float64(t.progress.TotalBytes) * 100
	}
	if t.progress.TransferredBytes >= t.progress.TotalBytes {
		p = 100
	}
	p = min(max(p, 0), 100)
	return max(p, t.progress.Percent)
}

func (t *tracker) speed() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	first, last := t.samples[0], t.samples[len(t.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

// trim drops samples older than the window but keeps one at or before the
// window start so the rate spans the full window.
func (t *tracker) trim(now time.Time) {
	cutoff := now.Add(-t.window)
	drop := 0
	for drop+1 < len(t.samples) && !t.samples[drop+1].at.After(cutoff) {
		drop++
	}
	if drop > 0 {
		t.samples = append(t.samples[:0], t.samples[drop:]...)
	}
}
