package processor

import "time"

// SyncProgress tracks one table's batch loop. It drives the rate and ETA log lines and the
// abort decision, never correctness.
type SyncProgress struct {
	TotalRecords  uint64
	SyncedRecords uint64
	ErrorCount    uint32
	Batches       int
	Started       time.Time

	now func() time.Time
}

func NewSyncProgress(total uint64) *SyncProgress {
	return &SyncProgress{TotalRecords: total, Started: time.Now(), now: time.Now}
}

func (p *SyncProgress) BatchSynced(rows int) {
	p.SyncedRecords += uint64(rows)
	p.Batches++
}

func (p *SyncProgress) BatchFailed() {
	p.ErrorCount++
}

func (p *SyncProgress) Elapsed() time.Duration {
	return p.now().Sub(p.Started)
}

// Rate returns synced records per second.
func (p *SyncProgress) Rate() float64 {
	elapsed := p.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.SyncedRecords) / elapsed
}

// ETA estimates the time left at the current rate. It is zero when nothing is left and
// unknown (-1) before the first record is synced.
func (p *SyncProgress) ETA() time.Duration {
	if p.SyncedRecords >= p.TotalRecords {
		return 0
	}
	rate := p.Rate()
	if rate <= 0 {
		return -1
	}
	remaining := float64(p.TotalRecords - p.SyncedRecords)
	return time.Duration(remaining / rate * float64(time.Second))
}
