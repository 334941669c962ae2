package scratch

import (
	"log/slog"
	"time"

	"github.com/nugget/thermonode/internal/platform"
)

// Store is the persistent run-time store. It owns the in-memory copies
// of the scratch counters for one process instance and writes them back
// at the well-defined points: boot, and immediately before a restart or
// suspend. Region errors are logged and otherwise ignored; reads that
// fail yield zero.
//
// Run time is tracked as two values. total is the RunTimeRecord: the
// milliseconds accumulated across every instance since the last cold
// power-on or external reset, monotonically non-decreasing (modulo
// uint32 wrap). unreported is the part of total carried into this boot
// that has not yet been published; it is handed out exactly once.
type Store struct {
	region Region
	logger *slog.Logger

	boot       time.Time
	total      uint32
	unreported uint32
	seq        uint32
}

// NewStore creates a Store over region. Call [Store.Boot] before use.
func NewStore(region Region, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{region: region, logger: logger}
}

// Boot classifies the reset, restores or zeroes the counters
// accordingly, and clears the boot marker so that an unannounced reset
// is recognised next time. fresh reports whether the region was newly
// created.
func (s *Store) Boot(fresh bool, bootTime time.Time) platform.ResetCause {
	marker := s.read(OffsetBootMarker)
	cause := platform.Classify(fresh, marker)

	s.boot = bootTime
	if cause.ZeroesRunTime() {
		s.total = 0
	} else {
		s.total = s.Load()
	}
	if cause.ZeroesSequence() {
		s.seq = 0
	} else {
		s.seq = s.read(OffsetSequence)
	}
	s.unreported = s.total

	s.Save(s.total)
	s.write(OffsetSequence, s.seq)
	s.write(OffsetBootMarker, platform.MarkerNone)

	s.logger.Info("scratch region restored",
		"reset_cause", cause.String(),
		"run_time_ms", s.total,
		"sequence", s.seq,
	)
	return cause
}

// Load reads the RunTimeRecord from the region.
func (s *Store) Load() uint32 {
	return s.read(OffsetRunTime)
}

// Save writes the RunTimeRecord to the region.
func (s *Store) Save(v uint32) {
	s.write(OffsetRunTime, v)
}

// Flush adds the milliseconds elapsed since boot (or since the previous
// flush) to the run-time total and persists it together with the
// sequence counter and the given boot marker. It returns the new total.
func (s *Store) Flush(now time.Time, marker uint32) uint32 {
	elapsed := now.Sub(s.boot)
	if elapsed < 0 {
		elapsed = 0
	}
	s.total += uint32(elapsed.Milliseconds())
	s.boot = now

	s.Save(s.total)
	s.write(OffsetSequence, s.seq)
	s.write(OffsetBootMarker, marker)

	s.logger.Debug("scratch region flushed",
		"run_time_ms", s.total,
		"sequence", s.seq,
		"marker", marker,
	)
	return s.total
}

// NextSequence advances and returns the status message sequence number.
func (s *Store) NextSequence() uint32 {
	s.seq++
	return s.seq
}

// RunTime returns the persisted run-time total as of the last boot or
// flush.
func (s *Store) RunTime() uint32 {
	return s.total
}

// Unreported returns the run time awaiting publication without
// consuming it.
func (s *Store) Unreported() uint32 {
	return s.unreported
}

// TakeUnreported returns the run time awaiting publication and zeroes
// the in-memory copy so it is reported at most once per boot.
func (s *Store) TakeUnreported() uint32 {
	v := s.unreported
	s.unreported = 0
	return v
}

func (s *Store) read(offset int) uint32 {
	v, err := s.region.ReadWord(offset)
	if err != nil {
		s.logger.Error("scratch read failed", "offset", offset, "error", err)
		return 0
	}
	return v
}

func (s *Store) write(offset int, v uint32) {
	if err := s.region.WriteWord(offset, v); err != nil {
		s.logger.Error("scratch write failed", "offset", offset, "error", err)
	}
}
