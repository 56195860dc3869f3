package config

import (
	"os"
	"strconv"
	"strings"
)

// SerialRecompute disables the per-date driver fan-out during ledger
// recalculation; every driver row is computed on the calling goroutine.
// Useful when debugging or running on very small instances.
//
// Set via env:
// - LEDGER_SERIAL_RECOMPUTE=true
func SerialRecompute() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_SERIAL_RECOMPUTE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// RecomputeChunkDays bounds how many calendar days a single recalculation
// transaction batch covers. Larger ranges are processed as consecutive
// chunks; each committed chunk is self-consistent.
//
// Set via env:
// - LEDGER_RECOMPUTE_CHUNK_DAYS (default 31)
func RecomputeChunkDays() int {
	v := strings.TrimSpace(os.Getenv("LEDGER_RECOMPUTE_CHUNK_DAYS"))
	if v == "" {
		return 31
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 31
	}
	return n
}

// SnapshotArchiveEnabled controls the best-effort GCS copy of baseline
// snapshot payloads written after commit.
//
// Set via env:
// - SNAPSHOT_ARCHIVE_ENABLED=true (requires GCS_SNAPSHOT_BUCKET)
func SnapshotArchiveEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SNAPSHOT_ARCHIVE_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
