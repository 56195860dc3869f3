package utils

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// The redis shed is best-effort only; CLI entry points run without redis and
// must fall through to the advisory lock instead of being refused.
func TestBusinessLock_NoRedisSkipsShed(t *testing.T) {
	if err := BusinessLock(context.Background(), "biz-1", "ledger-recalc", "helper_test.go", "TestBusinessLock_NoRedisSkipsShed"); err != nil {
		t.Fatalf("expected nil without redis, got %v", err)
	}
}

func TestConvertToDate_BucketsIntoTimezoneDay(t *testing.T) {
	// 19:00 UTC is already the next calendar day in Yangon (+06:30).
	utc := time.Date(2024, 3, 10, 19, 0, 0, 0, time.UTC)

	day, err := ConvertToDate(utc, "Asia/Yangon")
	if err != nil {
		t.Fatal(err)
	}
	if day.Format("2006-01-02") != "2024-03-11" {
		t.Fatalf("expected 2024-03-11, got %s", day.Format("2006-01-02"))
	}
	if day.Hour() != 0 || day.Minute() != 0 {
		t.Fatalf("expected local midnight, got %s", day)
	}
}

func TestConvertToDate_InvalidTimezone(t *testing.T) {
	if _, err := ConvertToDate(time.Now(), "Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestNewDateSequence_AscendingInclusive(t *testing.T) {
	from := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 13, 1, 0, 0, 0, time.UTC)

	seq, err := NewDateSequence(from, to, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if seq.Len() != 4 {
		t.Fatalf("expected 4 days, got %d", seq.Len())
	}
	dates := seq.Dates()
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			t.Fatalf("dates out of order at %d: %s then %s", i, dates[i-1], dates[i])
		}
	}
	if seq.First().Format("2006-01-02") != "2024-03-10" || seq.Last().Format("2006-01-02") != "2024-03-13" {
		t.Fatalf("wrong bounds: %s .. %s", seq.First(), seq.Last())
	}
}

func TestNewDateSequence_RejectsReversedRange(t *testing.T) {
	from := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if _, err := NewDateSequence(from, to, "UTC"); err == nil {
		t.Fatal("expected error for reversed range")
	}
}

func TestDateSequence_ChunkPreservesOrder(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	seq, err := NewDateSequence(from, to, "UTC")
	if err != nil {
		t.Fatal(err)
	}

	chunks := seq.Chunk(3)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	var prev time.Time
	total := 0
	for _, chunk := range chunks {
		for _, d := range chunk.Dates() {
			if !prev.IsZero() && !d.After(prev) {
				t.Fatalf("chunking reordered days: %s then %s", prev, d)
			}
			prev = d
			total++
		}
	}
	if total != 10 {
		t.Fatalf("expected 10 days across chunks, got %d", total)
	}
}

func TestCompareWithEpsilon(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"100.00", "100.005", 0},
		{"100.00", "100.01", 0},
		{"100.00", "100.02", -1},
		{"100.02", "100.00", 1},
		{"-5", "5", -1},
	}
	for _, c := range cases {
		a, _ := decimal.NewFromString(c.a)
		b, _ := decimal.NewFromString(c.b)
		if got := CompareWithEpsilon(a, b); got != c.want {
			t.Errorf("CompareWithEpsilon(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	if len(got) != 3 {
		t.Fatalf("expected 3 unique values, got %v", got)
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal(" 12.50 ")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(decimal.NewFromFloat(12.5)) {
		t.Fatalf("expected 12.5, got %s", d)
	}
	if _, err := ParseDecimal(""); err == nil {
		t.Fatal("expected error for empty string")
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatal("expected error for non-numeric string")
	}
}
