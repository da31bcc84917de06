package internaldefs

import (
	"testing"

	"github.com/MrEthical07/authcore"
)

func TestCumulativeBuckets(t *testing.T) {
	h := authcore.Histogram{Buckets: [8]uint64{2, 0, 1, 0, 0, 3, 0, 1}}
	got := CumulativeBuckets(h)
	want := []uint64{2, 2, 3, 3, 3, 6, 6, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bucket %d = %d, want %d", i, got[i], want[i])
		}
	}
	if got[len(got)-1] != h.Count() {
		t.Fatalf("last bucket %d != count %d", got[len(got)-1], h.Count())
	}
}

func TestBoundSuffix(t *testing.T) {
	if s := BoundSuffix(1); s != "0_005" {
		t.Fatalf("BoundSuffix(1) = %q", s)
	}
	if s := BoundSuffix(len(authcore.HistogramBuckets)); s != "inf" {
		t.Fatalf("unbounded suffix = %q", s)
	}
}

func TestCounterNamesUnique(t *testing.T) {
	seen := map[string]bool{AuditDroppedName: true}
	for _, d := range CounterDefs {
		if seen[d.Name] {
			t.Fatalf("duplicate metric name %s", d.Name)
		}
		seen[d.Name] = true
	}
	for _, d := range HistogramDefs {
		if seen[d.Name] {
			t.Fatalf("duplicate metric name %s", d.Name)
		}
		seen[d.Name] = true
	}
}
