package loadbalancer

import (
	"net/url"
	"testing"
)

func testUpstream(t *testing.T, name string, weight int) *Upstream {
	t.Helper()
	u, err := url.Parse("http://" + name + ".local:8080")
	if err != nil {
		t.Fatal(err)
	}
	return NewUpstream(name, u, weight, "/health")
}

func TestRoundRobinCycles(t *testing.T) {
	a := testUpstream(t, "a", 1)
	b := testUpstream(t, "b", 1)
	c := testUpstream(t, "c", 1)
	pool := NewPool([]*Upstream{a, b, c}, &RoundRobin{})

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, pool.Pick().Name)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}
}

func TestRoundRobinSkipsUnhealthy(t *testing.T) {
	a := testUpstream(t, "a", 1)
	b := testUpstream(t, "b", 1)
	c := testUpstream(t, "c", 1)
	pool := NewPool([]*Upstream{a, b, c}, &RoundRobin{})

	b.SetHealthy(false)
	for i := 0; i < 10; i++ {
		if picked := pool.Pick(); picked.Name == "b" {
			t.Fatal("picked unhealthy upstream")
		}
	}
}

func TestPickReturnsNilWhenAllUnhealthy(t *testing.T) {
	a := testUpstream(t, "a", 1)
	a.SetHealthy(false)
	pool := NewPool([]*Upstream{a}, &RoundRobin{})

	if picked := pool.Pick(); picked != nil {
		t.Fatalf("picked %s, want nil", picked.Name)
	}
}

func TestLeastConnectionsPrefersIdle(t *testing.T) {
	a := testUpstream(t, "a", 1)
	b := testUpstream(t, "b", 1)
	pool := NewPool([]*Upstream{a, b}, &LeastConnections{})

	a.Acquire()
	a.Acquire()
	b.Acquire()

	if picked := pool.Pick(); picked.Name != "b" {
		t.Errorf("picked %s, want b", picked.Name)
	}

	b.Acquire()
	b.Acquire()
	if picked := pool.Pick(); picked.Name != "a" {
		t.Errorf("picked %s, want a", picked.Name)
	}
}

func TestWeightedRoundRobinProportions(t *testing.T) {
	a := testUpstream(t, "a", 3)
	b := testUpstream(t, "b", 1)
	pool := NewPool([]*Upstream{a, b}, &WeightedRoundRobin{})

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		counts[pool.Pick().Name]++
	}
	if counts["a"] != 30 || counts["b"] != 10 {
		t.Errorf("counts = %v, want a=30 b=10", counts)
	}
}

func TestRandomOnlyPicksHealthy(t *testing.T) {
	a := testUpstream(t, "a", 1)
	b := testUpstream(t, "b", 1)
	b.SetHealthy(false)
	pool := NewPool([]*Upstream{a, b}, &Random{})

	for i := 0; i < 20; i++ {
		if picked := pool.Pick(); picked.Name != "a" {
			t.Fatalf("picked %s, want a", picked.Name)
		}
	}
}

func TestNewStrategyNames(t *testing.T) {
	tests := []struct {
		config string
		want   string
	}{
		{"round_robin", "round_robin"},
		{"least_connections", "least_connections"},
		{"weighted_round_robin", "weighted_round_robin"},
		{"random", "random"},
		{"", "round_robin"},
	}
	for _, tt := range tests {
		if got := NewStrategy(tt.config).Name(); got != tt.want {
			t.Errorf("NewStrategy(%q).Name() = %q, want %q", tt.config, got, tt.want)
		}
	}
}

func TestUpstreamCounters(t *testing.T) {
	u := testUpstream(t, "a", 1)

	u.RecordRequest()
	u.RecordRequest()
	u.RecordFailure()
	u.Acquire()

	if u.Requests() != 2 || u.Failures() != 1 || u.Inflight() != 1 {
		t.Errorf("requests=%d failures=%d inflight=%d", u.Requests(), u.Failures(), u.Inflight())
	}
	u.Release()
	if u.Inflight() != 0 {
		t.Errorf("inflight = %d after release", u.Inflight())
	}
}
