package autoscale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultConfig() Config {
	return Config{Min: 1, Max: 8, TargetPerReplica: 5}
}

func TestDecide_Table(t *testing.T) {
	cfg := defaultConfig()

	cases := []struct {
		load    int
		want    int
		reason  string
	}{
		{0, 1, ReasonIdle},
		{1, 1, ReasonNominal},
		{5, 1, ReasonNominal},
		{6, 2, ReasonScalingUp},
		{40, 8, ReasonAtMax},
		{41, 8, ReasonAtMax},
	}

	for _, c := range cases {
		d := Decide(cfg, c.load, 0)
		assert.Equalf(t, c.want, d.Desired, "load=%d", c.load)
		assert.Equalf(t, c.reason, d.Reason, "load=%d", c.load)
	}
}

func TestDecide_MonotonicityInLoad(t *testing.T) {
	cfg := defaultConfig()
	for load := 0; load < 100; load++ {
		d1 := Decide(cfg, load, 0)
		d2 := Decide(cfg, load+1, 0)
		assert.GreaterOrEqualf(t, d2.Desired, d1.Desired, "load=%d -> %d", load, load+1)
	}
}

func TestDecide_Bounds(t *testing.T) {
	cfg := defaultConfig()
	for load := -0; load < 1000; load += 7 {
		d := Decide(cfg, load, 0)
		assert.GreaterOrEqual(t, d.Desired, cfg.Min)
		assert.LessOrEqual(t, d.Desired, cfg.Max)
	}
}

func TestDecide_PendingPlusInFlight(t *testing.T) {
	cfg := defaultConfig()
	d := Decide(cfg, 3, 3)
	assert.Equal(t, 6, d.Load)
	assert.Equal(t, 2, d.Desired)
}

func TestDecide_AtMaxTimesTarget(t *testing.T) {
	cfg := defaultConfig()
	d := Decide(cfg, cfg.Max*cfg.TargetPerReplica, 0)
	assert.Equal(t, cfg.Max, d.Desired)
}
