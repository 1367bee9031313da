package rebalancer

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectis-finance/yvm/internal/adapter"
	"github.com/vectis-finance/yvm/internal/advisor"
	"github.com/vectis-finance/yvm/internal/audit"
	"github.com/vectis-finance/yvm/internal/engine"
	"github.com/vectis-finance/yvm/internal/ledger"
	"github.com/vectis-finance/yvm/internal/types"
)

type stubAdvisor struct {
	rec types.Recommendation
	err error
}

func (s *stubAdvisor) FetchRecommendation() (types.Recommendation, error) {
	return s.rec, s.err
}

type receiptLog struct {
	results []types.RebalanceResult
	cycles  []int
}

func (r *receiptLog) save(result types.RebalanceResult, cycleNumber int) (int64, error) {
	r.results = append(r.results, result)
	r.cycles = append(r.cycles, cycleNumber)
	return int64(len(r.results)), nil
}

func countingCycle() CycleCounter {
	n := 0
	return func() (int, error) {
		n++
		return n, nil
	}
}

func fundedEngine(t *testing.T) *engine.VaultEngine {
	t.Helper()

	registry := adapter.NewRegistry(3)
	eng, err := engine.New(ledger.New(sdkmath.NewInt(100)), registry, audit.NewMemorySink())
	require.NoError(t, err)

	auth := types.AuthContext{Subject: "ops", Role: types.RoleAdmin}
	for _, id := range []string{"alpha", "beta"} {
		sim := adapter.NewSimAdapter(id, sdkmath.LegacyMustNewDecFromStr("0.05"))
		require.NoError(t, eng.RegisterAdapter(auth, id, "sim/"+id, sim, types.AdapterLimits{}))
		require.NoError(t, eng.SetAdapterActivation(auth, id, types.ActivationActive))
	}

	_, err = eng.Deposit("alice", sdkmath.NewInt(1000), "alpha")
	require.NoError(t, err)
	return eng
}

func newTestRebalancer(t *testing.T, adv Advisor, receipts *receiptLog, minConfidence float64) *Rebalancer {
	t.Helper()
	r, err := New(Config{
		Engine:        fundedEngine(t),
		Advisor:       adv,
		SaveReceipt:   receipts.save,
		NextCycle:     countingCycle(),
		MinConfidence: minConfidence,
	})
	require.NoError(t, err)
	return r
}

func TestRunCycleExecutesRecommendation(t *testing.T) {
	receipts := &receiptLog{}
	adv := &stubAdvisor{rec: types.Recommendation{
		SourceAdapter: "alpha",
		TargetAdapter: "beta",
		Amount:        sdkmath.NewInt(400),
		Confidence:    0.9,
		Reason:        "beta yields more",
	}}

	r := newTestRebalancer(t, adv, receipts, 0)
	r.RunCycle()

	require.Len(t, receipts.results, 1)
	assert.Equal(t, types.RebalanceCompleted, receipts.results[0].Outcome)
	assert.Equal(t, "400", receipts.results[0].Deployed.String())
	assert.Equal(t, 1, receipts.cycles[0])
}

func TestRunCycleSkipsWhenAdvisorHasNothing(t *testing.T) {
	receipts := &receiptLog{}
	adv := &stubAdvisor{err: advisor.ErrNoRecommendation}

	r := newTestRebalancer(t, adv, receipts, 0)
	r.RunCycle()

	assert.Empty(t, receipts.results)
}

func TestRunCycleEnforcesConfidenceFloor(t *testing.T) {
	receipts := &receiptLog{}
	adv := &stubAdvisor{rec: types.Recommendation{
		SourceAdapter: "alpha",
		TargetAdapter: "beta",
		Amount:        sdkmath.NewInt(400),
		Confidence:    0.2,
	}}

	r := newTestRebalancer(t, adv, receipts, 0.5)
	r.RunCycle()

	assert.Empty(t, receipts.results)
}

func TestRunCycleRecordsEngineRejection(t *testing.T) {
	receipts := &receiptLog{}
	adv := &stubAdvisor{rec: types.Recommendation{
		SourceAdapter: "alpha",
		TargetAdapter: "beta",
		Amount:        sdkmath.NewInt(5000), // more than alpha holds
		Confidence:    0.9,
	}}

	r := newTestRebalancer(t, adv, receipts, 0)
	r.RunCycle()

	require.Len(t, receipts.results, 1)
	assert.Equal(t, types.RebalanceRejected, receipts.results[0].Outcome)
	assert.True(t, receipts.results[0].Deployed.IsZero())
}

func TestRunCycleCountsCyclesAcrossRuns(t *testing.T) {
	receipts := &receiptLog{}
	adv := &stubAdvisor{rec: types.Recommendation{
		SourceAdapter: "alpha",
		TargetAdapter: "beta",
		Amount:        sdkmath.NewInt(100),
		Confidence:    0.9,
	}}

	r := newTestRebalancer(t, adv, receipts, 0)
	r.RunCycle()
	r.RunCycle()

	require.Len(t, receipts.cycles, 2)
	assert.Equal(t, []int{1, 2}, receipts.cycles)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	receipts := &receiptLog{}
	valid := Config{
		Engine:      fundedEngine(t),
		Advisor:     &stubAdvisor{},
		SaveReceipt: receipts.save,
		NextCycle:   countingCycle(),
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"nil engine", func(c *Config) { c.Engine = nil }},
		{"nil advisor", func(c *Config) { c.Advisor = nil }},
		{"nil receipt saver", func(c *Config) { c.SaveReceipt = nil }},
		{"nil cycle counter", func(c *Config) { c.NextCycle = nil }},
		{"confidence out of range", func(c *Config) { c.MinConfidence = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
