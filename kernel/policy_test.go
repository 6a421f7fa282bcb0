package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// turn plays one scheduling decision the way scheduler does, without
// running the process.
func turn(t *testing.T, k *Kernel, c *CPU) *Proc {
	t.Helper()
	p := k.policy.SelectNext(c)
	require.NotNil(t, p)
	require.True(t, holding(&p.lock))
	require.Equal(t, RUNNABLE, p.state)
	k.policy.OnBlock(p)
	release(&p.lock)
	return p
}

func TestRoundRobinCycles(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())
	p1, p2, p3 := addRunnable(t, k), addRunnable(t, k), addRunnable(t, k)

	c0, c1 := &k.cpus[0], &k.cpus[1]
	assert.Same(t, p1, turn(t, k, c0))
	assert.Same(t, p2, turn(t, k, c0))
	assert.Same(t, p3, turn(t, k, c0))
	assert.Same(t, p1, turn(t, k, c0))
	assert.Same(t, p1, turn(t, k, c1), "each cpu keeps its own cursor")

	acquire(&p2.lock)
	p2.state = SLEEPING
	release(&p2.lock)
	assert.Same(t, p3, turn(t, k, c0))
}

func TestPolicyIdleWhenNothingRunnable(t *testing.T) {
	for _, policy := range []string{PolicyRR, PolicyMLFQ, PolicyLottery} {
		cfg := testConfig()
		cfg.Policy = policy
		k, _ := newTestKernel(t, cfg)
		p := addRunnable(t, k)
		acquire(&p.lock)
		p.state = SLEEPING
		release(&p.lock)
		assert.Nil(t, k.policy.SelectNext(&k.cpus[0]), policy)
	}
}

func newMLFQKernel(t *testing.T, slices []int) (*Kernel, *mlfq) {
	cfg := testConfig()
	cfg.Policy = PolicyMLFQ
	cfg.MLFQ.Timeslices = slices
	k, _ := newTestKernel(t, cfg)
	return k, k.policy.(*mlfq)
}

func TestMLFQDemotesAfterTimeslice(t *testing.T) {
	k, q := newMLFQKernel(t, []int{1, 2, 3})
	p := addRunnable(t, k)
	c := &k.cpus[0]
	assert.Equal(t, 0, q.level(p))

	turn(t, k, c)
	assert.Equal(t, 1, q.level(p))

	turn(t, k, c)
	assert.Equal(t, 1, q.level(p))
	turn(t, k, c)
	assert.Equal(t, 2, q.level(p))

	for i := 0; i < 3; i++ {
		turn(t, k, c)
	}
	assert.Equal(t, 2, q.level(p), "bottom level keeps the process")
	assert.Equal(t, 0, p.ticksUsed[2])
}

func TestMLFQPrefersHigherLevels(t *testing.T) {
	k, q := newMLFQKernel(t, []int{1, 4, 8, 16})
	c := &k.cpus[0]
	p1 := addRunnable(t, k)
	assert.Same(t, p1, turn(t, k, c))
	assert.Equal(t, 1, q.level(p1))

	p2 := addRunnable(t, k)
	assert.Same(t, p2, turn(t, k, c), "new arrivals start at the top")
	assert.Same(t, p1, turn(t, k, c))
}

func TestMLFQAgingPromotesSleepers(t *testing.T) {
	k, q := newMLFQKernel(t, []int{1, 4, 8, 16})
	p := addRunnable(t, k)
	acquire(&p.lock)
	p.state = SLEEPING
	q.demote(p)
	q.demote(p)
	release(&p.lock)
	require.Equal(t, 2, q.level(p))

	acquire(&p.lock)
	for i := 0; i < q.aging-1; i++ {
		assert.False(t, q.observe(p))
	}
	assert.Equal(t, 2, q.level(p))
	assert.False(t, q.observe(p))
	release(&p.lock)

	assert.Equal(t, 1, q.level(p), "promoted exactly one level")
	assert.Equal(t, 0, p.waitTime)
}

func TestMLFQWakeupPromotesKillDoesNot(t *testing.T) {
	k, q := newMLFQKernel(t, []int{1, 4, 8, 16})
	sleeper, victim := addRunnable(t, k), addRunnable(t, k)
	for p, wchan := range map[*Proc]string{sleeper: "disk", victim: "tty"} {
		acquire(&p.lock)
		q.demote(p)
		q.demote(p)
		p.state = SLEEPING
		p.wchan = wchan
		release(&p.lock)
	}

	k.wakeup(nil, "disk")
	assert.Equal(t, RUNNABLE, k.stateOf(sleeper.pid))
	assert.Equal(t, 1, q.level(sleeper))
	assert.Equal(t, SLEEPING, k.stateOf(victim.pid))

	require.NoError(t, k.kill(victim.pid))
	assert.Equal(t, RUNNABLE, k.stateOf(victim.pid))
	assert.Equal(t, 2, q.level(victim))
}

func TestMLFQRemoveOnFree(t *testing.T) {
	k, q := newMLFQKernel(t, []int{1, 4})
	p := addRunnable(t, k)
	acquire(&p.lock)
	k.freeproc(p)
	release(&p.lock)

	for _, queue := range q.queues {
		assert.NotContains(t, queue, p)
	}
	assert.Nil(t, k.policy.SelectNext(&k.cpus[0]))
}

func TestLCGSequence(t *testing.T) {
	r := newLCG(1)
	assert.Equal(t, uint32(1103527590), r.next())
	assert.Equal(t, uint32(377401575), r.next())
	assert.Equal(t, uint32(662824084), r.next())
}

func newLotteryKernel(t *testing.T, tickets ...int) (*Kernel, []*Proc) {
	cfg := testConfig()
	cfg.Policy = PolicyLottery
	k, _ := newTestKernel(t, cfg)
	var procs []*Proc
	for _, n := range tickets {
		p := addRunnable(t, k)
		_, err := k.settickets(p, n)
		require.NoError(t, err)
		procs = append(procs, p)
	}
	return k, procs
}

func TestLotteryProportionalShare(t *testing.T) {
	testCases := []struct {
		description string
		tickets     []int
		draws       int
		expect      []int
	}{
		{description: "1:3", tickets: []int{1, 3}, draws: 4000, expect: []int{1000, 3000}},
		{description: "2:3:5", tickets: []int{2, 3, 5}, draws: 10000, expect: []int{1997, 3060, 4943}},
	}

	for _, testCase := range testCases {
		k, procs := newLotteryKernel(t, testCase.tickets...)
		wins := map[*Proc]int{}
		for i := 0; i < testCase.draws; i++ {
			wins[turn(t, k, &k.cpus[0])]++
		}
		for i, p := range procs {
			assert.Equal(t, testCase.expect[i], wins[p], testCase.description)
		}
	}
}

func TestLotteryRunsKilledFirst(t *testing.T) {
	k, procs := newLotteryKernel(t, 100, 1)
	require.NoError(t, k.kill(procs[1].pid))

	assert.Same(t, procs[1], turn(t, k, &k.cpus[0]))
	assert.Equal(t, uint32(1103527590), k.policy.(*lottery).rng.next(), "no ticket drawn")
}

func TestSetTicketsRejectsNonPositive(t *testing.T) {
	k, procs := newLotteryKernel(t, 1)
	_, err := k.settickets(procs[0], 0)
	assert.ErrorIs(t, err, ErrBadTickets)
	n, err := k.settickets(procs[0], 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func sleepOn(p *Proc, wchan any) {
	acquire(&p.lock)
	p.state = SLEEPING
	p.wchan = wchan
	release(&p.lock)
}

func TestPolicyEdges(t *testing.T) {
	testCases := []struct {
		description string
		run         func(t *testing.T)
	}{
		{
			description: "aging at the top level keeps the process there",
			run: func(t *testing.T) {
				k, q := newMLFQKernel(t, []int{1, 4, 8, 16})
				p := addRunnable(t, k)
				sleepOn(p, "disk")

				acquire(&p.lock)
				for i := 0; i < q.aging; i++ {
					assert.False(t, q.observe(p))
				}
				release(&p.lock)
				assert.Equal(t, 0, q.level(p))
				assert.Equal(t, 0, p.waitTime)
			},
		},
		{
			description: "wakeup readies every sleeper on the channel",
			run: func(t *testing.T) {
				k, q := newMLFQKernel(t, []int{1, 4, 8, 16})
				a, b, other := addRunnable(t, k), addRunnable(t, k), addRunnable(t, k)
				sleepOn(a, "x")
				sleepOn(b, "x")
				sleepOn(other, "y")

				k.wakeup(nil, "x")
				assert.Equal(t, RUNNABLE, k.stateOf(a.pid))
				assert.Equal(t, RUNNABLE, k.stateOf(b.pid))
				assert.Equal(t, SLEEPING, k.stateOf(other.pid))
				assert.Equal(t, 0, q.level(a), "promotion at the top is a no-op")
				assert.Equal(t, 0, q.level(b))
			},
		},
		{
			description: "lottery never picks a process that is not runnable",
			run: func(t *testing.T) {
				k, procs := newLotteryKernel(t, 1000, 1)
				sleepOn(procs[0], "disk")
				for i := 0; i < 200; i++ {
					assert.Same(t, procs[1], turn(t, k, &k.cpus[0]))
				}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, testCase.run)
	}
}
