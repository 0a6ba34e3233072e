package faults

import (
	"testing"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/stretchr/testify/assert"
)

func TestSetAndResetSilently(t *testing.T) {
	h := New(map[Group]bms.Ticks{GroupOverVoltage: 100})
	h.Set(GroupOverVoltage, 3, 10)
	assert.True(t, h.IsRunning(GroupOverVoltage, 3))
	h.Reset(GroupOverVoltage, 3)
	assert.False(t, h.IsRunning(GroupOverVoltage, 3))
	assert.False(t, h.IsExpired(GroupOverVoltage, 3))
}

func TestExpiresAfterGroupTimeout(t *testing.T) {
	h := New(map[Group]bms.Ticks{GroupCanComm: 50})
	h.Set(GroupCanComm, InstanceCanCommBMS, 0)
	h.Routine(40)
	assert.False(t, h.IsExpired(GroupCanComm, InstanceCanCommBMS))
	h.Routine(50)
	assert.True(t, h.IsExpired(GroupCanComm, InstanceCanCommBMS))
	assert.True(t, h.IsAnyExpired())
}

func TestResetBeforeExpirationPreventsLatch(t *testing.T) {
	h := New(map[Group]bms.Ticks{GroupCanComm: 50})
	h.Set(GroupCanComm, InstanceCanCommBMS, 0)
	h.Reset(GroupCanComm, InstanceCanCommBMS)
	h.Routine(1000)
	assert.False(t, h.IsAnyExpired())
}

func TestSetTwiceDoesNotResetTimer(t *testing.T) {
	h := New(map[Group]bms.Ticks{GroupOverCurrent: 10})
	h.Set(GroupOverCurrent, 0, 0)
	h.Set(GroupOverCurrent, 0, 5)
	h.Routine(10)
	assert.True(t, h.IsExpired(GroupOverCurrent, 0), "set tick should be the first occurrence, not the latest")
}

func TestGroupCountsAggregation(t *testing.T) {
	h := New(map[Group]bms.Ticks{GroupUnderVoltage: 5})
	h.Set(GroupUnderVoltage, 1, 0)
	h.Set(GroupUnderVoltage, 2, 0)
	h.Routine(5)
	h.Set(GroupUnderVoltage, 3, 10)

	counts := h.GroupCounts(GroupUnderVoltage)
	assert.Equal(t, 3, counts.Running)
	assert.Equal(t, 2, counts.Expired)
}

func TestCanReporterMapsNetworkToInstance(t *testing.T) {
	h := New(map[Group]bms.Ticks{GroupCanComm: 100})
	tick := bms.Ticks(0)
	r := NewCanReporter(h, func() bms.Ticks { return tick })

	r.ReportTxResult(bms.NetworkBMS, false)
	assert.True(t, h.IsRunning(GroupCanComm, InstanceCanCommBMS))

	r.ReportTxResult(bms.NetworkBMS, true)
	assert.False(t, h.IsRunning(GroupCanComm, InstanceCanCommBMS))

	r.ReportUnhandled(bms.NetworkPrimary, 42)
	assert.True(t, h.IsRunning(GroupCanComm, InstanceCanCommPrimary))
}
