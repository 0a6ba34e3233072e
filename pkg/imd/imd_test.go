package imd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClassificationTable(t *testing.T) {
	cases := []struct {
		freq uint32
		want Status
	}{
		{0, StatusShortCircuit},
		{10, StatusNormal},
		{20, StatusUnderVoltage},
		{30, StatusStartMeasure},
		{40, StatusDeviceError},
		{50, StatusEarthFault},
		{17, StatusUnknown},
	}
	a := New()
	for _, c := range cases {
		a.UpdateMeasurement(c.freq, 50)
		assert.Equal(t, c.want, a.Status(), "freq=%d", c.freq)
	}
}

func TestPeriodMs(t *testing.T) {
	a := New()
	assert.EqualValues(t, 0, a.PeriodMs())
	a.UpdateMeasurement(10, 50)
	assert.EqualValues(t, 100, a.PeriodMs())
}
