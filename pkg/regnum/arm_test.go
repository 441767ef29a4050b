package regnum

import "testing"

func TestARMToName(t *testing.T) {
	for _, tc := range []struct {
		num  uint64
		name string
	}{
		{ARM_R0, "r0"},
		{ARM_R4, "r4"},
		{10, "r10"},
		{ARM_FP, "fp"},
		{ARM_IP, "ip"},
		{ARM_SP, "sp"},
		{ARM_LR, "lr"},
		{ARM_PC, "pc"},
		{16, "unknown16"},
	} {
		if got := ARMToName(tc.num); got != tc.name {
			t.Errorf("ARMToName(%d) = %q, expected %q", tc.num, got, tc.name)
		}
	}
}
