package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fxCopyDesk/internal/domain"
)

func TestFollowerLot(t *testing.T) {
	tests := []struct {
		name string
		sub  *domain.CopyFollower
		in   SizingInputs
		want float64
	}{
		{
			name: "fixed lot ignores balances",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyFixedLot, CopyValue: 0.25},
			in:   SizingInputs{MasterLot: 2.0, MasterBalance: 100000, FollowerBalance: 10},
			want: 0.25,
		},
		{
			name: "balance based scales by ratio",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyBalanceBased},
			in:   SizingInputs{MasterLot: 1.00, MasterBalance: 10000, FollowerBalance: 1000},
			want: 0.10,
		},
		{
			name: "balance based with zero master balance copies unscaled",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyBalanceBased},
			in:   SizingInputs{MasterLot: 0.50, MasterBalance: 0, FollowerBalance: 1000},
			want: 0.50,
		},
		{
			name: "equity based scales by equity ratio",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyEquityBased},
			in:   SizingInputs{MasterLot: 0.50, MasterEquity: 5000, FollowerEquity: 2500},
			want: 0.25,
		},
		{
			name: "auto behaves as equity based",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyAuto},
			in:   SizingInputs{MasterLot: 0.50, MasterEquity: 5000, FollowerEquity: 2500},
			want: 0.25,
		},
		{
			name: "multiplier scales the master lot",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyMultiplier, CopyValue: 2.5},
			in:   SizingInputs{MasterLot: 0.10},
			want: 0.25,
		},
		{
			name: "lot multiplier is an alias",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyLotMultiplier, CopyValue: 2.5},
			in:   SizingInputs{MasterLot: 0.10},
			want: 0.25,
		},
		{
			name: "unknown mode copies the master lot",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyMode("LEGACY")},
			in:   SizingInputs{MasterLot: 0.30},
			want: 0.30,
		},
		{
			name: "result floors at the minimum lot",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyBalanceBased},
			in:   SizingInputs{MasterLot: 0.10, MasterBalance: 100000, FollowerBalance: 100},
			want: 0.01,
		},
		{
			name: "result caps at the subscription max",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyMultiplier, CopyValue: 10, MaxLotSize: 0.50},
			in:   SizingInputs{MasterLot: 1.0},
			want: 0.50,
		},
		{
			name: "result rounds to 2 decimals",
			sub:  &domain.CopyFollower{CopyMode: domain.CopyBalanceBased},
			in:   SizingInputs{MasterLot: 1.0, MasterBalance: 3000, FollowerBalance: 1000},
			want: 0.33,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FollowerLot(tt.sub, tt.in))
		})
	}
}
