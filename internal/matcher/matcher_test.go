package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shadowmirror/copytrader/internal/domain"
)

func TestMatch_NewAdmission(t *testing.T) {
	up := []domain.UpstreamPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 100, Leverage: 5},
	}
	out := Match(up, nil)

	require := assert.New(t)
	require.Len(out, 1)
	require.Equal(New, out[0].Kind)
	require.Equal(&up[0], out[0].Upstream)
}

func TestMatch_PartialClose(t *testing.T) {
	now := time.Now()
	up := []domain.UpstreamPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 60, UTime: now},
	}
	mirrored := []domain.MirroredPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 100, UTime: now.Add(-time.Minute)},
	}

	out := Match(up, mirrored)
	assert.Len(t, out, 1)
	assert.Equal(t, PartialClose, out[0].Kind)
	assert.Same(t, &mirrored[0], out[0].Mirrored)
}

func TestMatch_Unchanged(t *testing.T) {
	now := time.Now()
	up := []domain.UpstreamPosition{
		{TraderID: "T", Symbol: "BTC-USDT", Side: domain.SideShort, OpenAvgPx: 60000, SubPos: 1, UTime: now},
	}
	mirrored := []domain.MirroredPosition{
		{TraderID: "T", Symbol: "BTC-USDT", Side: domain.SideShort, OpenAvgPx: 60000, SubPos: 1, UTime: now},
	}

	out := Match(up, mirrored)
	assert.Equal(t, Unchanged, out[0].Kind)
}

func TestMatch_ResizedSamePositionNeverReentered(t *testing.T) {
	now := time.Now()
	up := []domain.UpstreamPosition{
		{TraderID: "T", Symbol: "ETH-USDT", Side: domain.SideLong, OpenAvgPx: 3100, SubPos: 5, Leverage: 10, UTime: now},
	}
	mirrored := []domain.MirroredPosition{
		{TraderID: "T", Symbol: "ETH-USDT", Side: domain.SideLong, OpenAvgPx: 3000, SubPos: 5, Leverage: 10, UTime: now.Add(-time.Hour)},
	}

	out := Match(up, mirrored)
	assert.Equal(t, Resized, out[0].Kind)
}

func TestMatch_Assumed(t *testing.T) {
	now := time.Now()
	up := []domain.UpstreamPosition{
		{TraderID: "T", Symbol: "ETH-USDT", Side: domain.SideLong, OpenAvgPx: 3050, SubPos: 7, UTime: now},
	}
	mirrored := []domain.MirroredPosition{
		{TraderID: "T", Symbol: "ETH-USDT", Side: domain.SideLong, OpenAvgPx: 3000, SubPos: 5, UTime: now},
	}

	out := Match(up, mirrored)
	assert.Equal(t, Assumed, out[0].Kind)
}

func TestMatch_Disappeared(t *testing.T) {
	mirrored := []domain.MirroredPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 100},
	}
	out := Match(nil, mirrored)
	assert.Len(t, out, 1)
	assert.Equal(t, Disappeared, out[0].Kind)
	assert.Nil(t, out[0].Upstream)
}

func TestMatch_DifferentSymbolOrSideNeverMatches(t *testing.T) {
	up := []domain.UpstreamPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideShort, OpenAvgPx: 24.00, SubPos: 100},
	}
	mirrored := []domain.MirroredPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 100},
	}

	out := Match(up, mirrored)
	assert.Len(t, out, 2)
	kinds := []Kind{out[0].Kind, out[1].Kind}
	assert.Contains(t, kinds, Disappeared)
	assert.Contains(t, kinds, New)
}

func TestMatch_LeaderReducesScenario(t *testing.T) {
	// spec §8 scenario 2 shape: the leader's amount drops to 60 at the same
	// price (here from a recorded 93.8).
	now := time.Now()
	up := []domain.UpstreamPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 60, UTime: now},
	}
	mirrored := []domain.MirroredPosition{
		{TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 93.8, UTime: now.Add(-time.Hour)},
	}

	out := Match(up, mirrored)
	assert.Equal(t, PartialClose, out[0].Kind)
	assert.Equal(t, 60.0, out[0].Upstream.SubPos)
}
