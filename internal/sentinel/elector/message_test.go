package elector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWellFormed(t *testing.T) {
	testCases := []struct {
		desc string
		line string
		want Message
	}{
		{
			desc: "+SDOWN",
			line: "+SDOWN pg-m h1 0/50",
			want: Message{Kind: KindSDown, PrimaryFQDN: "pg-m", VoterHost: "h1", WalPos: "0/50"},
		},
		{
			desc: "-SDOWN",
			line: "-SDOWN pg-m h1",
			want: Message{Kind: KindSDownUp, PrimaryFQDN: "pg-m", VoterHost: "h1"},
		},
		{
			desc: "+ODOWN",
			line: "+ODOWN pg-m h1",
			want: Message{Kind: KindODown, PrimaryFQDN: "pg-m", VoterHost: "h1"},
		},
		{
			desc: "+SELECT",
			line: "+SELECT h2 h1",
			want: Message{Kind: KindSelect, Candidate: "h2", VoterHost: "h1"},
		},
		{
			desc: "+NEWMASTER",
			line: "+NEWMASTER",
			want: Message{Kind: KindNewMaster},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := Parse(tc.line)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for _, line := range []string{"", "+SDOWN pg-m", "+UNKNOWN a b", "+SELECT only-one-field"} {
		_, err := Parse(line)
		require.Error(t, err)
	}
}

func TestClusterFromChannel(t *testing.T) {
	name, ok := ClusterFromChannel("pgsentinel-prod-pg1")
	require.True(t, ok)
	require.Equal(t, "pg1", name)

	_, ok = ClusterFromChannel("no-dash-ending-")
	require.False(t, ok)

	_, ok = ClusterFromChannel("nodash")
	require.False(t, ok)
}

func TestChannelForCluster(t *testing.T) {
	require.Equal(t, "pgsentinel-pg1", ChannelForCluster("pg1"))
}
