package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/chain/evm"
)

func Test_Network_Validate(t *testing.T) {
	t.Parallel()

	rpcs := []RPC{{RPCName: "primary", HTTPURL: "https://polygon.rpc"}}

	tests := []struct {
		name    string
		give    Network
		wantErr string
	}{
		{name: "complete", give: Network{Type: NetworkTypeMainnet, ChainID: 137, RPCs: rpcs}},
		{name: "no type", give: Network{ChainID: 137, RPCs: rpcs}, wantErr: "type is required"},
		{name: "no chain id", give: Network{Type: NetworkTypeTestnet, RPCs: rpcs}, wantErr: "chain id is required"},
		{name: "no rpcs", give: Network{Type: NetworkTypeMainnet, ChainID: 137}, wantErr: "at least one RPC is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.give.Validate()
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func Test_Network_RPCConfig(t *testing.T) {
	t.Parallel()

	n := Network{
		Type:    NetworkTypeMainnet,
		ChainID: 137,
		Name:    "Polygon",
		RPCs: []RPC{
			{RPCName: "a", PreferredURLScheme: "ws", HTTPURL: "https://a.rpc", WSURL: "wss://a.rpc"},
			{RPCName: "b", HTTPURL: "https://b.rpc"},
		},
	}

	got, err := n.RPCConfig()
	require.NoError(t, err)
	assert.Equal(t, evm.RPCConfig{
		ChainID: 137,
		Name:    "Polygon",
		RPCs: []evm.RPC{
			{Name: "a", HTTPURL: "https://a.rpc", WSURL: "wss://a.rpc", PreferredURLScheme: evm.URLSchemePreferenceWS},
			{Name: "b", HTTPURL: "https://b.rpc", PreferredURLScheme: evm.URLSchemePreferenceHTTP},
		},
	}, got)

	n.RPCs[1].PreferredURLScheme = "ftp"
	_, err = n.RPCConfig()
	require.EqualError(t, err, "rpc b: invalid URL scheme preference: ftp")
}
