package types

import "math/big"

// Network represents a supported destination chain
type Network string

const (
	NetworkEthereum        Network = "ethereum"
	NetworkEthereumSepolia Network = "ethereum-sepolia" // testnet
	NetworkPolygon         Network = "polygon"
	NetworkPolygonAmoy     Network = "polygon-amoy" // testnet
	NetworkBase            Network = "base"
	NetworkBaseSepolia     Network = "base-sepolia" // testnet
	NetworkArbitrum        Network = "arbitrum"
	NetworkOptimism        Network = "optimism"
)

// EVMNetworkToChainID maps known networks to their EIP-155 chain ids.
var EVMNetworkToChainID = map[Network]int64{
	NetworkEthereum:        1,
	NetworkEthereumSepolia: 11155111,
	NetworkPolygon:         137,
	NetworkPolygonAmoy:     80002,
	NetworkBase:            8453,
	NetworkBaseSepolia:     84532,
	NetworkArbitrum:        42161,
	NetworkOptimism:        10,
}

// KnownNetworks returns every network this module can settle on.
func KnownNetworks() []Network {
	return []Network{
		NetworkEthereum, NetworkEthereumSepolia,
		NetworkPolygon, NetworkPolygonAmoy,
		NetworkBase, NetworkBaseSepolia,
		NetworkArbitrum, NetworkOptimism,
	}
}

func (n Network) IsEVM() bool {
	_, ok := EVMNetworkToChainID[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return n == NetworkEthereumSepolia || n == NetworkPolygonAmoy || n == NetworkBaseSepolia
}

// ChainID returns the EIP-155 chain id, or nil for unknown networks.
func (n Network) ChainID() *big.Int {
	id, ok := EVMNetworkToChainID[n]
	if !ok {
		return nil
	}
	return big.NewInt(id)
}

func (n Network) String() string {
	return string(n)
}
