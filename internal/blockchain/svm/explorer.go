package svm

import (
	"fmt"

	"escrow/offchain/internal/config"
)

const explorerBase = "https://explorer.solana.com"

func clusterQuery(network config.Network) string {
	if network == config.NetworkMainnetBeta {
		return ""
	}
	return "?cluster=" + string(network)
}

// ExplorerTxURL links to a transaction on the Solana explorer
func ExplorerTxURL(network config.Network, signature string) string {
	return fmt.Sprintf("%s/tx/%s%s", explorerBase, signature, clusterQuery(network))
}

// ExplorerAddressURL links to an account on the Solana explorer
func ExplorerAddressURL(network config.Network, address string) string {
	return fmt.Sprintf("%s/address/%s%s", explorerBase, address, clusterQuery(network))
}

// TruncateAddress shortens an address to its first and last chars
// characters
func TruncateAddress(address string, chars int) string {
	if len(address) <= chars*2 {
		return address
	}
	return address[:chars] + "..." + address[len(address)-chars:]
}
