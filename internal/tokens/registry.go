// Package tokens maps SPL token mints to display metadata for one network.
package tokens

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"escrow/offchain/internal/config"
	"escrow/offchain/internal/models"
)

// Decimals assumed for mints the registry does not know.
const UnknownTokenDecimals = 9

const unknownTokenName = "Unknown Token"

var wrappedSOL = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
var bonk = solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")

// builtin holds USDC, SOL and BONK per network, in display order.
var builtin = map[config.Network][]models.TokenDescriptor{
	config.NetworkDevnet: {
		{Mint: solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"), Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Mint: wrappedSOL, Symbol: "SOL", Name: "Wrapped Solana", Decimals: 9},
		{Mint: bonk, Symbol: "BONK", Name: "Bonk", Decimals: 5},
	},
	config.NetworkTestnet: {
		{Mint: solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"), Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Mint: wrappedSOL, Symbol: "SOL", Name: "Wrapped Solana", Decimals: 9},
		{Mint: bonk, Symbol: "BONK", Name: "Bonk", Decimals: 5},
	},
	config.NetworkMainnetBeta: {
		{Mint: solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"), Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Mint: wrappedSOL, Symbol: "SOL", Name: "Wrapped Solana", Decimals: 9},
		{Mint: bonk, Symbol: "BONK", Name: "Bonk", Decimals: 5},
	},
}

// Registry is an immutable token table for one network. It is safe for
// concurrent use.
type Registry struct {
	network config.Network
	tokens  []models.TokenDescriptor
	byMint  map[solana.PublicKey]int
}

// NewRegistry builds the registry for network from the built-in table plus
// extra entries. An extra entry with a known mint replaces the built-in one
// in place; new mints are appended.
func NewRegistry(network config.Network, extra []config.TokenEntry) (*Registry, error) {
	base, ok := builtin[network]
	if !ok {
		return nil, fmt.Errorf("no token table for network %q", network)
	}

	r := &Registry{
		network: network,
		tokens:  make([]models.TokenDescriptor, 0, len(base)+len(extra)),
		byMint:  make(map[solana.PublicKey]int, len(base)+len(extra)),
	}
	for _, t := range base {
		r.put(t)
	}
	for _, e := range extra {
		mint, err := solana.PublicKeyFromBase58(e.Mint)
		if err != nil {
			return nil, fmt.Errorf("invalid mint for %s: %w", e.Symbol, err)
		}
		r.put(models.TokenDescriptor{Mint: mint, Symbol: e.Symbol, Name: e.Name, Decimals: e.Decimals})
	}
	return r, nil
}

func (r *Registry) put(t models.TokenDescriptor) {
	if i, ok := r.byMint[t.Mint]; ok {
		r.tokens[i] = t
		return
	}
	r.byMint[t.Mint] = len(r.tokens)
	r.tokens = append(r.tokens, t)
}

// Network returns the network the registry was built for
func (r *Registry) Network() config.Network {
	return r.network
}

// Lookup never fails: unknown mints get 9 decimals, the name
// "Unknown Token" and an abbreviated address as symbol.
func (r *Registry) Lookup(mint solana.PublicKey) models.TokenDescriptor {
	if t, ok := r.Known(mint); ok {
		return t
	}
	s := mint.String()
	return models.TokenDescriptor{
		Mint:     mint,
		Symbol:   s[:4] + "..." + s[len(s)-4:],
		Name:     unknownTokenName,
		Decimals: UnknownTokenDecimals,
	}
}

// Known returns the descriptor for mint only if it is in the table
func (r *Registry) Known(mint solana.PublicKey) (models.TokenDescriptor, bool) {
	i, ok := r.byMint[mint]
	if !ok {
		return models.TokenDescriptor{}, false
	}
	return r.tokens[i], true
}

// All returns every known token in table order
func (r *Registry) All() []models.TokenDescriptor {
	out := make([]models.TokenDescriptor, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// FindBySymbol matches symbols case-insensitively
func (r *Registry) FindBySymbol(symbol string) (models.TokenDescriptor, bool) {
	for _, t := range r.tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return models.TokenDescriptor{}, false
}

// Resolve accepts either a mint address or a known symbol
func (r *Registry) Resolve(mintOrSymbol string) (models.TokenDescriptor, error) {
	if t, ok := r.FindBySymbol(mintOrSymbol); ok {
		return t, nil
	}
	mint, err := solana.PublicKeyFromBase58(mintOrSymbol)
	if err != nil {
		return models.TokenDescriptor{}, fmt.Errorf("unknown token %q", mintOrSymbol)
	}
	return r.Lookup(mint), nil
}
