package tokens

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"escrow/offchain/internal/config"
)

const samoMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func TestRegistry_Lookup(t *testing.T) {
	r, err := NewRegistry(config.NetworkDevnet, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		name         string
		mint         string
		wantSymbol   string
		wantName     string
		wantDecimals uint8
	}{
		{name: "devnet USDC", mint: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", wantSymbol: "USDC", wantName: "USD Coin", wantDecimals: 6},
		{name: "wrapped SOL", mint: "So11111111111111111111111111111111111111112", wantSymbol: "SOL", wantName: "Wrapped Solana", wantDecimals: 9},
		{name: "BONK", mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", wantSymbol: "BONK", wantName: "Bonk", wantDecimals: 5},
		{name: "mainnet USDC is unknown on devnet", mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", wantSymbol: "EPjF...Dt1v", wantName: "Unknown Token", wantDecimals: 9},
		{name: "unknown mint", mint: samoMint, wantSymbol: "7xKX...gAsU", wantName: "Unknown Token", wantDecimals: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mint := solana.MustPublicKeyFromBase58(tt.mint)
			got := r.Lookup(mint)
			if got.Symbol != tt.wantSymbol || got.Name != tt.wantName || got.Decimals != tt.wantDecimals {
				t.Errorf("Lookup(%s) = %+v", tt.mint, got)
			}
			if !got.Mint.Equals(mint) {
				t.Errorf("Lookup(%s) returned mint %s", tt.mint, got.Mint)
			}
		})
	}
}

func TestRegistry_AllOrder(t *testing.T) {
	r, err := NewRegistry(config.NetworkMainnetBeta, []config.TokenEntry{
		{Mint: samoMint, Symbol: "SAMO", Name: "Samoyed Coin", Decimals: 9},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	all := r.All()
	want := []string{"USDC", "SOL", "BONK", "SAMO"}
	if len(all) != len(want) {
		t.Fatalf("All() returned %d tokens, want %d", len(all), len(want))
	}
	for i, sym := range want {
		if all[i].Symbol != sym {
			t.Errorf("All()[%d] = %s, want %s", i, all[i].Symbol, sym)
		}
	}

	all[0].Symbol = "MUTATED"
	if r.All()[0].Symbol != "USDC" {
		t.Error("All() must return a copy")
	}
}

func TestRegistry_OverrideReplacesBuiltin(t *testing.T) {
	r, err := NewRegistry(config.NetworkDevnet, []config.TokenEntry{
		{Mint: "So11111111111111111111111111111111111111112", Symbol: "wSOL", Name: "Wrapped SOL", Decimals: 9},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if n := len(r.All()); n != 3 {
		t.Errorf("expected 3 tokens after override, got %d", n)
	}
	tok, ok := r.FindBySymbol("wsol")
	if !ok || tok.Name != "Wrapped SOL" {
		t.Errorf("FindBySymbol(wsol) = %+v, %v", tok, ok)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r, _ := NewRegistry(config.NetworkDevnet, nil)

	if tok, err := r.Resolve("usdc"); err != nil || tok.Decimals != 6 {
		t.Errorf("Resolve(usdc) = %+v, %v", tok, err)
	}
	if tok, err := r.Resolve(samoMint); err != nil || tok.Name != "Unknown Token" {
		t.Errorf("Resolve(samo) = %+v, %v", tok, err)
	}
	if _, err := r.Resolve("not-a-token"); err == nil {
		t.Error("Resolve(not-a-token) expected error")
	}
}

func TestNewRegistry_Errors(t *testing.T) {
	if _, err := NewRegistry("localnet", nil); err == nil {
		t.Error("expected error for unknown network")
	}
	if _, err := NewRegistry(config.NetworkDevnet, []config.TokenEntry{{Mint: "bad", Symbol: "BAD"}}); err == nil {
		t.Error("expected error for invalid mint")
	}
}
