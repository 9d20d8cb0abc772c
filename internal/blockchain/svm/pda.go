package svm

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed prefixes used by the escrow program
const (
	EscrowSeedPrefix = "escrow"
	VaultSeedPrefix  = "vault"
)

// DeriveEscrowAddress computes the program-derived address of an escrow
//
// Seeds: "escrow" ++ maker (32 bytes) ++ seed (u64 little-endian)
//
// The result is the first off-curve candidate found by decrementing the
// bump from 255, so the same (program, maker, seed) always yields the same
// address and bump.
func DeriveEscrowAddress(programID, maker solana.PublicKey, seed uint64) (solana.PublicKey, uint8, error) {
	if programID.IsZero() {
		return solana.PublicKey{}, 0, fmt.Errorf("program ID cannot be empty")
	}
	if maker.IsZero() {
		return solana.PublicKey{}, 0, fmt.Errorf("maker cannot be empty")
	}

	addr, bump, err := solana.FindProgramAddress(EscrowSeeds(maker, seed), programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive escrow address: %w", err)
	}
	return addr, bump, nil
}

// EscrowSeeds returns the PDA seeds of an escrow, without the bump
func EscrowSeeds(maker solana.PublicKey, seed uint64) [][]byte {
	seedBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(seedBytes, seed)
	return [][]byte{[]byte(EscrowSeedPrefix), maker.Bytes(), seedBytes}
}

// DeriveVaultAddress computes the token vault PDA owned by an escrow
//
// Seeds: "vault" ++ escrow (32 bytes)
func DeriveVaultAddress(programID, escrow solana.PublicKey) (solana.PublicKey, uint8, error) {
	if programID.IsZero() {
		return solana.PublicKey{}, 0, fmt.Errorf("program ID cannot be empty")
	}
	if escrow.IsZero() {
		return solana.PublicKey{}, 0, fmt.Errorf("escrow cannot be empty")
	}

	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte(VaultSeedPrefix), escrow.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive vault address: %w", err)
	}
	return addr, bump, nil
}

// VerifyEscrowAddress checks that expected is the escrow PDA for (maker, seed)
func VerifyEscrowAddress(expected, programID, maker solana.PublicKey, seed uint64) (bool, error) {
	computed, _, err := DeriveEscrowAddress(programID, maker, seed)
	if err != nil {
		return false, err
	}
	return expected.Equals(computed), nil
}

// AssociatedTokenAddress returns the canonical token account of owner for mint
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}
	return addr, nil
}
