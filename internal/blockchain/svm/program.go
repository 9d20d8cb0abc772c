package svm

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"escrow/offchain/internal/models"
)

// Anchor discriminators of the escrow program
var (
	MakeDiscriminator   = anchorDiscriminator("global", "make")
	TakeDiscriminator   = anchorDiscriminator("global", "take")
	CancelDiscriminator = anchorDiscriminator("global", "cancel")
	UpdateDiscriminator = anchorDiscriminator("global", "update")

	EscrowAccountDiscriminator = anchorDiscriminator("account", "Escrow")
)

// EscrowMakerOffset is where the maker key starts in Escrow account data
const EscrowMakerOffset = 8

// EscrowAccountSize is the serialized size of an Escrow account
const EscrowAccountSize = 8 + 32 + 8 + 32 + 32 + 8 + 8 + 8 + 1 + 1 + 1

func anchorDiscriminator(namespace, name string) [8]byte {
	hash := sha256.Sum256([]byte(namespace + ":" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// MakeArgs are the arguments of the make instruction, in IDL order
type MakeArgs struct {
	Seed             uint64
	MakerTokenAmount uint64
	TakerTokenMint   solana.PublicKey
	TakerTokenAmount uint64
	Expiry           int64
	IsMutable        bool
}

// UpdateArgs are the arguments of the update instruction. Nil fields are
// encoded as None and left unchanged by the program.
type UpdateArgs struct {
	TakerTokenMint   *solana.PublicKey `bin:"optional"`
	TakerTokenAmount *uint64           `bin:"optional"`
	Expiry           *int64            `bin:"optional"`
}

// MakeAccounts are the accounts the make instruction needs besides programs
type MakeAccounts struct {
	Maker             solana.PublicKey
	Escrow            solana.PublicKey
	Vault             solana.PublicKey
	MakerTokenMint    solana.PublicKey
	MakerTokenAccount solana.PublicKey
}

// TakeAccounts are the accounts the take instruction needs besides programs
type TakeAccounts struct {
	Taker                    solana.PublicKey
	Maker                    solana.PublicKey
	Escrow                   solana.PublicKey
	Vault                    solana.PublicKey
	MakerTokenMint           solana.PublicKey
	TakerTokenMint           solana.PublicKey
	MakerReceiveTokenAccount solana.PublicKey
	TakerReceiveTokenAccount solana.PublicKey
	TakerSendTokenAccount    solana.PublicKey
}

// CancelAccounts are the accounts the cancel instruction needs besides programs
type CancelAccounts struct {
	Maker             solana.PublicKey
	Escrow            solana.PublicKey
	Vault             solana.PublicKey
	MakerTokenAccount solana.PublicKey
}

// NewMakeInstruction deposits maker tokens into a new escrow
func NewMakeInstruction(programID solana.PublicKey, accts MakeAccounts, args MakeArgs) (solana.Instruction, error) {
	data, err := encodeInstructionData(MakeDiscriminator, args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode make args: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.Maker, true, true),
		solana.NewAccountMeta(accts.Escrow, true, false),
		solana.NewAccountMeta(accts.Vault, true, false),
		solana.NewAccountMeta(accts.MakerTokenMint, false, false),
		solana.NewAccountMeta(accts.MakerTokenAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}

	return solana.NewInstruction(programID, accounts, data), nil
}

// NewTakeInstruction swaps taker tokens for the vault contents
func NewTakeInstruction(programID solana.PublicKey, accts TakeAccounts) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.Taker, true, true),
		solana.NewAccountMeta(accts.Maker, false, false),
		solana.NewAccountMeta(accts.Escrow, true, false),
		solana.NewAccountMeta(accts.Vault, true, false),
		solana.NewAccountMeta(accts.MakerTokenMint, false, false),
		solana.NewAccountMeta(accts.TakerTokenMint, false, false),
		solana.NewAccountMeta(accts.MakerReceiveTokenAccount, true, false),
		solana.NewAccountMeta(accts.TakerReceiveTokenAccount, true, false),
		solana.NewAccountMeta(accts.TakerSendTokenAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}

	return solana.NewInstruction(programID, accounts, TakeDiscriminator[:])
}

// NewCancelInstruction returns the vault contents to the maker
func NewCancelInstruction(programID solana.PublicKey, accts CancelAccounts) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.Maker, true, true),
		solana.NewAccountMeta(accts.Escrow, true, false),
		solana.NewAccountMeta(accts.Vault, true, false),
		solana.NewAccountMeta(accts.MakerTokenAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}

	return solana.NewInstruction(programID, accounts, CancelDiscriminator[:])
}

// NewUpdateInstruction changes the terms of a mutable escrow
func NewUpdateInstruction(programID, maker, escrow solana.PublicKey, args UpdateArgs) (solana.Instruction, error) {
	data, err := encodeInstructionData(UpdateDiscriminator, args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode update args: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(maker, true, true),
		solana.NewAccountMeta(escrow, true, false),
	}

	return solana.NewInstruction(programID, accounts, data), nil
}

func encodeInstructionData(discriminator [8]byte, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// escrowAccount mirrors the on-chain layout after the discriminator
type escrowAccount struct {
	Maker            solana.PublicKey
	Seed             uint64
	MakerTokenMint   solana.PublicKey
	TakerTokenMint   solana.PublicKey
	MakerTokenAmount uint64
	TakerTokenAmount uint64
	Expiry           int64
	IsMutable        bool
	Bump             uint8
	VaultBump        uint8
}

// DecodeEscrowAccount parses raw Escrow account data
func DecodeEscrowAccount(data []byte) (*models.EscrowRecord, error) {
	if len(data) < EscrowAccountSize {
		return nil, fmt.Errorf("escrow account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], EscrowAccountDiscriminator[:]) {
		return nil, fmt.Errorf("account is not an escrow (discriminator %x)", data[:8])
	}

	var acct escrowAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&acct); err != nil {
		return nil, fmt.Errorf("failed to decode escrow account: %w", err)
	}

	return &models.EscrowRecord{
		Maker:            acct.Maker,
		Seed:             acct.Seed,
		MakerTokenMint:   acct.MakerTokenMint,
		TakerTokenMint:   acct.TakerTokenMint,
		MakerTokenAmount: acct.MakerTokenAmount,
		TakerTokenAmount: acct.TakerTokenAmount,
		Expiry:           acct.Expiry,
		IsMutable:        acct.IsMutable,
		Bump:             acct.Bump,
		VaultBump:        acct.VaultBump,
	}, nil
}

// EncodeEscrowAccount serializes a record the way the program stores it
func EncodeEscrowAccount(rec *models.EscrowRecord) ([]byte, error) {
	return encodeInstructionData(EscrowAccountDiscriminator, escrowAccount{
		Maker:            rec.Maker,
		Seed:             rec.Seed,
		MakerTokenMint:   rec.MakerTokenMint,
		TakerTokenMint:   rec.TakerTokenMint,
		MakerTokenAmount: rec.MakerTokenAmount,
		TakerTokenAmount: rec.TakerTokenAmount,
		Expiry:           rec.Expiry,
		IsMutable:        rec.IsMutable,
		Bump:             rec.Bump,
		VaultBump:        rec.VaultBump,
	})
}
