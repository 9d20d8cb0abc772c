package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"

	"escrow/offchain/internal/amount"
	"escrow/offchain/internal/blockchain/svm"
	"escrow/offchain/internal/models"
)

// Validation failures detected while preparing. They surface as
// Unclassified errors carrying these messages.
var (
	ErrSameMint          = errors.New("maker and taker tokens must differ")
	ErrInvalidDuration   = errors.New("duration must be at least one hour")
	ErrNotMaker          = errors.New("only the maker can modify this escrow")
	ErrMakerCannotTake   = errors.New("maker cannot take their own escrow")
	ErrImmutableEscrow   = errors.New("escrow is not mutable")
	ErrEscrowAddressDiff = errors.New("escrow address does not match its maker and seed")
)

// CreateParams describe a new escrow. Amounts are decimal strings in
// display units.
type CreateParams struct {
	MakerTokenMint   solana.PublicKey
	MakerTokenAmount string
	TakerTokenMint   solana.PublicKey
	TakerTokenAmount string
	DurationHours    int64
	IsMutable        bool
}

// UpdateParams describe changes to an escrow. Nil or empty fields are left
// unchanged on chain.
type UpdateParams struct {
	Escrow           solana.PublicKey
	TakerTokenMint   *solana.PublicKey
	TakerTokenAmount *string
	DurationHours    *int64
}

// Prepared is an assembled, unsigned transaction
type Prepared struct {
	Intent       models.Intent
	Escrow       solana.PublicKey
	Vault        solana.PublicKey
	Seed         uint64
	Instructions []solana.Instruction
	Transaction  *solana.Transaction
}

// PrepareCreate builds the make transaction. The seed is the current time
// in milliseconds and the expiry is now plus DurationHours.
func (e *Engine) PrepareCreate(ctx context.Context, p CreateParams) (*Prepared, error) {
	maker, err := e.signer()
	if err != nil {
		return nil, err
	}
	if p.MakerTokenMint.Equals(p.TakerTokenMint) {
		return nil, ErrSameMint
	}
	if p.DurationHours <= 0 {
		return nil, ErrInvalidDuration
	}

	now := e.now()
	seed := uint64(now.UnixMilli())

	escrow, _, err := svm.DeriveEscrowAddress(e.programID, maker, seed)
	if err != nil {
		return nil, err
	}
	vault, _, err := svm.DeriveVaultAddress(e.programID, escrow)
	if err != nil {
		return nil, err
	}
	makerTokenAccount, err := svm.AssociatedTokenAddress(maker, p.MakerTokenMint)
	if err != nil {
		return nil, err
	}

	makerToken := e.registry.Lookup(p.MakerTokenMint)
	takerToken := e.registry.Lookup(p.TakerTokenMint)

	ix, err := svm.NewMakeInstruction(e.programID, svm.MakeAccounts{
		Maker:             maker,
		Escrow:            escrow,
		Vault:             vault,
		MakerTokenMint:    p.MakerTokenMint,
		MakerTokenAccount: makerTokenAccount,
	}, svm.MakeArgs{
		Seed:             seed,
		MakerTokenAmount: amount.ToBaseUnits(p.MakerTokenAmount, makerToken.Decimals),
		TakerTokenMint:   p.TakerTokenMint,
		TakerTokenAmount: amount.ToBaseUnits(p.TakerTokenAmount, takerToken.Decimals),
		Expiry:           now.Unix() + p.DurationHours*3600,
		IsMutable:        p.IsMutable,
	})
	if err != nil {
		return nil, err
	}

	return e.assemble(ctx, &Prepared{
		Intent:       models.IntentCreate,
		Escrow:       escrow,
		Vault:        vault,
		Seed:         seed,
		Instructions: []solana.Instruction{ix},
	}, maker)
}

// PrepareTake builds the take transaction, prepending creation of the
// taker's receiving token account when it does not exist yet.
func (e *Engine) PrepareTake(ctx context.Context, address solana.PublicKey) (*Prepared, error) {
	taker, err := e.signer()
	if err != nil {
		return nil, err
	}

	rec, vault, err := e.loadEscrow(ctx, address)
	if err != nil {
		return nil, err
	}
	if rec.Expiry <= e.now().Unix() {
		return nil, models.NewTxError(models.ErrorKindEscrowExpired, fmt.Errorf("escrow %s expired at %d", address, rec.Expiry))
	}
	if rec.Maker.Equals(taker) {
		return nil, ErrMakerCannotTake
	}

	makerReceive, err := svm.AssociatedTokenAddress(rec.Maker, rec.TakerTokenMint)
	if err != nil {
		return nil, err
	}
	takerReceive, err := svm.AssociatedTokenAddress(taker, rec.MakerTokenMint)
	if err != nil {
		return nil, err
	}
	takerSend, err := svm.AssociatedTokenAddress(taker, rec.TakerTokenMint)
	if err != nil {
		return nil, err
	}

	var ixs []solana.Instruction

	exists, err := e.chain.AccountExists(ctx, takerReceive)
	if err != nil {
		return nil, err
	}
	if !exists {
		createATA, err := associatedtokenaccount.NewCreateInstruction(taker, taker, rec.MakerTokenMint).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build token account creation: %w", err)
		}
		ixs = append(ixs, createATA)
	}

	ixs = append(ixs, svm.NewTakeInstruction(e.programID, svm.TakeAccounts{
		Taker:                    taker,
		Maker:                    rec.Maker,
		Escrow:                   address,
		Vault:                    vault,
		MakerTokenMint:           rec.MakerTokenMint,
		TakerTokenMint:           rec.TakerTokenMint,
		MakerReceiveTokenAccount: makerReceive,
		TakerReceiveTokenAccount: takerReceive,
		TakerSendTokenAccount:    takerSend,
	}))

	return e.assemble(ctx, &Prepared{
		Intent:       models.IntentTake,
		Escrow:       address,
		Vault:        vault,
		Seed:         rec.Seed,
		Instructions: ixs,
	}, taker)
}

// PrepareCancel builds the cancel transaction
func (e *Engine) PrepareCancel(ctx context.Context, address solana.PublicKey) (*Prepared, error) {
	maker, err := e.signer()
	if err != nil {
		return nil, err
	}

	rec, vault, err := e.loadEscrow(ctx, address)
	if err != nil {
		return nil, err
	}
	if !rec.Maker.Equals(maker) {
		return nil, ErrNotMaker
	}

	makerTokenAccount, err := svm.AssociatedTokenAddress(maker, rec.MakerTokenMint)
	if err != nil {
		return nil, err
	}

	ix := svm.NewCancelInstruction(e.programID, svm.CancelAccounts{
		Maker:             maker,
		Escrow:            address,
		Vault:             vault,
		MakerTokenAccount: makerTokenAccount,
	})

	return e.assemble(ctx, &Prepared{
		Intent:       models.IntentCancel,
		Escrow:       address,
		Vault:        vault,
		Seed:         rec.Seed,
		Instructions: []solana.Instruction{ix},
	}, maker)
}

// PrepareUpdate builds the update transaction. A new taker amount is
// converted with the decimals of the new taker mint if one is given, else
// of the escrow's current taker mint.
func (e *Engine) PrepareUpdate(ctx context.Context, p UpdateParams) (*Prepared, error) {
	maker, err := e.signer()
	if err != nil {
		return nil, err
	}

	rec, vault, err := e.loadEscrow(ctx, p.Escrow)
	if err != nil {
		return nil, err
	}
	if !rec.Maker.Equals(maker) {
		return nil, ErrNotMaker
	}
	if !rec.IsMutable {
		return nil, ErrImmutableEscrow
	}

	var args svm.UpdateArgs
	takerMint := rec.TakerTokenMint
	if p.TakerTokenMint != nil {
		mint := *p.TakerTokenMint
		if mint.Equals(rec.MakerTokenMint) {
			return nil, ErrSameMint
		}
		args.TakerTokenMint = &mint
		takerMint = mint
	}
	if p.TakerTokenAmount != nil && *p.TakerTokenAmount != "" {
		base := amount.ToBaseUnits(*p.TakerTokenAmount, e.registry.Lookup(takerMint).Decimals)
		args.TakerTokenAmount = &base
	}
	if p.DurationHours != nil && *p.DurationHours != 0 {
		if *p.DurationHours < 0 {
			return nil, ErrInvalidDuration
		}
		expiry := e.now().Unix() + *p.DurationHours*3600
		args.Expiry = &expiry
	}

	ix, err := svm.NewUpdateInstruction(e.programID, maker, p.Escrow, args)
	if err != nil {
		return nil, err
	}

	return e.assemble(ctx, &Prepared{
		Intent:       models.IntentUpdate,
		Escrow:       p.Escrow,
		Vault:        vault,
		Seed:         rec.Seed,
		Instructions: []solana.Instruction{ix},
	}, maker)
}

func (e *Engine) signer() (solana.PublicKey, error) {
	pk := e.Signer()
	if pk.IsZero() {
		return solana.PublicKey{}, models.NewTxError(models.ErrorKindWalletNotReady, nil)
	}
	return pk, nil
}

// loadEscrow fetches the record at address and checks that it derives back
// to address
func (e *Engine) loadEscrow(ctx context.Context, address solana.PublicKey) (*models.EscrowRecord, solana.PublicKey, error) {
	rec, err := e.chain.GetEscrow(ctx, address)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}

	ok, err := svm.VerifyEscrowAddress(address, e.programID, rec.Maker, rec.Seed)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	if !ok {
		return nil, solana.PublicKey{}, ErrEscrowAddressDiff
	}

	vault, _, err := svm.DeriveVaultAddress(e.programID, address)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	return rec, vault, nil
}

// assemble fetches a blockhash and wraps the instructions in a transaction
// paid by payer
func (e *Engine) assemble(ctx context.Context, p *Prepared, payer solana.PublicKey) (*Prepared, error) {
	blockhash, err := e.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(p.Instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	p.Transaction = tx
	return p, nil
}
