package executor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"shardswap/pkg/shard"
)

// SwapProgramID is the on-chain sharded swap program. Override before
// building instructions when targeting a devnet deployment.
var SwapProgramID = solana.MustPublicKeyFromBase58("SwaPpA9LAaLfeLi3a68M4DjnLqgtticKg6CnyNwgAC8")

// Instruction discriminators. A single byte selects the operation; the
// program rejects anything else as an invalid instruction.
const (
	InstructionInitialize uint8 = iota
	InstructionSwap
	InstructionAddLiquidity
	InstructionRemoveLiquidity
	InstructionDepositSingle  // single-sided variant, not emitted by this client
	InstructionWithdrawSingle // single-sided variant, not emitted by this client
)

// SwapInstruction trades amountIn of the source token for at least
// MinimumOut of the destination token. Payload is 17 bytes:
// [u8 discriminator][u64 LE amountIn][u64 LE minimumOut].
//
// Account order (fixed, program-enforced):
//
//	0. pool state account
//	1. pool authority (PDA)
//	2. user wallet              [signer]
//	3. user source account      [writable]
//	4. pool source reserve      [writable]
//	5. pool destination reserve [writable]
//	6. user destination account [writable]
//	7. LP mint                  [writable]
//	8. fee account              [writable]
//	9. token program
type SwapInstruction struct {
	bin.BaseVariant
	AmountIn                uint64
	MinimumOut              uint64
	solana.AccountMetaSlice `bin:"-" borsh_skip:"true"`
}

// NewSwapInstruction builds the swap for one shard. isForward trades
// token A for token B; reversed otherwise. userSource and userDest are the
// trader's token accounts for the input and output mints.
func NewSwapInstruction(sh shard.Shard, user, userSource, userDest solana.PublicKey, amountIn, minimumOut uint64, isForward bool) *SwapInstruction {
	poolSource, poolDest := sh.ReserveAccountA, sh.ReserveAccountB
	if !isForward {
		poolSource, poolDest = sh.ReserveAccountB, sh.ReserveAccountA
	}

	inst := &SwapInstruction{
		AmountIn:   amountIn,
		MinimumOut: minimumOut,
	}
	inst.BaseVariant = bin.BaseVariant{Impl: inst}
	inst.AccountMetaSlice = solana.AccountMetaSlice{
		solana.NewAccountMeta(sh.PoolAddress, false, false),
		solana.NewAccountMeta(sh.Authority, false, false),
		solana.NewAccountMeta(user, false, true),
		solana.NewAccountMeta(userSource, true, false),
		solana.NewAccountMeta(poolSource, true, false),
		solana.NewAccountMeta(poolDest, true, false),
		solana.NewAccountMeta(userDest, true, false),
		solana.NewAccountMeta(sh.LPMint, true, false),
		solana.NewAccountMeta(sh.FeeAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return inst
}

func (inst *SwapInstruction) ProgramID() solana.PublicKey {
	return SwapProgramID
}

func (inst *SwapInstruction) Accounts() []*solana.AccountMeta {
	return inst.Impl.(solana.AccountsGettable).GetAccounts()
}

func (inst *SwapInstruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(InstructionSwap)

	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint64(inst.AmountIn, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("encode amountIn: %w", err)
	}
	if err := enc.WriteUint64(inst.MinimumOut, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("encode minimumOut: %w", err)
	}
	return buf.Bytes(), nil
}

// LiquidityInstruction covers AddLiquidity and RemoveLiquidity. Both carry
// an exactly 25-byte payload: [u8 discriminator][u64 LE amount]
// [u64 LE boundA][u64 LE boundB]. For add, Amount is the LP amount to mint
// and the bounds cap the token A/B deposits; for remove, Amount is the LP
// amount to burn and the bounds floor the token A/B withdrawals.
//
// Add account order (14 accounts):
//
//	 0. pool state account
//	 1. pool authority (PDA)
//	 2. user wallet           [signer]
//	 3. user token A account  [writable]
//	 4. user token B account  [writable]
//	 5. pool reserve A        [writable]
//	 6. pool reserve B        [writable]
//	 7. LP mint               [writable]
//	 8. user LP account       [writable]
//	 9. token A mint
//	10. token B mint
//	11. fee account           [writable]
//	12. token program
//	13. system program
//
// Remove account order (15 accounts):
//
//	 0. pool state account
//	 1. pool authority (PDA)
//	 2. user wallet           [signer]
//	 3. user LP account       [writable]
//	 4. LP mint               [writable]
//	 5. pool reserve A        [writable]
//	 6. pool reserve B        [writable]
//	 7. user token A account  [writable]
//	 8. user token B account  [writable]
//	 9. token A mint
//	10. token B mint
//	11. fee account           [writable]
//	12. associated token program
//	13. token program
//	14. system program
type LiquidityInstruction struct {
	bin.BaseVariant
	Discriminator           uint8
	Amount                  uint64
	BoundA                  uint64
	BoundB                  uint64
	solana.AccountMetaSlice `bin:"-" borsh_skip:"true"`
}

// NewAddLiquidityInstruction mints lpAmount of LP tokens against at most
// maxA/maxB of the underlying tokens.
func NewAddLiquidityInstruction(sh shard.Shard, user, userTokenA, userTokenB, userLP solana.PublicKey, lpAmount, maxA, maxB uint64) *LiquidityInstruction {
	inst := &LiquidityInstruction{
		Discriminator: InstructionAddLiquidity,
		Amount:        lpAmount,
		BoundA:        maxA,
		BoundB:        maxB,
	}
	inst.BaseVariant = bin.BaseVariant{Impl: inst}
	inst.AccountMetaSlice = solana.AccountMetaSlice{
		solana.NewAccountMeta(sh.PoolAddress, false, false),
		solana.NewAccountMeta(sh.Authority, false, false),
		solana.NewAccountMeta(user, false, true),
		solana.NewAccountMeta(userTokenA, true, false),
		solana.NewAccountMeta(userTokenB, true, false),
		solana.NewAccountMeta(sh.ReserveAccountA, true, false),
		solana.NewAccountMeta(sh.ReserveAccountB, true, false),
		solana.NewAccountMeta(sh.LPMint, true, false),
		solana.NewAccountMeta(userLP, true, false),
		solana.NewAccountMeta(sh.MintA, false, false),
		solana.NewAccountMeta(sh.MintB, false, false),
		solana.NewAccountMeta(sh.FeeAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return inst
}

// NewRemoveLiquidityInstruction burns lpAmount of LP tokens for at least
// minA/minB of the underlying tokens.
func NewRemoveLiquidityInstruction(sh shard.Shard, user, userLP, userTokenA, userTokenB solana.PublicKey, lpAmount, minA, minB uint64) *LiquidityInstruction {
	inst := &LiquidityInstruction{
		Discriminator: InstructionRemoveLiquidity,
		Amount:        lpAmount,
		BoundA:        minA,
		BoundB:        minB,
	}
	inst.BaseVariant = bin.BaseVariant{Impl: inst}
	inst.AccountMetaSlice = solana.AccountMetaSlice{
		solana.NewAccountMeta(sh.PoolAddress, false, false),
		solana.NewAccountMeta(sh.Authority, false, false),
		solana.NewAccountMeta(user, false, true),
		solana.NewAccountMeta(userLP, true, false),
		solana.NewAccountMeta(sh.LPMint, true, false),
		solana.NewAccountMeta(sh.ReserveAccountA, true, false),
		solana.NewAccountMeta(sh.ReserveAccountB, true, false),
		solana.NewAccountMeta(userTokenA, true, false),
		solana.NewAccountMeta(userTokenB, true, false),
		solana.NewAccountMeta(sh.MintA, false, false),
		solana.NewAccountMeta(sh.MintB, false, false),
		solana.NewAccountMeta(sh.FeeAccount, true, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return inst
}

func (inst *LiquidityInstruction) ProgramID() solana.PublicKey {
	return SwapProgramID
}

func (inst *LiquidityInstruction) Accounts() []*solana.AccountMeta {
	return inst.Impl.(solana.AccountsGettable).GetAccounts()
}

func (inst *LiquidityInstruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(inst.Discriminator)

	enc := bin.NewBorshEncoder(buf)
	for _, v := range []uint64{inst.Amount, inst.BoundA, inst.BoundB} {
		if err := enc.WriteUint64(v, binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("encode liquidity payload: %w", err)
		}
	}
	return buf.Bytes(), nil
}
