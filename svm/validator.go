// Package svm implements structural validation of exact-scheme SVM
// payment transactions. Every check here is pure, synchronous and
// deterministic: the same payload bytes always produce the same
// outcome, and no I/O happens before the facilitator is involved.
package svm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/x402labs/paygate/registry"
	"github.com/x402labs/paygate/types"
)

// Compute budget program instruction discriminators.
const (
	computeUnitLimitTag = 2 // SetComputeUnitLimit(u32)
	computeUnitPriceTag = 3 // SetComputeUnitPrice(u64 micro-lamports)
)

// Token program TransferChecked opcode: [12][amount u64 LE][decimals u8].
const transferCheckedTag = 12

// EncodingBase64 and EncodingBase58 are the accepted payload encodings.
const (
	EncodingBase64 = "base64"
	EncodingBase58 = "base58"
)

// DecodePayload decodes the claim payload into a transaction. Decode
// failure is a non-retryable malformed_transaction violation.
func DecodePayload(payload, encoding string) (*solana.Transaction, *types.PaymentError) {
	var (
		raw []byte
		err error
	)
	switch encoding {
	case "", EncodingBase64:
		raw, err = base64.StdEncoding.DecodeString(payload)
	case EncodingBase58:
		raw, err = base58.Decode(payload)
	default:
		return nil, types.NewStructuralError(types.CodeMalformedTransaction,
			fmt.Sprintf("unsupported payload encoding %q", encoding))
	}
	if err != nil {
		return nil, types.NewStructuralError(types.CodeMalformedTransaction,
			fmt.Sprintf("payload is not valid %s", orBase64(encoding)))
	}
	if len(raw) == 0 {
		return nil, types.NewStructuralError(types.CodeMalformedTransaction, "payload is empty")
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, types.NewStructuralError(types.CodeMalformedTransaction,
			"failed to decode transaction")
	}
	return tx, nil
}

// ValidateClaim decodes the claim payload and runs the full structural
// check against the network policy. On success it returns the payer
// hint (the transfer authority).
func ValidateClaim(claim *types.PaymentClaim, policy *registry.NetworkPolicy) (string, *types.PaymentError) {
	tx, perr := DecodePayload(claim.Payload, claim.Encoding)
	if perr != nil {
		return "", perr
	}
	return ValidateTransaction(tx, &claim.Accepted, policy)
}

// ValidateTransaction checks a decoded transaction against the
// mandatory instruction template, the gas-price bounds, the fee-payer
// isolation rule, the derived destination, the asset and the exact
// amount. All violations are non-retryable caller errors.
func ValidateTransaction(tx *solana.Transaction, req *types.PaymentRequirement, policy *registry.NetworkPolicy) (string, *types.PaymentError) {
	msg := &tx.Message

	if len(msg.AccountKeys) == 0 || msg.Header.NumRequiredSignatures == 0 {
		return "", types.NewStructuralError(types.CodeMalformedTransaction,
			"transaction has no fee payer")
	}
	feePayer := msg.AccountKeys[0]

	// Step 2: instruction template. Exactly compute-limit,
	// compute-price, optional ATA create, then the transfer. Anything
	// extra, missing, reordered or substituted is rejected so that a
	// "payment" cannot smuggle side-effecting instructions.
	n := len(msg.Instructions)
	if n != 3 && n != 4 {
		return "", types.NewStructuralError(types.CodeInstructionLayout,
			fmt.Sprintf("expected 3 or 4 instructions, got %d", n))
	}

	limitData, perr := instructionData(msg, 0, solana.ComputeBudget, types.CodeInstructionLayout)
	if perr != nil {
		return "", perr
	}
	if len(limitData) != 5 || limitData[0] != computeUnitLimitTag {
		return "", types.NewStructuralError(types.CodeInstructionLayout,
			"first instruction is not set-compute-unit-limit")
	}

	priceData, perr := instructionData(msg, 1, solana.ComputeBudget, types.CodeInstructionLayout)
	if perr != nil {
		return "", perr
	}
	if len(priceData) != 9 || priceData[0] != computeUnitPriceTag {
		return "", types.NewStructuralError(types.CodeInstructionLayout,
			"second instruction is not set-compute-unit-price")
	}

	transferIdx := 2
	hasCreate := n == 4
	if hasCreate {
		// Optional associated-account creation precedes the transfer.
		// Data must be Create (empty or 0) or CreateIdempotent (1); the
		// created account is checked against the derived destination
		// below, once it is known.
		createData, perr := instructionData(msg, 2, solana.SPLAssociatedTokenAccountProgramID, types.CodeInstructionLayout)
		if perr != nil {
			return "", perr
		}
		if len(createData) > 1 || (len(createData) == 1 && createData[0] > 1) {
			return "", types.NewStructuralError(types.CodeInstructionLayout,
				"third instruction is not create-associated-account")
		}
		transferIdx = 3
	}

	transferData, perr := instructionData(msg, transferIdx, solana.TokenProgramID, types.CodeInstructionLayout)
	if perr != nil {
		return "", perr
	}
	if len(transferData) != 10 || transferData[0] != transferCheckedTag {
		return "", types.NewStructuralError(types.CodeInstructionLayout,
			"final instruction is not transfer-checked")
	}

	// Step 3: gas-price bounds, inclusive on both edges. Too low and
	// the facilitator's broadcast can stall forever; too high and a
	// caller can grief the facilitator's fee budget.
	price := binary.LittleEndian.Uint64(priceData[1:9])
	if price < policy.MinGasPrice || price > policy.MaxGasPrice {
		return "", types.NewStructuralError(types.CodeGasPriceOutOfBounds,
			fmt.Sprintf("compute price %d outside [%d, %d]", price, policy.MinGasPrice, policy.MaxGasPrice))
	}

	// Resolve the transfer's account list:
	// [source, mint, destination, authority, multisig...].
	transfer := msg.Instructions[transferIdx]
	if len(transfer.Accounts) < 4 {
		return "", types.NewStructuralError(types.CodeInstructionLayout,
			"transfer instruction has too few accounts")
	}
	accounts := make([]solana.PublicKey, len(transfer.Accounts))
	for i, idx := range transfer.Accounts {
		key, ok := accountAt(msg, idx)
		if !ok {
			return "", types.NewStructuralError(types.CodeMalformedTransaction,
				"transfer instruction references an unknown account")
		}
		accounts[i] = key
	}
	source, mint, destination, authority := accounts[0], accounts[1], accounts[2], accounts[3]

	// Step 4: fee-payer isolation. The facilitator fronts network fees
	// on the caller's behalf; its key must never be the funds source,
	// the authority, or appear anywhere in the transfer accounts.
	if feePayer.Equals(source) || feePayer.Equals(authority) {
		return "", types.NewStructuralError(types.CodeFeePayerConflict,
			"fee payer must not transfer funds")
	}
	for _, key := range accounts {
		if feePayer.Equals(key) {
			return "", types.NewStructuralError(types.CodeFeePayerConflict,
				"fee payer must not appear in transfer accounts")
		}
	}

	// Step 5: destination derivation. Derive the expected associated
	// token account from (policy recipient, required mint) and demand
	// an exact match; anything else is a redirected payment.
	payTo, err := solana.PublicKeyFromBase58(policy.PayTo)
	if err != nil {
		return "", types.NewStructuralError(types.CodeDestinationMismatch,
			"recipient address is not a valid public key")
	}
	reqMint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return "", types.NewStructuralError(types.CodeAssetMismatch,
			"required asset is not a valid public key")
	}
	expected, _, err := solana.FindAssociatedTokenAddress(payTo, reqMint)
	if err != nil {
		return "", types.NewStructuralError(types.CodeDestinationMismatch,
			"failed to derive destination account")
	}
	if !destination.Equals(expected) {
		return "", types.NewStructuralError(types.CodeDestinationMismatch,
			"transfer destination is not the recipient's derived account")
	}
	if hasCreate {
		// The fee payer funds the created account's rent, so it must be
		// the payment destination and nothing else.
		create := msg.Instructions[2]
		if len(create.Accounts) < 4 {
			return "", types.NewStructuralError(types.CodeInstructionLayout,
				"create instruction has too few accounts")
		}
		created, ok := accountAt(msg, create.Accounts[1])
		if !ok {
			return "", types.NewStructuralError(types.CodeMalformedTransaction,
				"create instruction references an unknown account")
		}
		if !created.Equals(expected) {
			return "", types.NewStructuralError(types.CodeDestinationMismatch,
				"create instruction does not create the payment destination")
		}
	}

	// Step 6: asset exact match, plus the mint must be one the policy
	// accepts at all.
	if !mint.Equals(reqMint) || !policy.AcceptsAsset(req.Asset) {
		return "", types.NewStructuralError(types.CodeAssetMismatch,
			"transfer asset does not match requirement")
	}

	// Step 7: exact amount. No tolerance, no rounding.
	required, err := strconv.ParseUint(req.Amount, 10, 64)
	if err != nil {
		return "", types.NewStructuralError(types.CodeAmountMismatch,
			"required amount is not a u64 decimal string")
	}
	amount := binary.LittleEndian.Uint64(transferData[1:9])
	if amount != required {
		return "", types.NewStructuralError(types.CodeAmountMismatch,
			fmt.Sprintf("transfer amount %d does not equal required %d", amount, required))
	}

	return authority.String(), nil
}

// instructionData verifies the instruction at idx targets the given
// program and returns its data bytes.
func instructionData(msg *solana.Message, idx int, program solana.PublicKey, code string) ([]byte, *types.PaymentError) {
	inst := msg.Instructions[idx]
	prog, ok := accountAt(msg, inst.ProgramIDIndex)
	if !ok {
		return nil, types.NewStructuralError(types.CodeMalformedTransaction,
			"instruction references an unknown program account")
	}
	if !prog.Equals(program) {
		return nil, types.NewStructuralError(code,
			fmt.Sprintf("instruction %d targets unexpected program", idx))
	}
	return inst.Data, nil
}

func accountAt(msg *solana.Message, idx uint16) (solana.PublicKey, bool) {
	if int(idx) >= len(msg.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return msg.AccountKeys[idx], true
}

func orBase64(encoding string) string {
	if encoding == "" {
		return EncodingBase64
	}
	return encoding
}
