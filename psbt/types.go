// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

// GlobalType is the set of types that are used at the global scope.
type GlobalType uint8

const (
	// UnsignedTxType is the global scope key that defines the unsigned
	// transaction.
	UnsignedTxType GlobalType = 0

	// XpubType is the global scope key that stores an extended public
	// key along with its master fingerprint and derivation path.
	XpubType GlobalType = 1
)

// InputType is the set of types that are defined for each input included
// within the PSBT.
type InputType uint32

const (
	// NonWitnessUtxoType has no key data, and the value is the fully
	// serialized transaction that created the output being spent.
	NonWitnessUtxoType InputType = 0

	// WitnessUtxoType has no key data, and the value is the serialized
	// output being spent.
	WitnessUtxoType InputType = 1

	// PartialSigType has a pubkey as key data, and the value is a
	// signature with its sighash byte appended.
	PartialSigType InputType = 2

	// SighashType has no key data, and the value is the 32-bit
	// little-endian sighash type a signer must use.
	SighashType InputType = 3

	// RedeemScriptInputType has no key data, and the value is the
	// redeem script needed to spend a p2sh output.
	RedeemScriptInputType InputType = 4

	// WitnessScriptInputType has no key data, and the value is the
	// witness script needed to spend a p2wsh output.
	WitnessScriptInputType InputType = 5

	// Bip32DerivationInputType has a pubkey as key data, and the value
	// is the master fingerprint and derivation path of that pubkey.
	Bip32DerivationInputType InputType = 6

	// FinalScriptSigType has no key data, and the value is the fully
	// constructed scriptSig for this input.
	FinalScriptSigType InputType = 7

	// FinalScriptWitnessType has no key data, and the value is the
	// fully constructed serialized witness stack for this input.
	FinalScriptWitnessType InputType = 8

	// PorCommitmentType is a proof-of-reserves commitment. The field is
	// carried through unparsed.
	PorCommitmentType InputType = 9
)

// OutputType is the set of types defined per output within the PSBT.
type OutputType uint32

const (
	// RedeemScriptOutputType has no key data, and the value is the
	// redeem script of the output.
	RedeemScriptOutputType OutputType = 0

	// WitnessScriptOutputType has no key data, and the value is the
	// witness script of the output.
	WitnessScriptOutputType OutputType = 1

	// Bip32DerivationOutputType has a pubkey as key data, and the value
	// is the master fingerprint and derivation path of that pubkey.
	Bip32DerivationOutputType OutputType = 2
)
