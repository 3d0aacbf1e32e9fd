// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
)

// MinTxVersion is the lowest transaction version that we'll permit.
const MinTxVersion = 1

// New on provision of an input and output 'skeleton' for the transaction, a
// new partially populated PBST packet. The populated packet will include the
// unsigned transaction, and the set of known inputs and outputs contained
// within the unsigned transaction.  The values of nLockTime, nSequence (per
// input) and transaction version (must be 1 of 2) must be specified here. Note
// that the default nSequence value is wire.MaxTxInSequenceNum.  Referencing
// the PSBT BIP, this function serves the roles of teh Creator.
func New(inputs []*wire.OutPoint,
	outputs []*wire.TxOut, version int32, nLockTime uint32,
	nSequences []uint32) (*Packet, error) {

	// Create the new struct; the input and output lists will be empty, the
	// unsignedTx object must be constructed and serialized, and that
	// serialization should be entered as the only entry for the
	// globalKVPairs list.
	//
	// Ensure that the version of the transaction is greater then our
	// minimum allowed transaction version. There must be one sequence
	// number per input.
	if version < MinTxVersion || len(nSequences) != len(inputs) {
		return nil, ErrInvalidPsbtFormat
	}

	unsignedTx := wire.NewMsgTx(version)
	unsignedTx.LockTime = nLockTime
	for i, in := range inputs {
		unsignedTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: *in,
			Sequence:         nSequences[i],
		})
	}
	for _, out := range outputs {
		unsignedTx.AddTxOut(out)
	}

	// This new Psbt is "raw" and contains no key-value fields, so sanity
	// checking with SanityCheck() is not required.
	return &Packet{
		UnsignedTx: unsignedTx,
		Inputs:     make([]PInput, len(inputs)),
		Outputs:    make([]POutput, len(outputs)),
		Unknowns:   nil,
	}, nil
}

// Create builds a packet from a transaction that may already carry
// in-place unlocking data. Any scriptSig or witness present on an input
// is detached into that input's final script records, leaving the
// embedded transaction unsigned. The transaction is copied; the caller's
// instance is not touched.
func Create(tx *wire.MsgTx) (*Packet, error) {
	unsignedTx := tx.Copy()

	inputs := make([]PInput, len(unsignedTx.TxIn))
	for i, txIn := range unsignedTx.TxIn {
		if len(txIn.SignatureScript) != 0 {
			finalScriptSig, err := script.ParseRaw(
				txIn.SignatureScript,
			)
			if err != nil {
				return nil, inputErr(i, err)
			}
			inputs[i].FinalScriptSig = finalScriptSig
			txIn.SignatureScript = nil
		}
		if len(txIn.Witness) != 0 {
			inputs[i].FinalScriptWitness = txIn.Witness
			txIn.Witness = nil
		}
	}

	return &Packet{
		UnsignedTx: unsignedTx,
		Inputs:     inputs,
		Outputs:    make([]POutput, len(unsignedTx.TxOut)),
	}, nil
}
