// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

// The Finalizer requires provision of a single PSBT input in which all
// necessary signatures are encoded, and performs the construction of the
// final scriptSig or witness for that input, destroying the signing
// records it consumed.

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
)

// isFinalized considers this input finalized if it contains at least one
// of the FinalScriptSig or FinalScriptWitness are filled (which only
// occurs in a successful call to Finalize*).
func isFinalized(p *Packet, inIndex int) bool {
	return p.Inputs[inIndex].isFinal()
}

// MaybeFinalize attempts to finalize the input at index inIndex in the
// PSBT p, returning true with no error if it succeeds, OR if the input
// has already been finalized.
func MaybeFinalize(p *Packet, inIndex int) (bool, error) {
	if isFinalized(p, inIndex) {
		return true, nil
	}

	if err := Finalize(p, inIndex); err != nil {
		return false, err
	}

	return true, nil
}

// MaybeFinalizeAll attempts to finalize all inputs of the psbt.Packet
// that are not already finalized, and returns an error if it fails to do
// so.
func MaybeFinalizeAll(p *Packet) error {
	for i := range p.UnsignedTx.TxIn {
		success, err := MaybeFinalize(p, i)
		if err != nil || !success {
			return err
		}
	}

	return nil
}

// Finalize assembles the final scriptSig and witness for input inIndex
// from the signing records collected so far, then destroys those
// records: the partial signatures, sighash type, redeem and witness
// scripts and key derivations are cleared, leaving only the utxo record
// and the final unlocking data. A second call fails with
// ErrInputAlreadyFinalized since the signatures it would consume no
// longer exist.
func Finalize(p *Packet, inIndex int) error {
	pInput := &p.Inputs[inIndex]
	if pInput.isFinal() {
		return ErrInputAlreadyFinalized
	}

	spk, _, err := p.scriptPubKey(inIndex)
	if err != nil {
		return inputErr(inIndex, err)
	}

	var (
		finalScriptSig *script.Script
		finalWitness   wire.TxWitness
	)

	switch {
	case spk.IsP2PKH():
		sig, pub, err := soleSignature(pInput)
		if err != nil {
			return inputErr(inIndex, err)
		}
		finalScriptSig = script.NewScript(
			script.DataCommand(sig), script.DataCommand(pub),
		)

	case spk.IsP2WPKH():
		sig, pub, err := soleSignature(pInput)
		if err != nil {
			return inputErr(inIndex, err)
		}
		finalWitness = wire.TxWitness{sig, pub}

	case spk.IsP2SH():
		if pInput.RedeemScript == nil {
			return inputErr(inIndex, ErrNotFinalizable)
		}
		redeem := &pInput.RedeemScript.Script
		rawRedeem, err := redeem.RawSerialize()
		if err != nil {
			return inputErr(inIndex, err)
		}

		switch {
		case redeem.IsP2WPKH():
			sig, pub, err := soleSignature(pInput)
			if err != nil {
				return inputErr(inIndex, err)
			}
			finalWitness = wire.TxWitness{sig, pub}

		case redeem.IsP2WSH():
			finalWitness, err = witnessItems(pInput)
			if err != nil {
				return inputErr(inIndex, err)
			}

		default:
			items, err := unlockingItems(pInput, redeem)
			if err != nil {
				return inputErr(inIndex, err)
			}
			finalScriptSig = scriptSigFromItems(items)
		}

		// The serialized redeem script is always the final push of
		// the scriptSig.
		if finalScriptSig == nil {
			finalScriptSig = script.NewScript()
		}
		finalScriptSig.Commands = append(
			finalScriptSig.Commands, script.DataCommand(rawRedeem),
		)

	case spk.IsP2WSH():
		finalWitness, err = witnessItems(pInput)
		if err != nil {
			return inputErr(inIndex, err)
		}

	default:
		return inputErr(inIndex, ErrUnsupportedScriptType)
	}

	pInput.FinalScriptSig = finalScriptSig
	pInput.FinalScriptWitness = finalWitness

	pInput.PartialSigs = nil
	pInput.SighashType = 0
	pInput.RedeemScript = nil
	pInput.WitnessScript = nil
	pInput.Bip32Derivation = nil

	log.Tracef("finalized input %d", inIndex)

	return nil
}

// soleSignature returns the signature and pubkey of a single-key input,
// which must hold exactly one partial signature.
func soleSignature(pInput *PInput) ([]byte, []byte, error) {
	if len(pInput.PartialSigs) != 1 {
		return nil, nil, ErrNotFinalizable
	}
	ps := pInput.PartialSigs[0]
	return ps.Signature, ps.PubKey, nil
}

// isMultisig reports whether the script has the
// OP_m <pubkeys...> OP_n OP_CHECKMULTISIG shape. The threshold and key
// count are small integer opcode commands; a data push of a colliding
// byte value never matches since commands are tagged.
func isMultisig(s *script.Script) bool {
	c := s.Commands
	if len(c) < 4 {
		return false
	}
	if _, err := script.OpCodeToNumber(c[0]); err != nil {
		return false
	}
	if _, err := script.OpCodeToNumber(c[len(c)-2]); err != nil {
		return false
	}
	return !c[len(c)-1].IsData &&
		c[len(c)-1].Op == script.OP_CHECKMULTISIG
}

// unlockingItems builds the stack items that satisfy the given inner
// script from the input's partial signatures. The item order follows the
// script's own pubkey order for multisig, and a multisig stack starts
// with the empty placeholder element OP_CHECKMULTISIG pops.
func unlockingItems(pInput *PInput, inner *script.Script) ([][]byte, error) {
	if isMultisig(inner) {
		m, err := script.OpCodeToNumber(inner.Commands[0])
		if err != nil {
			return nil, err
		}

		items := [][]byte{{}}
		for _, cmd := range inner.Commands[1 : len(inner.Commands)-2] {
			if !cmd.IsData {
				continue
			}
			ps := pInput.partialSigFor(cmd.Data)
			if ps == nil {
				continue
			}
			items = append(items, ps.Signature)
			if len(items) == m+1 {
				break
			}
		}
		if len(items) != m+1 {
			return nil, ErrNotFinalizable
		}
		return items, nil
	}

	sig, pub, err := soleSignature(pInput)
	if err != nil {
		return nil, err
	}
	switch {
	case inner.IsP2PKH():
		return [][]byte{sig, pub}, nil

	// Bare pubkey script: a single pubkey push followed by OP_CHECKSIG.
	case len(inner.Commands) == 2 && inner.Commands[0].IsData &&
		!inner.Commands[1].IsData &&
		inner.Commands[1].Op == script.OP_CHECKSIG:
		return [][]byte{sig}, nil
	}

	return nil, ErrUnsupportedScriptType
}

// witnessItems builds the final witness stack for a p2wsh spend: the
// unlocking items followed by the serialized witness script.
func witnessItems(pInput *PInput) (wire.TxWitness, error) {
	if pInput.WitnessScript == nil {
		return nil, ErrNotFinalizable
	}
	items, err := unlockingItems(pInput, &pInput.WitnessScript.Script)
	if err != nil {
		return nil, err
	}
	rawWitnessScript, err := pInput.WitnessScript.RawSerialize()
	if err != nil {
		return nil, err
	}
	return wire.TxWitness(append(items, rawWitnessScript)), nil
}

// scriptSigFromItems converts stack items to scriptSig commands. The
// empty placeholder item becomes OP_0.
func scriptSigFromItems(items [][]byte) *script.Script {
	s := script.NewScript()
	for _, item := range items {
		if len(item) == 0 {
			s.Commands = append(
				s.Commands, script.OpCommand(script.OP_0),
			)
			continue
		}
		s.Commands = append(s.Commands, script.DataCommand(item))
	}
	return s
}
