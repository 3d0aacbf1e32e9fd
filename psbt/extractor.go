// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

// The Extractor requires provision of a single PSBT
// in which all necessary signatures are encoded, and
// uses it to construct a fully valid network serialized
// transaction.

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
)

// Extract takes a finalized psbt.Packet and outputs a finalized transaction
// instance. Note that if the PSBT is in-complete, then an error
// ErrIncompletePSBT will be returned. The extracted transaction is not
// re-verified; use FinalTx when the final scripts should be evaluated
// before release.
func Extract(p *Packet) (*wire.MsgTx, error) {
	// If the packet isn't complete, then we'll return an error as it
	// doesn't have all the required witness data.
	if !p.IsComplete() {
		return nil, ErrIncompletePSBT
	}

	// First, we'll make a copy of the underlying unsigned transaction (the
	// initial template) so we don't mutate it during our activates below.
	finalTx := p.UnsignedTx.Copy()

	// For each input, we'll now populate any relevant witness and
	// sigScript data.
	for i, tin := range finalTx.TxIn {
		// We'll grab the corresponding internal packet input which
		// matches this materialized transaction input and emplace that
		// final sigScript (if present).
		pInput := p.Inputs[i]
		if pInput.FinalScriptSig != nil {
			rawScriptSig, err := pInput.FinalScriptSig.RawSerialize()
			if err != nil {
				return nil, inputErr(i, err)
			}
			tin.SignatureScript = rawScriptSig
		}

		if pInput.FinalScriptWitness != nil {
			tin.Witness = pInput.FinalScriptWitness
		}
	}

	return finalTx, nil
}

// FinalTx extracts the finished transaction like Extract, but first runs
// every input's final unlocking data against the locking script of the
// utxo it spends, using the script machine. An input whose scripts do
// not evaluate to true fails with ErrScriptExecution.
func FinalTx(p *Packet) (*wire.MsgTx, error) {
	finalTx, err := Extract(p)
	if err != nil {
		return nil, err
	}

	for i := range p.Inputs {
		ok, err := verifyInput(p, i)
		if err != nil {
			return nil, inputErr(i, err)
		}
		if !ok {
			log.Debugf("input %d failed script evaluation", i)
			return nil, inputErr(i, ErrScriptExecution)
		}
	}

	return finalTx, nil
}

// verifyInput evaluates the combined unlocking and locking script of
// input idx against the signature hash its signatures committed to.
func verifyInput(p *Packet, idx int) (bool, error) {
	pInput := &p.Inputs[idx]
	spk, value, err := p.scriptPubKey(idx)
	if err != nil {
		return false, err
	}

	combined := spk
	if pInput.FinalScriptSig != nil {
		combined = pInput.FinalScriptSig.Add(spk)
	}

	z, err := verifySigHash(p, idx, spk, value)
	if err != nil {
		return false, err
	}

	return combined.Evaluate(z, pInput.FinalScriptWitness), nil
}

// verifySigHash recomputes the digest the input's signatures committed
// to, recovering the script code from the final unlocking data itself.
func verifySigHash(p *Packet, idx int, spk *script.Script,
	value int64) ([]byte, error) {

	pInput := &p.Inputs[idx]
	tx := p.UnsignedTx
	hashType := finalSighashType(pInput)

	witnessHash := func(scriptCode []byte) ([]byte, error) {
		rawSpk, err := spk.RawSerialize()
		if err != nil {
			return nil, err
		}
		fetcher := txscript.NewCannedPrevOutputFetcher(rawSpk, value)
		sigHashes := txscript.NewTxSigHashes(tx, fetcher)
		return txscript.CalcWitnessSigHash(
			scriptCode, sigHashes, hashType, tx, idx, value,
		)
	}

	program := spk

	// For p2sh spends the script code lives in the redeem script, which
	// finalization stored as the last push of the scriptSig.
	if spk.IsP2SH() {
		redeem, err := finalRedeemScript(pInput)
		if err != nil {
			return nil, err
		}
		if !redeem.IsP2WPKH() && !redeem.IsP2WSH() {
			rawRedeem, err := redeem.RawSerialize()
			if err != nil {
				return nil, err
			}
			return txscript.CalcSignatureHash(
				rawRedeem, hashType, tx, idx,
			)
		}
		program = redeem
	}

	switch {
	case program.IsP2WPKH():
		rawProgram, err := program.RawSerialize()
		if err != nil {
			return nil, err
		}
		return witnessHash(rawProgram)

	case program.IsP2WSH():
		// The witness script is the last witness item.
		if len(pInput.FinalScriptWitness) == 0 {
			return nil, ErrIncompletePSBT
		}
		witnessScript := pInput.FinalScriptWitness[len(pInput.FinalScriptWitness)-1]
		return witnessHash(witnessScript)

	default:
		rawSpk, err := spk.RawSerialize()
		if err != nil {
			return nil, err
		}
		return txscript.CalcSignatureHash(rawSpk, hashType, tx, idx)
	}
}

// finalRedeemScript recovers the redeem script from a finalized p2sh
// scriptSig, where it is the final data push.
func finalRedeemScript(pInput *PInput) (*script.Script, error) {
	if pInput.FinalScriptSig == nil ||
		len(pInput.FinalScriptSig.Commands) == 0 {

		return nil, ErrIncompletePSBT
	}
	last := pInput.FinalScriptSig.Commands[len(pInput.FinalScriptSig.Commands)-1]
	if !last.IsData {
		return nil, ErrUnsupportedScriptType
	}
	return script.ParseRaw(last.Data)
}

// finalSighashType recovers the sighash byte from the first signature
// element found in the final unlocking data, defaulting to SigHashAll.
func finalSighashType(pInput *PInput) txscript.SigHashType {
	looksLikeSig := func(element []byte) bool {
		return len(element) >= minSigLength && element[0] == 0x30
	}

	if pInput.FinalScriptSig != nil {
		for _, cmd := range pInput.FinalScriptSig.Commands {
			if cmd.IsData && looksLikeSig(cmd.Data) {
				return txscript.SigHashType(
					cmd.Data[len(cmd.Data)-1],
				)
			}
		}
	}
	for _, item := range pInput.FinalScriptWitness {
		if looksLikeSig(item) {
			return txscript.SigHashType(item[len(item)-1])
		}
	}
	return txscript.SigHashAll
}
