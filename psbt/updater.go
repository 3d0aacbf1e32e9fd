// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
)

// Updater encapsulates the role 'Updater' as specified in BIP174; it
// accepts Psbt structs and has methods to add fields to the inputs and
// outputs.
type Updater struct {
	Upsbt *Packet
}

// NewUpdater returns a new instance of Updater, if the passed Psbt
// struct is in a valid form, else an error.
func NewUpdater(p *Packet) (*Updater, error) {
	if err := p.SanityCheck(); err != nil {
		return nil, err
	}

	return &Updater{Upsbt: p}, nil
}

// AddInNonWitnessUtxo adds the utxo information for an input which is
// non-witness. This requires provision of a full transaction (which is
// the source of the corresponding prevOut), and the input index.
func (u *Updater) AddInNonWitnessUtxo(tx *wire.MsgTx, inIndex int) error {
	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPrevOutNonWitnessTransaction
	}

	txHash := tx.TxHash()
	if txHash != u.Upsbt.UnsignedTx.TxIn[inIndex].PreviousOutPoint.Hash {
		return ErrInvalidPrevOutNonWitnessTransaction
	}

	if u.Upsbt.Inputs[inIndex].WitnessUtxo != nil {
		return ErrInconsistentPacket
	}
	u.Upsbt.Inputs[inIndex].NonWitnessUtxo = tx

	return nil
}

// AddInWitnessUtxo adds the utxo information for an input which is
// witness. This requires provision of a full transaction output, and
// the input index. The two utxo record forms are mutually exclusive, so
// an input already carrying the non-witness form rejects the addition.
func (u *Updater) AddInWitnessUtxo(txout *wire.TxOut, inIndex int) error {
	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	if u.Upsbt.Inputs[inIndex].NonWitnessUtxo != nil {
		return ErrInconsistentPacket
	}
	u.Upsbt.Inputs[inIndex].WitnessUtxo = txout

	return nil
}

// AddInRedeemScript adds the redeem script for an input. The script
// must hash to the commitment in the input's locking script when a utxo
// record is already attached.
func (u *Updater) AddInRedeemScript(redeemScript *script.RedeemScript,
	inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	pInput := &u.Upsbt.Inputs[inIndex]
	pInput.RedeemScript = redeemScript
	if err := pInput.validate(u.Upsbt.UnsignedTx.TxIn[inIndex]); err != nil {
		pInput.RedeemScript = nil
		return err
	}

	return nil
}

// AddInWitnessScript adds the witness script for an input. The script
// must hash to the witness program the input spends when a utxo record
// is already attached.
func (u *Updater) AddInWitnessScript(witnessScript *script.WitnessScript,
	inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	pInput := &u.Upsbt.Inputs[inIndex]
	pInput.WitnessScript = witnessScript
	if err := pInput.validate(u.Upsbt.UnsignedTx.TxIn[inIndex]); err != nil {
		pInput.WitnessScript = nil
		return err
	}

	return nil
}

// AddInBip32Derivation takes a master key fingerprint as defined in
// BIP32, a BIP32 path as a slice of uint32 values, and a serialized
// pubkey as a byte slice, along with the integer index of the input, and
// inserts this data into that input.
//
// NOTE: This can be called multiple times for the same input.
func (u *Updater) AddInBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKeyData []byte, inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	bip32Derivation := Bip32Derivation{
		PubKey:               pubKeyData,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	}

	if !bip32Derivation.checkValid() {
		return ErrInvalidPsbtFormat
	}

	// Don't allow duplicate keys
	for _, x := range u.Upsbt.Inputs[inIndex].Bip32Derivation {
		if bytes.Equal(x.PubKey, bip32Derivation.PubKey) {
			return ErrDuplicateKey
		}
	}

	u.Upsbt.Inputs[inIndex].Bip32Derivation = append(
		u.Upsbt.Inputs[inIndex].Bip32Derivation, &bip32Derivation,
	)

	return nil
}

// AddInSighashType adds the sighash type information for an input. The
// sighash type is passed as a 32 bit unsigned integer, along with the
// index for the input.
func (u *Updater) AddInSighashType(sighashType txscript.SigHashType,
	inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Inputs[inIndex].SighashType = sighashType

	return nil
}

// AddOutRedeemScript adds the redeem script for an output.
func (u *Updater) AddOutRedeemScript(redeemScript *script.RedeemScript,
	outIndex int) error {

	if outIndex > len(u.Upsbt.UnsignedTx.TxOut)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Outputs[outIndex].RedeemScript = redeemScript

	return nil
}

// AddOutWitnessScript adds the witness script for an output.
func (u *Updater) AddOutWitnessScript(witnessScript *script.WitnessScript,
	outIndex int) error {

	if outIndex > len(u.Upsbt.UnsignedTx.TxOut)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Outputs[outIndex].WitnessScript = witnessScript

	return nil
}

// AddOutBip32Derivation takes a master key fingerprint, a BIP32 path and
// a serialized pubkey, along with the integer index of the output, and
// inserts this data into that output.
//
// NOTE: That this can be called multiple times for the same output.
func (u *Updater) AddOutBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKeyData []byte, outIndex int) error {

	if outIndex > len(u.Upsbt.UnsignedTx.TxOut)-1 {
		return ErrInvalidPsbtFormat
	}

	bip32Derivation := Bip32Derivation{
		PubKey:               pubKeyData,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	}

	if !bip32Derivation.checkValid() {
		return ErrInvalidPsbtFormat
	}

	// Don't allow duplicate keys
	for _, x := range u.Upsbt.Outputs[outIndex].Bip32Derivation {
		if bytes.Equal(x.PubKey, bip32Derivation.PubKey) {
			return ErrDuplicateKey
		}
	}

	u.Upsbt.Outputs[outIndex].Bip32Derivation = append(
		u.Upsbt.Outputs[outIndex].Bip32Derivation, &bip32Derivation,
	)

	return nil
}

// AddGlobalXpub registers an extended public key in the global section.
func (u *Updater) AddGlobalXpub(xpub *Xpub) error {
	keyData := writeExtendedKey(xpub.ExtendedKey)
	for _, have := range u.Upsbt.Xpubs {
		if bytes.Equal(writeExtendedKey(have.ExtendedKey), keyData) {
			return ErrDuplicateKey
		}
	}

	u.Upsbt.Xpubs = append(u.Upsbt.Xpubs, xpub)

	return nil
}

// UpdateLookups carries the repositories an Update call draws from. Map
// keys are raw bytes converted to strings: previous transactions are
// keyed by txid, derivations by both the compressed pubkey and its
// hash160, redeem scripts by their hash160 and witness scripts by their
// sha256.
type UpdateLookups struct {
	Txs       map[chainhash.Hash]*wire.MsgTx
	Pubkeys   map[string]*Bip32Derivation
	Redeems   map[string]*script.RedeemScript
	Witnesses map[string]*script.WitnessScript
}

// Update walks every input and output and attaches whatever the lookups
// can supply: utxo records, redeem and witness scripts, and key
// derivations reachable through the scripts involved. Missing lookup
// entries are skipped rather than reported; updating is best effort and
// may be repeated as more repositories become available.
func (u *Updater) Update(lookups UpdateLookups) error {
	if err := VerifyInputOutputLen(u.Upsbt, false, false); err != nil {
		return err
	}

	for i, txIn := range u.Upsbt.UnsignedTx.TxIn {
		pInput := &u.Upsbt.Inputs[i]

		hasUtxo := pInput.NonWitnessUtxo != nil ||
			pInput.WitnessUtxo != nil
		prev, ok := lookups.Txs[txIn.PreviousOutPoint.Hash]
		if ok && !hasUtxo {
			opIdx := txIn.PreviousOutPoint.Index
			if opIdx >= uint32(len(prev.TxOut)) {
				return inputErr(i, ErrInconsistentPacket)
			}
			utxo := prev.TxOut[opIdx]
			spk, err := script.ParseRaw(utxo.PkScript)
			if err != nil {
				return inputErr(i, err)
			}
			if ok, _, _ := spk.IsWitness(); ok {
				pInput.WitnessUtxo = utxo
			} else {
				pInput.NonWitnessUtxo = prev
			}
		}

		spk, err := pInput.lockingScript(txIn)
		if err != nil {
			return inputErr(i, err)
		}
		if spk == nil {
			continue
		}

		u.updateRecords(
			spk, lookups,
			&pInput.RedeemScript, &pInput.WitnessScript,
			&pInput.Bip32Derivation,
		)
	}

	for i, txOut := range u.Upsbt.UnsignedTx.TxOut {
		pOutput := &u.Upsbt.Outputs[i]
		spk, err := script.ParseRaw(txOut.PkScript)
		if err != nil {
			return outputErr(i, err)
		}

		u.updateRecords(
			spk, lookups,
			&pOutput.RedeemScript, &pOutput.WitnessScript,
			&pOutput.Bip32Derivation,
		)
	}

	return nil
}

// updateRecords resolves the scripts and derivations reachable from one
// locking script and stores what the lookups can supply.
func (u *Updater) updateRecords(spk *script.Script, lookups UpdateLookups,
	redeemScript **script.RedeemScript,
	witnessScript **script.WitnessScript,
	derivations *[]*Bip32Derivation) {

	program := spk
	switch {
	case spk.IsP2PKH():
		addDerivation(derivations, lookups.Pubkeys[string(spk.Commands[2].Data)])
		return

	case spk.IsP2WPKH():
		addDerivation(derivations, lookups.Pubkeys[string(spk.Commands[1].Data)])
		return

	case spk.IsP2SH():
		redeem, ok := lookups.Redeems[string(spk.Commands[1].Data)]
		if !ok {
			return
		}
		*redeemScript = redeem
		program = &redeem.Script
		if program.IsP2WPKH() {
			h160 := program.Commands[1].Data
			addDerivation(derivations, lookups.Pubkeys[string(h160)])
			return
		}
		if !program.IsP2WSH() {
			addScriptDerivations(derivations, program, lookups)
			return
		}
	}

	if program.IsP2WSH() {
		witness, ok := lookups.Witnesses[string(program.Commands[1].Data)]
		if !ok {
			return
		}
		*witnessScript = witness
		addScriptDerivations(derivations, &witness.Script, lookups)
	}
}

// addScriptDerivations scans a script for compressed pubkey pushes and
// attaches any derivations known for them.
func addScriptDerivations(derivations *[]*Bip32Derivation, s *script.Script,
	lookups UpdateLookups) {

	for _, cmd := range s.Commands {
		if !cmd.IsData || len(cmd.Data) != 33 {
			continue
		}
		addDerivation(derivations, lookups.Pubkeys[string(cmd.Data)])
	}
}

// addDerivation appends a derivation unless it is nil or its pubkey is
// already present.
func addDerivation(derivations *[]*Bip32Derivation, d *Bip32Derivation) {
	if d == nil {
		return
	}
	for _, have := range *derivations {
		if bytes.Equal(have.PubKey, d.PubKey) {
			return
		}
	}
	*derivations = append(*derivations, d)
}

// PubkeyLookup builds the derivation repository Update draws from,
// keying each record by both the compressed pubkey and its hash160 so
// key-hash outputs and script-embedded keys resolve alike.
func PubkeyLookup(derivations ...*Bip32Derivation) map[string]*Bip32Derivation {
	lookup := make(map[string]*Bip32Derivation, len(derivations)*2)
	for _, d := range derivations {
		lookup[string(d.PubKey)] = d
		lookup[string(btcutil.Hash160(d.PubKey))] = d
	}
	return lookup
}

// RedeemScriptLookup keys redeem scripts by the hash160 their outer
// pay-to-script-hash output commits to.
func RedeemScriptLookup(
	scripts ...*script.RedeemScript) (map[string]*script.RedeemScript,
	error) {

	lookup := make(map[string]*script.RedeemScript, len(scripts))
	for _, rs := range scripts {
		h160, err := rs.Hash160()
		if err != nil {
			return nil, err
		}
		lookup[string(h160)] = rs
	}
	return lookup, nil
}

// WitnessScriptLookup keys witness scripts by the sha256 their witness
// program commits to.
func WitnessScriptLookup(
	scripts ...*script.WitnessScript) (map[string]*script.WitnessScript,
	error) {

	lookup := make(map[string]*script.WitnessScript, len(scripts))
	for _, ws := range scripts {
		sha, err := ws.SHA256()
		if err != nil {
			return nil, err
		}
		lookup[string(sha)] = ws
	}
	return lookup, nil
}
