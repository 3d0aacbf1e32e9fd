// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

// signer encapsulates the role 'Signer' as specified in BIP174; it
// controls the insertion of signatures; the Sign() function will attempt
// to insert signatures using Updater.addPartialSignature, after first
// checking the sighash policy of the input.

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/psbtsuite/psbtutil/script"
)

// SignOutcome is a enum-like value that expresses the outcome of a call
// to the Sign method.
type SignOutcome int

const (
	// SignSuccesful indicates that the partial signature was
	// successfully attached.
	SignSuccesful = 0

	// SignFinalized indicates that this input is already finalized, so
	// the provided signature was *not* attached
	SignFinalized = 1

	// SignInvalid indicates that the provided signature data was not
	// valid. In this case an error will also be returned.
	SignInvalid = -1
)

// Sign allows the caller to sign a PSBT at a particular input; they must
// provide a signature and a pubkey, both as byte slices. The sighash
// byte carried by the signature must agree with any sighash type the
// input already declares.
func (u *Updater) Sign(inIndex int, sig []byte, pubKey []byte) (SignOutcome,
	error) {

	if isFinalized(u.Upsbt, inIndex) {
		return SignFinalized, nil
	}

	pInput := &u.Upsbt.Inputs[inIndex]
	if len(sig) < minSigLength {
		return SignInvalid, ErrInvalidSignatureForInput
	}
	if pInput.SighashType != 0 {
		declared := txscript.SigHashType(sig[len(sig)-1])
		if declared != pInput.SighashType {
			return SignInvalid, ErrInvalidSigHashFlags
		}
	}

	if err := u.addPartialSignature(inIndex, sig, pubKey); err != nil {
		return SignInvalid, err
	}

	return SignSuccesful, nil
}

// addPartialSignature stores the signature under the pubkey, replacing
// an existing signature for the same key.
func (u *Updater) addPartialSignature(inIndex int, sig []byte,
	pubKey []byte) error {

	partialSig := &PartialSig{PubKey: pubKey, Signature: sig}
	if !partialSig.checkValid() {
		return ErrInvalidPsbtFormat
	}

	pInput := &u.Upsbt.Inputs[inIndex]
	if have := pInput.partialSigFor(pubKey); have != nil {
		have.Signature = sig
		return nil
	}

	pInput.PartialSigs = append(pInput.PartialSigs, partialSig)
	return nil
}

// signatureHash computes the digest a signer commits to for one input,
// dispatching on the shape of the locking script. Witness program
// spends, including p2sh-wrapped ones, use the segwit digest with the
// utxo amount committed; everything else uses the legacy digest.
func signatureHash(p *Packet, idx int,
	hashType txscript.SigHashType) ([]byte, error) {

	spk, value, err := p.scriptPubKey(idx)
	if err != nil {
		return nil, err
	}

	tx := p.UnsignedTx
	pInput := &p.Inputs[idx]

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

	switch {
	case spk.IsP2WPKH():
		rawSpk, err := spk.RawSerialize()
		if err != nil {
			return nil, err
		}
		return witnessHash(rawSpk)

	case spk.IsP2WSH():
		if pInput.WitnessScript == nil {
			return nil, ErrUnsupportedScriptType
		}
		rawWitnessScript, err := pInput.WitnessScript.RawSerialize()
		if err != nil {
			return nil, err
		}
		return witnessHash(rawWitnessScript)

	case spk.IsP2SH():
		if pInput.RedeemScript == nil {
			return nil, ErrUnsupportedScriptType
		}
		redeem := &pInput.RedeemScript.Script
		rawRedeem, err := redeem.RawSerialize()
		if err != nil {
			return nil, err
		}
		switch {
		case redeem.IsP2WPKH():
			return witnessHash(rawRedeem)

		case redeem.IsP2WSH():
			if pInput.WitnessScript == nil {
				return nil, ErrUnsupportedScriptType
			}
			rawWitnessScript, err := pInput.WitnessScript.RawSerialize()
			if err != nil {
				return nil, err
			}
			return witnessHash(rawWitnessScript)

		default:
			return txscript.CalcSignatureHash(
				rawRedeem, hashType, tx, idx,
			)
		}

	default:
		rawSpk, err := spk.RawSerialize()
		if err != nil {
			return nil, err
		}
		return txscript.CalcSignatureHash(rawSpk, hashType, tx, idx)
	}
}

// inputSighashType returns the sighash type the input declares, or
// SigHashAll when it declares none.
func inputSighashType(pInput *PInput) txscript.SigHashType {
	if pInput.SighashType != 0 {
		return pInput.SighashType
	}
	return txscript.SigHashAll
}

// SignInput signs input idx of the packet with privKey and attaches the
// resulting partial signature. The input must have a utxo record and
// any redeem or witness script its locking script commits to.
func SignInput(p *Packet, idx int, privKey *btcec.PrivateKey) error {
	u, err := NewUpdater(p)
	if err != nil {
		return err
	}

	pInput := &p.Inputs[idx]
	hashType := inputSighashType(pInput)
	hash, err := signatureHash(p, idx, hashType)
	if err != nil {
		return inputErr(idx, err)
	}

	sig := ecdsa.Sign(privKey, hash)
	sigBytes := append(sig.Serialize(), byte(hashType))

	pubKey := privKey.PubKey().SerializeCompressed()
	outcome, err := u.Sign(idx, sigBytes, pubKey)
	if err != nil {
		return inputErr(idx, err)
	}
	if outcome == SignFinalized {
		return inputErr(idx, ErrInputAlreadyFinalized)
	}
	return nil
}

// SignWithPrivKeys walks every input and signs each one that references
// one of the keys, through a derivation record, a key hash locking
// script or a pubkey push inside the input's redeem or witness script.
// It returns the number of signatures attached.
func SignWithPrivKeys(p *Packet, privKeys []*btcec.PrivateKey) (int, error) {
	signed := 0
	for idx := range p.Inputs {
		if isFinalized(p, idx) {
			continue
		}
		for _, privKey := range privKeys {
			if !inputNeedsKey(p, idx, privKey.PubKey()) {
				continue
			}
			if err := SignInput(p, idx, privKey); err != nil {
				return signed, err
			}
			signed++
		}
	}
	return signed, nil
}

// SignWithHDKey derives the keys the packet's derivation records claim
// from the given master private key and signs every input that names the
// master's fingerprint. The number of attached signatures is returned.
func SignWithHDKey(p *Packet, masterKey *hdkeychain.ExtendedKey) (int, error) {
	if !masterKey.IsPrivate() {
		return 0, hdkeychain.ErrNotPrivExtKey
	}

	fingerprint, err := MasterFingerprint(masterKey)
	if err != nil {
		return 0, err
	}

	signed := 0
	for idx := range p.Inputs {
		if isFinalized(p, idx) {
			continue
		}
		for _, d := range p.Inputs[idx].Bip32Derivation {
			if d.MasterKeyFingerprint != fingerprint {
				continue
			}

			key := masterKey
			for _, child := range d.Bip32Path {
				key, err = key.Derive(child)
				if err != nil {
					return signed, inputErr(idx, err)
				}
			}
			privKey, err := key.ECPrivKey()
			if err != nil {
				return signed, inputErr(idx, err)
			}

			// The derivation record must actually name the
			// derived key.
			pubKey := privKey.PubKey().SerializeCompressed()
			if !bytes.Equal(pubKey, d.PubKey) {
				return signed, inputErr(idx, ErrUntrustedXpub)
			}

			if err := SignInput(p, idx, privKey); err != nil {
				return signed, err
			}
			signed++
		}
	}
	return signed, nil
}

// inputNeedsKey reports whether input idx references the pubkey through
// a derivation record, its locking script or an attached redeem or
// witness script.
func inputNeedsKey(p *Packet, idx int, pubKey *btcec.PublicKey) bool {
	pInput := &p.Inputs[idx]
	sec := pubKey.SerializeCompressed()

	for _, d := range pInput.Bip32Derivation {
		if bytes.Equal(d.PubKey, sec) {
			return true
		}
	}

	h160 := btcutil.Hash160(sec)
	spk, _, err := p.scriptPubKey(idx)
	if err == nil {
		if (spk.IsP2PKH() && bytes.Equal(spk.Commands[2].Data, h160)) ||
			(spk.IsP2WPKH() && bytes.Equal(spk.Commands[1].Data, h160)) {
			return true
		}
	}

	if pInput.RedeemScript != nil {
		if pInput.RedeemScript.IsP2WPKH() &&
			bytes.Equal(pInput.RedeemScript.Commands[1].Data, h160) {
			return true
		}
		if scriptReferencesKey(&pInput.RedeemScript.Script, sec) {
			return true
		}
	}
	if pInput.WitnessScript != nil &&
		scriptReferencesKey(&pInput.WitnessScript.Script, sec) {
		return true
	}

	return false
}

// scriptReferencesKey reports whether the script pushes the given
// compressed pubkey.
func scriptReferencesKey(s *script.Script, sec []byte) bool {
	for _, cmd := range s.Commands {
		if cmd.IsData && bytes.Equal(cmd.Data, sec) {
			return true
		}
	}
	return false
}
