// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
)

// PartialSig is a signature provided by a single signer for a single
// pubkey; the signature carries its sighash byte appended.
type PartialSig struct {
	PubKey    []byte
	Signature []byte
}

// minSigLength is the shortest possible DER signature plus the sighash
// byte.
const minSigLength = 9

// checkValid checks that both the pubkey and the signature are sane.
func (ps *PartialSig) checkValid() bool {
	if !validatePubkey(ps.PubKey) {
		return false
	}
	return len(ps.Signature) >= minSigLength && ps.Signature[0] == 0x30
}

// PartialSigSorter implements sort.Interface for PartialSig.
type PartialSigSorter []*PartialSig

func (s PartialSigSorter) Len() int { return len(s) }

func (s PartialSigSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s PartialSigSorter) Less(i, j int) bool {
	return bytes.Compare(s[i].PubKey, s[j].PubKey) < 0
}

// PInput is a struct encapsulating all the data that can be attached to any
// specific input of the PSBT.
type PInput struct {
	NonWitnessUtxo     *wire.MsgTx
	WitnessUtxo        *wire.TxOut
	PartialSigs        []*PartialSig
	SighashType        txscript.SigHashType
	RedeemScript       *script.RedeemScript
	WitnessScript      *script.WitnessScript
	Bip32Derivation    []*Bip32Derivation
	FinalScriptSig     *script.Script
	FinalScriptWitness wire.TxWitness
	Unknowns           []*Unknown
}

// NewPsbtInput creates an instance of PsbtInput given either a nonWitnessUtxo
// or a witnessUtxo.
//
// NOTE: Only one of the two arguments should be specified, with the other
// being `nil`; otherwise the created PsbtInput object will fail IsSane()
// checks and will not be usable.
func NewPsbtInput(nonWitnessUtxo *wire.MsgTx, witnessUtxo *wire.TxOut) *PInput {
	return &PInput{
		NonWitnessUtxo:  nonWitnessUtxo,
		WitnessUtxo:     witnessUtxo,
		PartialSigs:     []*PartialSig{},
		Bip32Derivation: []*Bip32Derivation{},
	}
}

// IsSane returns true only if there are no conflicting values in the Psbt
// PInput. The two utxo record forms carry mutually exclusive provenance
// for the spent output; an input holding both is malformed.
func (pi *PInput) IsSane() bool {
	if pi.NonWitnessUtxo != nil && pi.WitnessUtxo != nil {
		return false
	}

	for _, ps := range pi.PartialSigs {
		if !ps.checkValid() {
			return false
		}
	}
	for _, d := range pi.Bip32Derivation {
		if !d.checkValid() {
			return false
		}
	}

	return true
}

// isFinal reports whether the input already carries final unlocking
// data.
func (pi *PInput) isFinal() bool {
	return pi.FinalScriptSig != nil || pi.FinalScriptWitness != nil
}

// deserialize attempts to deserialize a new PInput from the passed io.Reader.
func (pi *PInput) deserialize(r io.Reader) error {
	inputKeys := newKeySet()
	for {
		kv, err := getKVPair(r)
		if err != nil {
			return err
		}

		// If this is separator byte (nil kvPair), this section is done.
		if kv == nil {
			break
		}

		// According to BIP-0174, <key> := <keylen><keytype><keydata>
		// must be unique per map.
		if !inputKeys.addKey(kv.keyType, kv.keyData) {
			return ErrDuplicateKey
		}

		switch InputType(kv.keyType) {

		case NonWitnessUtxoType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}
			tx := wire.NewMsgTx(2)

			err := tx.Deserialize(bytes.NewReader(kv.valueData))
			if err != nil {
				return err
			}
			pi.NonWitnessUtxo = tx

		case WitnessUtxoType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}
			txout, err := readTxOut(kv.valueData)
			if err != nil {
				return err
			}
			pi.WitnessUtxo = txout

		case PartialSigType:
			newPartialSig := PartialSig{
				PubKey:    kv.keyData,
				Signature: kv.valueData,
			}

			if !newPartialSig.checkValid() {
				return ErrInvalidPsbtFormat
			}

			pi.PartialSigs = append(pi.PartialSigs, &newPartialSig)

		case SighashType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}

			// Bounds check on value here since the sighash type
			// must be a 32-bit unsigned integer.
			if len(kv.valueData) != 4 {
				return ErrInvalidKeyData
			}

			sighashType := txscript.SigHashType(
				binary.LittleEndian.Uint32(kv.valueData),
			)
			pi.SighashType = sighashType

		case RedeemScriptInputType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}
			redeemScript, err := script.NewRedeemScript(kv.valueData)
			if err != nil {
				return err
			}
			pi.RedeemScript = redeemScript

		case WitnessScriptInputType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}
			witnessScript, err := script.NewWitnessScript(kv.valueData)
			if err != nil {
				return err
			}
			pi.WitnessScript = witnessScript

		case Bip32DerivationInputType:
			if !validatePubkey(kv.keyData) {
				return ErrInvalidPsbtFormat
			}
			master, derivationPath, err := ReadBip32Derivation(
				kv.valueData,
			)
			if err != nil {
				return err
			}

			pi.Bip32Derivation = append(
				pi.Bip32Derivation,
				&Bip32Derivation{
					PubKey:               kv.keyData,
					MasterKeyFingerprint: master,
					Bip32Path:            derivationPath,
				},
			)

		case FinalScriptSigType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}

			finalScriptSig, err := script.ParseRaw(kv.valueData)
			if err != nil {
				return err
			}
			pi.FinalScriptSig = finalScriptSig

		case FinalScriptWitnessType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}

			witness, err := deserializeTxWitness(kv.valueData)
			if err != nil {
				return err
			}
			pi.FinalScriptWitness = witness

		default:
			// A fall through case for any proprietary types.
			keyCodeAndData := append(
				[]byte{kv.keyType}, kv.keyData...,
			)
			newUnknown := &Unknown{
				Key:   keyCodeAndData,
				Value: kv.valueData,
			}

			pi.Unknowns = append(pi.Unknowns, newUnknown)
		}
	}

	return nil
}

// serialize attempts to serialize the target PInput into the passed io.Writer.
func (pi *PInput) serialize(w io.Writer) error {
	if !pi.IsSane() {
		return ErrInvalidPsbtFormat
	}

	if pi.NonWitnessUtxo != nil {
		var buf bytes.Buffer
		err := pi.NonWitnessUtxo.Serialize(&buf)
		if err != nil {
			return err
		}

		err = serializeKVPairWithType(
			w, uint8(NonWitnessUtxoType), nil, buf.Bytes(),
		)
		if err != nil {
			return err
		}
	}
	if pi.WitnessUtxo != nil {
		var buf bytes.Buffer
		err := wire.WriteTxOut(&buf, 0, 0, pi.WitnessUtxo)
		if err != nil {
			return err
		}

		err = serializeKVPairWithType(
			w, uint8(WitnessUtxoType), nil, buf.Bytes(),
		)
		if err != nil {
			return err
		}
	}

	if !pi.isFinal() {
		sort.Sort(PartialSigSorter(pi.PartialSigs))
		for _, ps := range pi.PartialSigs {
			err := serializeKVPairWithType(
				w, uint8(PartialSigType), ps.PubKey,
				ps.Signature,
			)
			if err != nil {
				return err
			}
		}

		if pi.SighashType != 0 {
			var shtBytes [4]byte
			binary.LittleEndian.PutUint32(
				shtBytes[:], uint32(pi.SighashType),
			)

			err := serializeKVPairWithType(
				w, uint8(SighashType), nil, shtBytes[:],
			)
			if err != nil {
				return err
			}
		}

		if pi.RedeemScript != nil {
			redeemScript, err := pi.RedeemScript.RawSerialize()
			if err != nil {
				return err
			}
			err = serializeKVPairWithType(
				w, uint8(RedeemScriptInputType), nil,
				redeemScript,
			)
			if err != nil {
				return err
			}
		}

		if pi.WitnessScript != nil {
			witnessScript, err := pi.WitnessScript.RawSerialize()
			if err != nil {
				return err
			}
			err = serializeKVPairWithType(
				w, uint8(WitnessScriptInputType), nil,
				witnessScript,
			)
			if err != nil {
				return err
			}
		}

		sort.Sort(Bip32Sorter(pi.Bip32Derivation))
		for _, kd := range pi.Bip32Derivation {
			err := serializeKVPairWithType(
				w,
				uint8(Bip32DerivationInputType), kd.PubKey,
				SerializeBIP32Derivation(
					kd.MasterKeyFingerprint, kd.Bip32Path,
				),
			)
			if err != nil {
				return err
			}
		}
	}

	if pi.FinalScriptSig != nil {
		finalScriptSig, err := pi.FinalScriptSig.RawSerialize()
		if err != nil {
			return err
		}
		err = serializeKVPairWithType(
			w, uint8(FinalScriptSigType), nil, finalScriptSig,
		)
		if err != nil {
			return err
		}
	}

	if pi.FinalScriptWitness != nil {
		finalScriptWitness, err := serializeTxWitness(
			pi.FinalScriptWitness,
		)
		if err != nil {
			return err
		}
		err = serializeKVPairWithType(
			w, uint8(FinalScriptWitnessType), nil,
			finalScriptWitness,
		)
		if err != nil {
			return err
		}
	}

	// Unknown is a special case; we don't have a key type, only a key and
	// a value field.
	sortUnknowns(pi.Unknowns)
	for _, kv := range pi.Unknowns {
		err := serializeKVpair(w, kv.Key, kv.Value)
		if err != nil {
			return err
		}
	}

	separator := []byte{0x00}
	if _, err := w.Write(separator); err != nil {
		return err
	}

	return nil
}

// validate performs the deep consistency checks for one input: the utxo
// records must match the outpoint being spent and any script
// commitments must hash to what the locking script commits to.
func (pi *PInput) validate(txIn *wire.TxIn) error {
	if pi.NonWitnessUtxo != nil {
		if pi.NonWitnessUtxo.TxHash() != txIn.PreviousOutPoint.Hash {
			return ErrInvalidPrevOutNonWitnessTransaction
		}
		opIdx := txIn.PreviousOutPoint.Index
		if opIdx >= uint32(len(pi.NonWitnessUtxo.TxOut)) {
			return ErrInconsistentPacket
		}
	}

	spk, err := pi.lockingScript(txIn)
	if err != nil || spk == nil {
		return err
	}

	if pi.RedeemScript != nil {
		if !spk.IsP2SH() {
			return ErrInconsistentPacket
		}
		h160, err := pi.RedeemScript.Hash160()
		if err != nil {
			return err
		}
		if !bytes.Equal(h160, spk.Commands[1].Data) {
			return ErrInconsistentPacket
		}
	}

	if pi.WitnessScript != nil {
		program := spk
		if pi.RedeemScript != nil {
			program = &pi.RedeemScript.Script
		}
		if !program.IsP2WSH() {
			return ErrInconsistentPacket
		}
		sha, err := pi.WitnessScript.SHA256()
		if err != nil {
			return err
		}
		if !bytes.Equal(sha, program.Commands[1].Data) {
			return ErrInconsistentPacket
		}
	}

	return validateAnnotations(
		spk, pi.RedeemScript, pi.WitnessScript, pi.Bip32Derivation,
	)
}

// validateAnnotations checks the keyed annotations against the shape of
// the locking script. Single-key shapes admit at most one annotation,
// whose key must hash to the hash the script embeds; script-hash shapes
// require every annotated key to appear literally among the inner
// script's commands.
func validateAnnotations(spk *script.Script,
	redeemScript *script.RedeemScript,
	witnessScript *script.WitnessScript,
	derivations []*Bip32Derivation) error {

	program := spk
	if spk.IsP2SH() {
		if redeemScript == nil {
			return nil
		}
		program = &redeemScript.Script
	}

	switch {
	case program.IsP2PKH():
		return validateSoleAnnotation(
			program.Commands[2].Data, derivations,
		)

	case program.IsP2WPKH():
		return validateSoleAnnotation(
			program.Commands[1].Data, derivations,
		)

	case program.IsP2WSH():
		if witnessScript == nil {
			return nil
		}
		return validateKeysInScript(&witnessScript.Script, derivations)
	}

	if spk.IsP2SH() {
		return validateKeysInScript(program, derivations)
	}
	return nil
}

// validateSoleAnnotation enforces the single-key shape rule: at most
// one annotated key, hashing to the hash embedded in the script.
func validateSoleAnnotation(h160 []byte,
	derivations []*Bip32Derivation) error {

	if len(derivations) > 1 {
		return ErrInconsistentPacket
	}
	for _, d := range derivations {
		if !bytes.Equal(btcutil.Hash160(d.PubKey), h160) {
			return ErrInconsistentPacket
		}
	}
	return nil
}

// validateKeysInScript requires every annotated key's bytes to appear
// as a data push of the script.
func validateKeysInScript(s *script.Script,
	derivations []*Bip32Derivation) error {

	for _, d := range derivations {
		found := false
		for _, cmd := range s.Commands {
			if cmd.IsData && bytes.Equal(cmd.Data, d.PubKey) {
				found = true
				break
			}
		}
		if !found {
			return ErrInconsistentPacket
		}
	}
	return nil
}

// lockingScript returns the parsed locking script of the utxo record, or
// nil when the input has no utxo attached yet.
func (pi *PInput) lockingScript(txIn *wire.TxIn) (*script.Script, error) {
	switch {
	case pi.WitnessUtxo != nil:
		return script.ParseRaw(pi.WitnessUtxo.PkScript)

	case pi.NonWitnessUtxo != nil:
		opIdx := txIn.PreviousOutPoint.Index
		if opIdx >= uint32(len(pi.NonWitnessUtxo.TxOut)) {
			return nil, ErrInconsistentPacket
		}
		return script.ParseRaw(pi.NonWitnessUtxo.TxOut[opIdx].PkScript)
	}
	return nil, nil
}

// combine merges other into pi. Values pi already holds win; single
// fields are filled when absent and keyed collections take the union.
// The utxo record forms are mutually exclusive, so another shard's
// record is adopted only when pi carries neither form.
func (pi *PInput) combine(other *PInput) {
	if pi.NonWitnessUtxo == nil && pi.WitnessUtxo == nil {
		pi.NonWitnessUtxo = other.NonWitnessUtxo
		if pi.NonWitnessUtxo == nil {
			pi.WitnessUtxo = other.WitnessUtxo
		}
	}
	if pi.SighashType == 0 {
		pi.SighashType = other.SighashType
	}
	if pi.RedeemScript == nil {
		pi.RedeemScript = other.RedeemScript
	}
	if pi.WitnessScript == nil {
		pi.WitnessScript = other.WitnessScript
	}
	if pi.FinalScriptSig == nil {
		pi.FinalScriptSig = other.FinalScriptSig
	}
	if pi.FinalScriptWitness == nil {
		pi.FinalScriptWitness = other.FinalScriptWitness
	}

	for _, ps := range other.PartialSigs {
		if pi.partialSigFor(ps.PubKey) == nil {
			pi.PartialSigs = append(pi.PartialSigs, ps)
		}
	}

	pi.Bip32Derivation = combineDerivations(
		pi.Bip32Derivation, other.Bip32Derivation,
	)
	pi.Unknowns = combineUnknowns(pi.Unknowns, other.Unknowns)
}

// partialSigFor returns the existing signature for pubKey, if any.
func (pi *PInput) partialSigFor(pubKey []byte) *PartialSig {
	for _, ps := range pi.PartialSigs {
		if bytes.Equal(ps.PubKey, pubKey) {
			return ps
		}
	}
	return nil
}

// combineUnknowns unions pass-through entries by full raw key, keeping
// the existing value on collision.
func combineUnknowns(existing, other []*Unknown) []*Unknown {
	for _, kv := range other {
		found := false
		for _, have := range existing {
			if bytes.Equal(have.Key, kv.Key) {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, kv)
		}
	}
	return existing
}
