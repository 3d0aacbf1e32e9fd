// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"io"
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
)

// POutput is a struct encapsulating all the data that can be attached
// to any specific output of the PSBT.
type POutput struct {
	RedeemScript    *script.RedeemScript
	WitnessScript   *script.WitnessScript
	Bip32Derivation []*Bip32Derivation
	Unknowns        []*Unknown
}

// NewPsbtOutput creates an instance of PsbtOutput; the three parameters
// must be scripts or keyinfo, or nil if not present.
func NewPsbtOutput(redeemScript *script.RedeemScript,
	witnessScript *script.WitnessScript,
	bip32Derivation []*Bip32Derivation) *POutput {

	return &POutput{
		RedeemScript:    redeemScript,
		WitnessScript:   witnessScript,
		Bip32Derivation: bip32Derivation,
	}
}

// deserialize attempts to recreate a POutput object from the passed
// io.Reader.
func (po *POutput) deserialize(r io.Reader) error {
	outputKeys := newKeySet()
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
		if !outputKeys.addKey(kv.keyType, kv.keyData) {
			return ErrDuplicateKey
		}

		switch OutputType(kv.keyType) {

		case RedeemScriptOutputType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}
			redeemScript, err := script.NewRedeemScript(kv.valueData)
			if err != nil {
				return err
			}
			po.RedeemScript = redeemScript

		case WitnessScriptOutputType:
			if kv.keyData != nil {
				return ErrInvalidKeyData
			}
			witnessScript, err := script.NewWitnessScript(kv.valueData)
			if err != nil {
				return err
			}
			po.WitnessScript = witnessScript

		case Bip32DerivationOutputType:
			if !validatePubkey(kv.keyData) {
				return ErrInvalidKeyData
			}
			master, derivationPath, err := ReadBip32Derivation(
				kv.valueData,
			)
			if err != nil {
				return err
			}

			po.Bip32Derivation = append(po.Bip32Derivation,
				&Bip32Derivation{
					PubKey:               kv.keyData,
					MasterKeyFingerprint: master,
					Bip32Path:            derivationPath,
				},
			)

		default:
			// A fall through case for any proprietary types.
			keyCodeAndData := append(
				[]byte{kv.keyType}, kv.keyData...,
			)
			newUnknown := &Unknown{
				Key:   keyCodeAndData,
				Value: kv.valueData,
			}

			po.Unknowns = append(po.Unknowns, newUnknown)
		}
	}

	return nil
}

// serialize attempts to write out the target POutput into the passed
// io.Writer.
func (po *POutput) serialize(w io.Writer) error {
	if po.RedeemScript != nil {
		redeemScript, err := po.RedeemScript.RawSerialize()
		if err != nil {
			return err
		}
		err = serializeKVPairWithType(
			w, uint8(RedeemScriptOutputType), nil, redeemScript,
		)
		if err != nil {
			return err
		}
	}

	if po.WitnessScript != nil {
		witnessScript, err := po.WitnessScript.RawSerialize()
		if err != nil {
			return err
		}
		err = serializeKVPairWithType(
			w, uint8(WitnessScriptOutputType), nil, witnessScript,
		)
		if err != nil {
			return err
		}
	}

	sort.Sort(Bip32Sorter(po.Bip32Derivation))
	for _, kd := range po.Bip32Derivation {
		err := serializeKVPairWithType(
			w,
			uint8(Bip32DerivationOutputType), kd.PubKey,
			SerializeBIP32Derivation(
				kd.MasterKeyFingerprint, kd.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	sortUnknowns(po.Unknowns)
	for _, kv := range po.Unknowns {
		if err := serializeKVpair(w, kv.Key, kv.Value); err != nil {
			return err
		}
	}

	separator := []byte{0x00}
	if _, err := w.Write(separator); err != nil {
		return err
	}

	return nil
}

// validate checks any script commitments the output record carries
// against the output's locking script.
func (po *POutput) validate(txOut *wire.TxOut) error {
	spk, err := script.ParseRaw(txOut.PkScript)
	if err != nil {
		return err
	}

	if po.RedeemScript != nil {
		if !spk.IsP2SH() {
			return ErrInconsistentPacket
		}
		h160, err := po.RedeemScript.Hash160()
		if err != nil {
			return err
		}
		if !bytes.Equal(h160, spk.Commands[1].Data) {
			return ErrInconsistentPacket
		}
	}

	if po.WitnessScript != nil {
		program := spk
		if po.RedeemScript != nil {
			program = &po.RedeemScript.Script
		}
		if !program.IsP2WSH() {
			return ErrInconsistentPacket
		}
		sha, err := po.WitnessScript.SHA256()
		if err != nil {
			return err
		}
		if !bytes.Equal(sha, program.Commands[1].Data) {
			return ErrInconsistentPacket
		}
	}

	return validateAnnotations(
		spk, po.RedeemScript, po.WitnessScript, po.Bip32Derivation,
	)
}

// combine merges other into po, filling absent scripts and unioning the
// derivation and pass-through collections.
func (po *POutput) combine(other *POutput) {
	if po.RedeemScript == nil {
		po.RedeemScript = other.RedeemScript
	}
	if po.WitnessScript == nil {
		po.WitnessScript = other.WitnessScript
	}

	po.Bip32Derivation = combineDerivations(
		po.Bip32Derivation, other.Bip32Derivation,
	)
	po.Unknowns = combineUnknowns(po.Unknowns, other.Unknowns)
}
