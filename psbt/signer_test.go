// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
	"github.com/stretchr/testify/require"
)

// hdPacket returns a packet spending a p2wpkh utxo whose key sits at
// m/0/5 of the returned master key, with the derivation record attached.
func hdPacket(t *testing.T) (*Packet, *hdkeychain.ExtendedKey) {
	t.Helper()

	seed := bytes.Repeat([]byte{0x41}, 32)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	child, err := master.Derive(0)
	require.NoError(t, err)
	leaf, err := child.Derive(5)
	require.NoError(t, err)
	leafPriv, err := leaf.ECPrivKey()
	require.NoError(t, err)
	pub := leafPriv.PubKey().SerializeCompressed()

	spkRaw, err := script.NewP2WPKH(btcutil.Hash160(pub)).RawSerialize()
	require.NoError(t, err)

	p, err := NewFromUnsignedTx(
		unsignedSpend(t, chainhash.Hash{0x51}, 0),
	)
	require.NoError(t, err)
	p.Inputs[0].WitnessUtxo = wire.NewTxOut(100000, spkRaw)

	fingerprint, err := MasterFingerprint(master)
	require.NoError(t, err)
	p.Inputs[0].Bip32Derivation = []*Bip32Derivation{{
		PubKey:               pub,
		MasterKeyFingerprint: fingerprint,
		Bip32Path:            []uint32{0, 5},
	}}

	return p, master
}

func TestSignInputP2WPKH(t *testing.T) {
	p, priv := p2wpkhPacket(t)
	require.NoError(t, SignInput(p, 0, priv))

	pInput := &p.Inputs[0]
	require.Len(t, pInput.PartialSigs, 1)

	ps := pInput.PartialSigs[0]
	require.Equal(t, priv.PubKey().SerializeCompressed(), ps.PubKey)
	require.Equal(t, byte(txscript.SigHashAll), ps.Signature[len(ps.Signature)-1])
	_, err := ecdsa.ParseDERSignature(ps.Signature[:len(ps.Signature)-1])
	require.NoError(t, err)

	// Signing again with the same key replaces, not appends.
	require.NoError(t, SignInput(p, 0, priv))
	require.Len(t, pInput.PartialSigs, 1)
}

func TestSignRespectsDeclaredSighashType(t *testing.T) {
	p, priv := p2wpkhPacket(t)
	u, err := NewUpdater(p)
	require.NoError(t, err)
	require.NoError(t, u.AddInSighashType(txscript.SigHashSingle, 0))

	// A signature carrying a different sighash byte is refused.
	z := sha256.Sum256([]byte("digest"))
	sig := append(
		ecdsa.Sign(priv, z[:]).Serialize(), byte(txscript.SigHashAll),
	)
	outcome, err := u.Sign(0, sig, priv.PubKey().SerializeCompressed())
	require.ErrorIs(t, err, ErrInvalidSigHashFlags)
	require.Equal(t, SignOutcome(SignInvalid), outcome)
	require.Empty(t, p.Inputs[0].PartialSigs)

	// The signing helper picks up the declared type.
	require.NoError(t, SignInput(p, 0, priv))
	ps := p.Inputs[0].PartialSigs[0]
	require.Equal(t,
		byte(txscript.SigHashSingle), ps.Signature[len(ps.Signature)-1],
	)
}

func TestSignFinalizedInput(t *testing.T) {
	p, priv := p2wpkhPacket(t)
	require.NoError(t, SignInput(p, 0, priv))
	require.NoError(t, Finalize(p, 0))

	u, err := NewUpdater(p)
	require.NoError(t, err)
	outcome, err := u.Sign(
		0, bytes.Repeat([]byte{0x30}, 10),
		priv.PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)
	require.Equal(t, SignOutcome(SignFinalized), outcome)

	require.ErrorIs(
		t, SignInput(p, 0, priv), ErrInputAlreadyFinalized,
	)
}

func TestSignWithPrivKeys(t *testing.T) {
	p, privs := multisigPacket(t)

	// Two of the keys are pushed by the witness script, the third is
	// unrelated and must not produce a signature.
	unrelated := testPrivKey(0x77)
	signed, err := SignWithPrivKeys(
		p, []*btcec.PrivateKey{privs[0], privs[2], unrelated},
	)
	require.NoError(t, err)
	require.Equal(t, 2, signed)
	require.Len(t, p.Inputs[0].PartialSigs, 2)

	require.NoError(t, Finalize(p, 0))
}

func TestSignWithHDKey(t *testing.T) {
	p, master := hdPacket(t)

	signed, err := SignWithHDKey(p, master)
	require.NoError(t, err)
	require.Equal(t, 1, signed)
	require.Len(t, p.Inputs[0].PartialSigs, 1)

	require.NoError(t, Finalize(p, 0))
	_, err = FinalTx(p)
	require.NoError(t, err)
}

func TestSignWithHDKeyRejectsPublic(t *testing.T) {
	p, master := hdPacket(t)
	neutered, err := master.Neuter()
	require.NoError(t, err)

	_, err = SignWithHDKey(p, neutered)
	require.ErrorIs(t, err, hdkeychain.ErrNotPrivExtKey)
}

func TestSignWithHDKeyRejectsWrongRecord(t *testing.T) {
	p, master := hdPacket(t)

	// The derivation record names a key that the claimed path does
	// not produce.
	p.Inputs[0].Bip32Derivation[0].PubKey =
		testPrivKey(0x42).PubKey().SerializeCompressed()

	_, err := SignWithHDKey(p, master)
	require.ErrorIs(t, err, ErrUntrustedXpub)
}

func TestSignMissingUtxo(t *testing.T) {
	p, priv := p2wpkhPacket(t)
	p.Inputs[0].WitnessUtxo = nil

	require.ErrorIs(t, SignInput(p, 0, priv), ErrMissingInputUtxo)
}
