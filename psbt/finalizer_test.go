// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

func TestFinalizeP2WPKH(t *testing.T) {
	p, priv := p2wpkhPacket(t)
	require.NoError(t, SignInput(p, 0, priv))

	require.NoError(t, Finalize(p, 0))

	pInput := &p.Inputs[0]
	require.Nil(t, pInput.FinalScriptSig)
	require.Len(t, pInput.FinalScriptWitness, 2)
	require.Equal(t,
		priv.PubKey().SerializeCompressed(),
		pInput.FinalScriptWitness[1],
	)

	// Finalization destroys the signing records it consumed.
	require.Nil(t, pInput.PartialSigs)
	require.Nil(t, pInput.RedeemScript)
	require.Nil(t, pInput.WitnessScript)
	require.Nil(t, pInput.Bip32Derivation)
	require.Equal(t, txscript.SigHashType(0), pInput.SighashType)

	// The utxo record survives; the extractor needs it to verify.
	require.NotNil(t, pInput.WitnessUtxo)

	// With the signatures gone a second call cannot succeed.
	require.ErrorIs(t, Finalize(p, 0), ErrInputAlreadyFinalized)
}

func TestFinalizeMultisigOrdering(t *testing.T) {
	p, privs := multisigPacket(t)

	wsRaw, err := p.Inputs[0].WitnessScript.RawSerialize()
	require.NoError(t, err)

	// Sign in reverse key order; the final witness must still follow
	// the script's pubkey order.
	require.NoError(t, SignInput(p, 0, privs[2]))
	require.NoError(t, SignInput(p, 0, privs[0]))

	pub0 := privs[0].PubKey().SerializeCompressed()
	pub2 := privs[2].PubKey().SerializeCompressed()
	sig0 := p.Inputs[0].partialSigFor(pub0).Signature
	sig2 := p.Inputs[0].partialSigFor(pub2).Signature

	require.NoError(t, Finalize(p, 0))

	witness := p.Inputs[0].FinalScriptWitness
	require.Len(t, witness, 4)
	require.Empty(t, witness[0])
	require.Equal(t, sig0, witness[1])
	require.Equal(t, sig2, witness[2])
	require.Equal(t, wsRaw, witness[3])
}

func TestFinalizeBelowThreshold(t *testing.T) {
	p, privs := multisigPacket(t)
	require.NoError(t, SignInput(p, 0, privs[1]))

	require.ErrorIs(t, Finalize(p, 0), ErrNotFinalizable)

	// A failed finalization leaves the signing records alone.
	require.Len(t, p.Inputs[0].PartialSigs, 1)
	require.NotNil(t, p.Inputs[0].WitnessScript)
	require.False(t, isFinalized(p, 0))
}

func TestFinalizeNestedP2WPKH(t *testing.T) {
	p, priv := nestedP2wpkhPacket(t)
	redeemRaw, err := p.Inputs[0].RedeemScript.RawSerialize()
	require.NoError(t, err)

	require.NoError(t, SignInput(p, 0, priv))
	require.NoError(t, Finalize(p, 0))

	pInput := &p.Inputs[0]
	require.Len(t, pInput.FinalScriptWitness, 2)

	// The scriptSig is the single push of the redeem script.
	require.NotNil(t, pInput.FinalScriptSig)
	require.Len(t, pInput.FinalScriptSig.Commands, 1)
	require.Equal(t, redeemRaw, pInput.FinalScriptSig.Commands[0].Data)
}

func TestFinalizeMissingRedeemScript(t *testing.T) {
	p, priv := nestedP2wpkhPacket(t)
	require.NoError(t, SignInput(p, 0, priv))

	p.Inputs[0].RedeemScript = nil
	require.ErrorIs(t, Finalize(p, 0), ErrNotFinalizable)
}

func TestMaybeFinalizeAll(t *testing.T) {
	p, priv := p2wpkhPacket(t)

	// Nothing to finalize with yet.
	require.ErrorIs(t, MaybeFinalizeAll(p), ErrNotFinalizable)

	require.NoError(t, SignInput(p, 0, priv))
	require.NoError(t, MaybeFinalizeAll(p))
	require.True(t, p.IsComplete())

	// Already-final inputs are left alone.
	require.NoError(t, MaybeFinalizeAll(p))
}

func TestMaybeFinalize(t *testing.T) {
	p, priv := p2wpkhPacket(t)
	require.NoError(t, SignInput(p, 0, priv))

	ok, err := MaybeFinalize(p, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MaybeFinalize(p, 0)
	require.NoError(t, err)
	require.True(t, ok)
}
