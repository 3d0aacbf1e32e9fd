// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestCombineMergesSignatures(t *testing.T) {
	base, privs := multisigPacket(t)
	a := clonePacket(t, base)
	b := clonePacket(t, base)

	require.NoError(t, SignInput(a, 0, privs[0]))
	require.NoError(t, SignInput(b, 0, privs[2]))

	ab := clonePacket(t, a)
	require.NoError(t, ab.Combine(b))
	require.Len(t, ab.Inputs[0].PartialSigs, 2)

	// Combining in the opposite direction yields the same packet.
	ba := clonePacket(t, b)
	require.NoError(t, ba.Combine(a))
	require.Equal(t, serializedBytes(t, ab), serializedBytes(t, ba))
}

func TestCombineIdempotent(t *testing.T) {
	p, privs := multisigPacket(t)
	require.NoError(t, SignInput(p, 0, privs[1]))

	before := serializedBytes(t, p)
	require.NoError(t, p.Combine(clonePacket(t, p)))
	require.Equal(t, before, serializedBytes(t, p))
}

func TestCombineFillsMissingFields(t *testing.T) {
	withUtxo, _ := p2wpkhPacket(t)

	bare, err := NewFromUnsignedTx(withUtxo.UnsignedTx.Copy())
	require.NoError(t, err)
	bare.Inputs[0].SighashType = txscript.SigHashSingle
	bare.Inputs[0].Unknowns = []*Unknown{
		{Key: []byte{0xfc, 0x01}, Value: []byte{0x01}},
	}

	require.NoError(t, bare.Combine(withUtxo))
	require.NotNil(t, bare.Inputs[0].WitnessUtxo)

	// The receiver's values win over the counterparty's.
	require.Equal(t, txscript.SigHashSingle, bare.Inputs[0].SighashType)
	require.Len(t, bare.Inputs[0].Unknowns, 1)
}

func TestCombineUnknownsUnion(t *testing.T) {
	a, _ := p2wpkhPacket(t)
	b := clonePacket(t, a)

	a.Inputs[0].Unknowns = []*Unknown{
		{Key: []byte{0xfc, 0x01}, Value: []byte{0xaa}},
	}
	b.Inputs[0].Unknowns = []*Unknown{
		{Key: []byte{0xfc, 0x01}, Value: []byte{0xbb}},
		{Key: []byte{0xfc, 0x02}, Value: []byte{0xcc}},
	}

	require.NoError(t, a.Combine(b))
	require.Len(t, a.Inputs[0].Unknowns, 2)

	// The colliding key keeps the receiver's value.
	for _, kv := range a.Inputs[0].Unknowns {
		if kv.Key[1] == 0x01 {
			require.Equal(t, []byte{0xaa}, kv.Value)
		}
	}
}

func TestCombineDifferentTransactions(t *testing.T) {
	a, _ := p2wpkhPacket(t)
	b, _ := multisigPacket(t)

	require.ErrorIs(t, a.Combine(b), ErrInconsistentPacket)
}

func TestCombineXpubs(t *testing.T) {
	a, _ := p2wpkhPacket(t)
	b := clonePacket(t, a)

	xpub, _ := testXpub(t)
	b.Xpubs = []*Xpub{xpub}

	require.NoError(t, a.Combine(b))
	require.Len(t, a.Xpubs, 1)

	// Combining again does not duplicate the entry.
	require.NoError(t, a.Combine(b))
	require.Len(t, a.Xpubs, 1)
}

func TestCombineAssociative(t *testing.T) {
	base, privs := multisigPacket(t)

	// Three shards with disjoint contributions: two signatures and an
	// unknown record.
	a := clonePacket(t, base)
	b := clonePacket(t, base)
	c := clonePacket(t, base)
	require.NoError(t, SignInput(a, 0, privs[0]))
	require.NoError(t, SignInput(b, 0, privs[2]))
	c.Inputs[0].Unknowns = []*Unknown{
		{Key: []byte{0xfc, 0x03}, Value: []byte{0x03}},
	}

	// (a + b) + c
	left := clonePacket(t, a)
	require.NoError(t, left.Combine(b))
	require.NoError(t, left.Combine(c))

	// a + (b + c)
	bc := clonePacket(t, b)
	require.NoError(t, bc.Combine(c))
	right := clonePacket(t, a)
	require.NoError(t, right.Combine(bc))

	require.Equal(t, serializedBytes(t, left), serializedBytes(t, right))
	require.Len(t, left.Inputs[0].PartialSigs, 2)
	require.Len(t, left.Inputs[0].Unknowns, 1)
}

func TestCombineKeepsUtxoFormsExclusive(t *testing.T) {
	a, _ := p2wpkhPacket(t)

	// A shard carrying the other provenance form for the same input.
	b := clonePacket(t, a)
	b.Inputs[0].WitnessUtxo = nil
	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	prevTx.AddTxOut(wire.NewTxOut(100000, testDestScript(t)))
	b.Inputs[0].NonWitnessUtxo = prevTx

	// The receiver's record wins outright; the merge must not
	// manufacture an input holding both forms.
	require.NoError(t, a.Combine(b))
	require.NotNil(t, a.Inputs[0].WitnessUtxo)
	require.Nil(t, a.Inputs[0].NonWitnessUtxo)
	require.True(t, a.Inputs[0].IsSane())
}
