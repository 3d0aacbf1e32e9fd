// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/psbtsuite/psbtutil/script"
	"github.com/stretchr/testify/require"
)

func TestAddInNonWitnessUtxo(t *testing.T) {
	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	prevTx.AddTxOut(wire.NewTxOut(100000, testDestScript(t)))

	p, err := NewFromUnsignedTx(unsignedSpend(t, prevTx.TxHash(), 0))
	require.NoError(t, err)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	require.NoError(t, u.AddInNonWitnessUtxo(prevTx, 0))
	require.NotNil(t, p.Inputs[0].NonWitnessUtxo)

	// A transaction that is not the referenced previous transaction.
	other, err := NewFromUnsignedTx(
		unsignedSpend(t, chainhash.Hash{0x71}, 0),
	)
	require.NoError(t, err)
	uOther, err := NewUpdater(other)
	require.NoError(t, err)
	require.ErrorIs(
		t, uOther.AddInNonWitnessUtxo(prevTx, 0),
		ErrInvalidPrevOutNonWitnessTransaction,
	)

	// Out of range input index.
	require.ErrorIs(
		t, u.AddInNonWitnessUtxo(prevTx, 1),
		ErrInvalidPrevOutNonWitnessTransaction,
	)
}

func TestAddInRedeemScriptRollback(t *testing.T) {
	p, _ := nestedP2wpkhPacket(t)
	redeem := p.Inputs[0].RedeemScript
	p.Inputs[0].RedeemScript = nil

	u, err := NewUpdater(p)
	require.NoError(t, err)

	// A script that does not hash to the p2sh commitment is refused
	// and the input is left untouched.
	wrongRaw, err := script.NewP2WPKH(
		bytes.Repeat([]byte{0x72}, 20),
	).RawSerialize()
	require.NoError(t, err)
	wrong, err := script.NewRedeemScript(wrongRaw)
	require.NoError(t, err)

	require.ErrorIs(
		t, u.AddInRedeemScript(wrong, 0), ErrInconsistentPacket,
	)
	require.Nil(t, p.Inputs[0].RedeemScript)

	require.NoError(t, u.AddInRedeemScript(redeem, 0))
	require.NotNil(t, p.Inputs[0].RedeemScript)
}

func TestAddInWitnessScriptRollback(t *testing.T) {
	p, _ := multisigPacket(t)
	ws := p.Inputs[0].WitnessScript
	p.Inputs[0].WitnessScript = nil

	u, err := NewUpdater(p)
	require.NoError(t, err)

	wrongRaw, err := script.NewScript(
		script.OpCommand(script.OP_1),
	).RawSerialize()
	require.NoError(t, err)
	wrong, err := script.NewWitnessScript(wrongRaw)
	require.NoError(t, err)

	require.ErrorIs(
		t, u.AddInWitnessScript(wrong, 0), ErrInconsistentPacket,
	)
	require.Nil(t, p.Inputs[0].WitnessScript)

	require.NoError(t, u.AddInWitnessScript(ws, 0))
}

func TestAddInBip32DerivationDuplicate(t *testing.T) {
	p, priv := p2wpkhPacket(t)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	pub := priv.PubKey().SerializeCompressed()
	require.NoError(t, u.AddInBip32Derivation(1, []uint32{0, 1}, pub, 0))
	require.ErrorIs(
		t, u.AddInBip32Derivation(1, []uint32{0, 2}, pub, 0),
		ErrDuplicateKey,
	)

	// An invalid pubkey is refused outright.
	require.ErrorIs(
		t, u.AddInBip32Derivation(1, nil, []byte{0x02, 0x03}, 0),
		ErrInvalidPsbtFormat,
	)
}

func TestAddGlobalXpubDuplicate(t *testing.T) {
	p, _ := p2wpkhPacket(t)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	xpub, _ := testXpub(t)
	require.NoError(t, u.AddGlobalXpub(xpub))
	require.ErrorIs(t, u.AddGlobalXpub(xpub), ErrDuplicateKey)
	require.Len(t, p.Xpubs, 1)
}

func TestUpdateAttachesWitnessRecords(t *testing.T) {
	// Start from a bare unsigned spend of a 2-of-3 p2wsh output and
	// let Update pull everything from the lookups.
	privs := []*btcec.PrivateKey{
		testPrivKey(0x11), testPrivKey(0x12), testPrivKey(0x13),
	}
	ms, err := script.NewMultisig(
		2,
		privs[0].PubKey().SerializeCompressed(),
		privs[1].PubKey().SerializeCompressed(),
		privs[2].PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)
	ws := &script.WitnessScript{Script: *ms}
	lock, err := ws.ToP2WSH()
	require.NoError(t, err)
	spkRaw, err := lock.RawSerialize()
	require.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	prevTx.AddTxOut(wire.NewTxOut(100000, spkRaw))

	p, err := NewFromUnsignedTx(unsignedSpend(t, prevTx.TxHash(), 0))
	require.NoError(t, err)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	sha, err := ws.SHA256()
	require.NoError(t, err)
	sec0 := privs[0].PubKey().SerializeCompressed()
	derivation := &Bip32Derivation{
		PubKey:               sec0,
		MasterKeyFingerprint: 7,
		Bip32Path:            []uint32{0, 9},
	}

	require.NoError(t, u.Update(UpdateLookups{
		Txs: map[chainhash.Hash]*wire.MsgTx{
			prevTx.TxHash(): prevTx,
		},
		Pubkeys:   map[string]*Bip32Derivation{string(sec0): derivation},
		Witnesses: map[string]*script.WitnessScript{string(sha): ws},
	}))

	pInput := &p.Inputs[0]
	require.NotNil(t, pInput.WitnessUtxo)
	require.Nil(t, pInput.NonWitnessUtxo)
	require.NotNil(t, pInput.WitnessScript)
	require.Len(t, pInput.Bip32Derivation, 1)
	require.Equal(t, sec0, pInput.Bip32Derivation[0].PubKey)

	require.NoError(t, p.Validate())
}

func TestUpdateAttachesNestedRecords(t *testing.T) {
	priv := testPrivKey(0x21)
	pub := priv.PubKey().SerializeCompressed()
	h160 := btcutil.Hash160(pub)
	programRaw, err := script.NewP2WPKH(h160).RawSerialize()
	require.NoError(t, err)
	redeem, err := script.NewRedeemScript(programRaw)
	require.NoError(t, err)
	redeemHash, err := redeem.Hash160()
	require.NoError(t, err)
	lock, err := redeem.ToP2SH()
	require.NoError(t, err)
	spkRaw, err := lock.RawSerialize()
	require.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	prevTx.AddTxOut(wire.NewTxOut(100000, spkRaw))

	p, err := NewFromUnsignedTx(unsignedSpend(t, prevTx.TxHash(), 0))
	require.NoError(t, err)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	derivation := &Bip32Derivation{
		PubKey:               pub,
		MasterKeyFingerprint: 7,
		Bip32Path:            []uint32{1, 2},
	}

	require.NoError(t, u.Update(UpdateLookups{
		Txs: map[chainhash.Hash]*wire.MsgTx{
			prevTx.TxHash(): prevTx,
		},
		Pubkeys: map[string]*Bip32Derivation{string(h160): derivation},
		Redeems: map[string]*script.RedeemScript{
			string(redeemHash): redeem,
		},
	}))

	pInput := &p.Inputs[0]
	require.NotNil(t, pInput.RedeemScript)
	require.Len(t, pInput.Bip32Derivation, 1)

	// A p2sh utxo is attached as a non-witness record.
	require.Nil(t, pInput.WitnessUtxo)
	require.NotNil(t, pInput.NonWitnessUtxo)
}

func TestLookupBuilders(t *testing.T) {
	priv := testPrivKey(0x31)
	sec := priv.PubKey().SerializeCompressed()

	d := &Bip32Derivation{PubKey: sec, Bip32Path: []uint32{0, 1}}
	pubkeys := PubkeyLookup(d)
	require.Equal(t, d, pubkeys[string(sec)])
	require.Equal(t, d, pubkeys[string(btcutil.Hash160(sec))])

	redeemSpk, err := script.NewP2WPKH(btcutil.Hash160(sec)).RawSerialize()
	require.NoError(t, err)
	redeem, err := script.NewRedeemScript(redeemSpk)
	require.NoError(t, err)
	redeems, err := RedeemScriptLookup(redeem)
	require.NoError(t, err)
	h160, err := redeem.Hash160()
	require.NoError(t, err)
	require.Equal(t, redeem, redeems[string(h160)])

	ms, err := script.NewMultisig(1, sec)
	require.NoError(t, err)
	msRaw, err := ms.RawSerialize()
	require.NoError(t, err)
	witness, err := script.NewWitnessScript(msRaw)
	require.NoError(t, err)
	witnesses, err := WitnessScriptLookup(witness)
	require.NoError(t, err)
	sha, err := witness.SHA256()
	require.NoError(t, err)
	require.Equal(t, witness, witnesses[string(sha)])
}

func TestAddUtxoRecordsExclusive(t *testing.T) {
	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	prevTx.AddTxOut(wire.NewTxOut(100000, testDestScript(t)))

	p, err := NewFromUnsignedTx(unsignedSpend(t, prevTx.TxHash(), 0))
	require.NoError(t, err)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	require.NoError(t, u.AddInNonWitnessUtxo(prevTx, 0))
	require.ErrorIs(
		t, u.AddInWitnessUtxo(prevTx.TxOut[0], 0),
		ErrInconsistentPacket,
	)

	// Clearing one form admits the other.
	p.Inputs[0].NonWitnessUtxo = nil
	require.NoError(t, u.AddInWitnessUtxo(prevTx.TxOut[0], 0))
	require.ErrorIs(
		t, u.AddInNonWitnessUtxo(prevTx, 0), ErrInconsistentPacket,
	)
}
