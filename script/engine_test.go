// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package script

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testKey returns a deterministic private key from a repeated seed byte.
func testKey(seed byte) *btcec.PrivateKey {
	keyBytes := make([]byte, 32)
	for i := range keyBytes {
		keyBytes[i] = seed
	}
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	return priv
}

// testZ is a fixed signature hash for engine tests that do not involve
// a real transaction.
func testZ() []byte {
	sum := sha256.Sum256([]byte("engine test message"))
	return sum[:]
}

// signZ signs z and appends the all flag byte the way transaction
// signatures carry it.
func signZ(priv *btcec.PrivateKey, z []byte) []byte {
	sig := ecdsa.Sign(priv, z)
	return append(sig.Serialize(), 0x01)
}

func TestEvaluateArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		script *Script
		want   bool
	}{
		{
			name: "add",
			script: NewScript(
				OpCommand(OP_2), OpCommand(OP_3),
				OpCommand(OP_ADD), OpCommand(OP_5),
				OpCommand(OP_EQUAL),
			),
			want: true,
		},
		{
			name: "sub order",
			script: NewScript(
				OpCommand(OP_5), OpCommand(OP_3),
				OpCommand(OP_SUB), OpCommand(OP_2),
				OpCommand(OP_EQUAL),
			),
			want: true,
		},
		{
			name: "within bounds",
			script: NewScript(
				OpCommand(OP_5), OpCommand(OP_3),
				OpCommand(OP_10), OpCommand(OP_WITHIN),
			),
			want: true,
		},
		{
			name: "equal false leaves empty top",
			script: NewScript(
				OpCommand(OP_2), OpCommand(OP_3),
				OpCommand(OP_EQUAL),
			),
			want: false,
		},
		{
			name:   "drained queue with empty stack",
			script: NewScript(OpCommand(OP_1), OpCommand(OP_DROP)),
			want:   false,
		},
		{
			name:   "verify aborts on false",
			script: NewScript(OpCommand(OP_0), OpCommand(OP_VERIFY)),
			want:   false,
		},
		{
			name:   "return aborts",
			script: NewScript(OpCommand(OP_1), OpCommand(OP_RETURN)),
			want:   false,
		},
	}

	for _, test := range tests {
		if got := test.script.Evaluate(nil, nil); got != test.want {
			t.Fatalf("%s: got %v, want %v", test.name, got,
				test.want)
		}
	}
}

func TestEvaluateBranching(t *testing.T) {
	// The outer true branch runs, the inner condition is false so the
	// inner else pushes 3.
	nested := NewScript(
		OpCommand(OP_1), OpCommand(OP_IF),
		OpCommand(OP_0), OpCommand(OP_IF),
		OpCommand(OP_2),
		OpCommand(OP_ELSE),
		OpCommand(OP_3),
		OpCommand(OP_ENDIF),
		OpCommand(OP_ELSE),
		OpCommand(OP_4),
		OpCommand(OP_ENDIF),
		OpCommand(OP_3), OpCommand(OP_EQUAL),
	)
	require.True(t, nested.Evaluate(nil, nil))

	notIf := NewScript(
		OpCommand(OP_0), OpCommand(OP_NOTIF),
		OpCommand(OP_1),
		OpCommand(OP_ELSE),
		OpCommand(OP_0),
		OpCommand(OP_ENDIF),
	)
	require.True(t, notIf.Evaluate(nil, nil))

	// An unterminated branch fails.
	unterminated := NewScript(OpCommand(OP_1), OpCommand(OP_IF))
	require.False(t, unterminated.Evaluate(nil, nil))
}

// TestDataPushOpcodeCollision pushes a one byte element whose value
// equals an opcode byte. The element stays data and is never executed.
func TestDataPushOpcodeCollision(t *testing.T) {
	s := NewScript(
		DataCommand([]byte{OP_RETURN}),
	)
	require.True(t, s.Evaluate(nil, nil))
}

func TestEvaluateP2PKH(t *testing.T) {
	priv := testKey(0x01)
	pub := priv.PubKey().SerializeCompressed()
	z := testZ()
	sig := signZ(priv, z)

	unlock := NewScript(DataCommand(sig), DataCommand(pub))
	lock := NewP2PKH(btcutil.Hash160(pub))

	require.True(t, unlock.Add(lock).Evaluate(z, nil))

	// Any corrupted signature bit must fail verification.
	badSig := append([]byte{}, sig...)
	badSig[10] ^= 0x01
	badUnlock := NewScript(DataCommand(badSig), DataCommand(pub))
	require.False(t, badUnlock.Add(lock).Evaluate(z, nil))

	// A key that does not hash to the output's commitment fails.
	otherPub := testKey(0x02).PubKey().SerializeCompressed()
	wrongKey := NewScript(DataCommand(sig), DataCommand(otherPub))
	require.False(t, wrongKey.Add(lock).Evaluate(z, nil))
}

func TestEvaluateP2SHExpansion(t *testing.T) {
	priv1 := testKey(0x03)
	priv2 := testKey(0x04)
	z := testZ()

	redeem, err := NewMultisig(
		1,
		priv1.PubKey().SerializeCompressed(),
		priv2.PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)
	redeemRaw, err := redeem.RawSerialize()
	require.NoError(t, err)

	lock := NewP2SH(btcutil.Hash160(redeemRaw))

	unlock := NewScript(
		OpCommand(OP_0),
		DataCommand(signZ(priv2, z)),
		DataCommand(redeemRaw),
	)
	require.True(t, unlock.Add(lock).Evaluate(z, nil))

	// A different script with the same length does not hash to the
	// commitment.
	otherRedeem, err := NewMultisig(
		2,
		priv1.PubKey().SerializeCompressed(),
		priv2.PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)
	otherRaw, err := otherRedeem.RawSerialize()
	require.NoError(t, err)
	badUnlock := NewScript(
		OpCommand(OP_0),
		DataCommand(signZ(priv2, z)),
		DataCommand(otherRaw),
	)
	require.False(t, badUnlock.Add(lock).Evaluate(z, nil))
}

func TestEvaluateP2WPKH(t *testing.T) {
	priv := testKey(0x05)
	pub := priv.PubKey().SerializeCompressed()
	z := testZ()
	sig := signZ(priv, z)

	lock := NewP2WPKH(btcutil.Hash160(pub))
	witness := wire.TxWitness{sig, pub}

	require.True(t, lock.Evaluate(z, witness))

	badSig := append([]byte{}, sig...)
	badSig[12] ^= 0x01
	require.False(t, lock.Evaluate(z, wire.TxWitness{badSig, pub}))

	require.False(t, lock.Evaluate(z, nil))
}

func TestEvaluateP2WSHMultisig(t *testing.T) {
	privs := []*btcec.PrivateKey{
		testKey(0x06), testKey(0x07), testKey(0x08),
	}
	z := testZ()

	witnessScript, err := NewMultisig(
		2,
		privs[0].PubKey().SerializeCompressed(),
		privs[1].PubKey().SerializeCompressed(),
		privs[2].PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)
	wsRaw, err := witnessScript.RawSerialize()
	require.NoError(t, err)

	ws := &WitnessScript{Script: *witnessScript}
	lock, err := ws.ToP2WSH()
	require.NoError(t, err)

	// Signatures in the same order as their keys appear in the
	// script, with the leading empty item for the extra pop.
	witness := wire.TxWitness{
		{},
		signZ(privs[0], z),
		signZ(privs[2], z),
		wsRaw,
	}
	require.True(t, lock.Evaluate(z, witness))

	// Signatures out of key order fail.
	reversed := wire.TxWitness{
		{},
		signZ(privs[2], z),
		signZ(privs[0], z),
		wsRaw,
	}
	require.False(t, lock.Evaluate(z, reversed))

	// Too few signatures fail.
	short := wire.TxWitness{{}, signZ(privs[0], z), wsRaw}
	require.False(t, lock.Evaluate(z, short))

	// A witness script that does not hash to the program fails even
	// if it would otherwise verify.
	otherScript, err := NewMultisig(
		1, privs[0].PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)
	otherRaw, err := otherScript.RawSerialize()
	require.NoError(t, err)
	substituted := wire.TxWitness{signZ(privs[0], z), otherRaw}
	require.False(t, lock.Evaluate(z, substituted))
}

func TestEvaluateCommandBudget(t *testing.T) {
	within := make([]Command, 0, maxExecutedCommands)
	within = append(within, OpCommand(OP_1))
	for len(within) < maxExecutedCommands-1 {
		within = append(within, OpCommand(OP_NOP))
	}
	require.True(t, NewScript(within...).Evaluate(nil, nil))

	over := make([]Command, 0, maxExecutedCommands+1)
	over = append(over, OpCommand(OP_1))
	for len(over) < maxExecutedCommands+1 {
		over = append(over, OpCommand(OP_NOP))
	}
	require.False(t, NewScript(over...).Evaluate(nil, nil))
}

func TestEvaluateAltStack(t *testing.T) {
	s := NewScript(
		OpCommand(OP_5), OpCommand(OP_TOALTSTACK),
		OpCommand(OP_2), OpCommand(OP_FROMALTSTACK),
		OpCommand(OP_ADD), OpCommand(OP_7),
		OpCommand(OP_EQUAL),
	)
	require.True(t, s.Evaluate(nil, nil))

	// Pulling from an empty alt stack fails.
	empty := NewScript(OpCommand(OP_FROMALTSTACK))
	require.False(t, empty.Evaluate(nil, nil))
}

func TestEvaluateHashOpcodes(t *testing.T) {
	data := []byte("preimage")
	sum := sha256.Sum256(data)

	s := NewScript(
		DataCommand(data),
		OpCommand(OP_SHA256),
		DataCommand(sum[:]),
		OpCommand(OP_EQUAL),
	)
	require.True(t, s.Evaluate(nil, nil))

	h160 := NewScript(
		DataCommand(data),
		OpCommand(OP_HASH160),
		DataCommand(btcutil.Hash160(data)),
		OpCommand(OP_EQUAL),
	)
	require.True(t, h160.Evaluate(nil, nil))
}
