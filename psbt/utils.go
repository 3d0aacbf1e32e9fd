// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// inputErr wraps an error with the index of the input it concerns.
func inputErr(idx int, err error) error {
	return fmt.Errorf("input %d: %w", idx, err)
}

// outputErr wraps an error with the index of the output it concerns.
func outputErr(idx int, err error) error {
	return fmt.Errorf("output %d: %w", idx, err)
}

// keySet tracks the keys seen within one key-value map so duplicates can
// be rejected during deserialization.
type keySet struct {
	keys map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{keys: make(map[string]struct{})}
}

// addKey records a key and reports whether it was new. The full key,
// type tag plus key data, identifies an entry.
func (s *keySet) addKey(keyType uint8, keyData []byte) bool {
	key := string(append([]byte{keyType}, keyData...))
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// kvPair is one deserialized key-value entry. The key's first byte is
// the type tag; any remaining key bytes are keyData.
type kvPair struct {
	keyType   uint8
	keyData   []byte
	valueData []byte
}

// getKVPair reads a key-value pair from r. A nil pair with nil error
// signals the 0x00 separator that ends the current map.
func getKVPair(r io.Reader) (*kvPair, error) {
	keyLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if keyLen == 0 {
		return nil, nil
	}
	if keyLen > MaxPsbtKeyLength {
		return nil, ErrInvalidKeyData
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	value, err := wire.ReadVarBytes(r, 0, MaxPsbtValueLength, "value")
	if err != nil {
		return nil, err
	}

	pair := &kvPair{
		keyType:   key[0],
		valueData: value,
	}
	if keyLen > 1 {
		pair.keyData = key[1:]
	}
	return pair, nil
}

// serializeKVpair writes out the kv pair using a varstr for each.
func serializeKVpair(w io.Writer, key []byte, value []byte) error {
	if err := wire.WriteVarBytes(w, 0, key); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, 0, value)
}

// serializeKVPairWithType writes out an entry that includes a type tag
// as the first byte of the key.
func serializeKVPairWithType(w io.Writer, kt uint8, keyData []byte,
	value []byte) error {

	serializedKey := append([]byte{kt}, keyData...)
	return serializeKVpair(w, serializedKey, value)
}

// readTxOut decodes a wire transaction output from the value of a
// witness utxo entry: an 8 byte little-endian amount followed by a
// varstr script.
func readTxOut(txout []byte) (*wire.TxOut, error) {
	if len(txout) < 10 {
		return nil, ErrInvalidPsbtFormat
	}

	valueSer := binary.LittleEndian.Uint64(txout[:8])
	scriptPubKey, err := wire.ReadVarBytes(
		bytes.NewReader(txout[8:]), 0, MaxPsbtValueLength, "pkScript",
	)
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	return wire.NewTxOut(int64(valueSer), scriptPubKey), nil
}

// validatePubkey checks if pubKey is *any* valid pubKey serialization in
// a Bitcoin context (compressed/uncompressed).
func validatePubkey(pubKey []byte) bool {
	_, err := btcec.ParsePubKey(pubKey)
	return err == nil
}

// serializeTxWitness encodes a witness stack the way it is stored inside
// a PSBT: a varint item count followed by varstr items.
func serializeTxWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	err := wire.WriteVarInt(&buf, 0, uint64(len(witness)))
	if err != nil {
		return nil, err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// deserializeTxWitness decodes a witness stack from its PSBT encoding.
func deserializeTxWitness(raw []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(raw)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > MaxPsbtValueLength {
		return nil, ErrInvalidPsbtFormat
	}

	witness := make(wire.TxWitness, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(
			r, 0, MaxPsbtValueLength, "witness item",
		)
		if err != nil {
			return nil, err
		}
		witness[i] = item
	}
	if r.Len() != 0 {
		return nil, ErrInvalidPsbtFormat
	}
	return witness, nil
}

// VerifyInputOutputLen does a sanity check on the underlying tx to
// ensure there's at least one input and output, and that the per-input
// and per-output records line up with the transaction.
func VerifyInputOutputLen(packet *Packet, needInputs, needOutputs bool) error {
	if packet == nil || packet.UnsignedTx == nil {
		return ErrInvalidPsbtFormat
	}

	if len(packet.UnsignedTx.TxIn) != len(packet.Inputs) {
		return ErrInconsistentPacket
	}
	if len(packet.UnsignedTx.TxOut) != len(packet.Outputs) {
		return ErrInconsistentPacket
	}

	if needInputs && len(packet.UnsignedTx.TxIn) == 0 {
		return ErrInconsistentPacket
	}
	if needOutputs && len(packet.UnsignedTx.TxOut) == 0 {
		return ErrInconsistentPacket
	}

	return nil
}

// SumUtxoInputValues tries to extract the sum of all inputs specified in
// the UTXO fields of the PSBT. An error is returned if an input has
// neither a witness nor a non-witness UTXO record.
func SumUtxoInputValues(packet *Packet) (int64, error) {
	if err := VerifyInputOutputLen(packet, false, false); err != nil {
		return 0, err
	}

	inputSum := int64(0)
	for idx, in := range packet.Inputs {
		switch {
		case in.WitnessUtxo != nil:
			// Witness UTXOs only need to reference the TxOut.
			inputSum += in.WitnessUtxo.Value

		case in.NonWitnessUtxo != nil:
			// Non-witness UTXOs reference to the whole transaction
			// the UTXO resides in.
			utxOuts := in.NonWitnessUtxo.TxOut
			txIn := packet.UnsignedTx.TxIn[idx]
			opIdx := txIn.PreviousOutPoint.Index
			if opIdx >= uint32(len(utxOuts)) {
				return 0, ErrInconsistentPacket
			}
			inputSum += utxOuts[opIdx].Value

		default:
			return 0, ErrMissingInputUtxo
		}
	}
	return inputSum, nil
}
