// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const BIP32_EXTKEY_SIZE = 74
const BIP32_EXTKEY_WITH_VERSION_SIZE = 78

// Bip32Derivation encapsulates the data for the input and output
// Bip32Derivation key-value fields.
type Bip32Derivation struct {
	// PubKey is the raw pubkey serialized in compressed format.
	PubKey []byte

	// MasterKeyFingerprint is the fingerprint of the master pubkey.
	MasterKeyFingerprint uint32

	// Bip32Path is the BIP 32 path with child index as a distinct integer.
	Bip32Path []uint32
}

// checkValid ensures that the PubKey in the Bip32Derivation struct is valid.
func (pb *Bip32Derivation) checkValid() bool {
	return validatePubkey(pb.PubKey)
}

// Bip32Sorter implements sort.Interface for the Bip32Derivation struct.
type Bip32Sorter []*Bip32Derivation

func (s Bip32Sorter) Len() int { return len(s) }

func (s Bip32Sorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s Bip32Sorter) Less(i, j int) bool {
	return bytes.Compare(s[i].PubKey, s[j].PubKey) < 0
}

// combineDerivations unions two derivation lists keyed by pubkey, keeping
// the existing entry on collision.
func combineDerivations(existing,
	other []*Bip32Derivation) []*Bip32Derivation {

	for _, d := range other {
		found := false
		for _, have := range existing {
			if bytes.Equal(have.PubKey, d.PubKey) {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, d)
		}
	}
	return existing
}

// ReadBip32Derivation deserializes a byte slice containing chunks of 4 byte
// little endian encodings of uint32 values, the first of which is the
// masterkeyfingerprint and the remainder of which are the derivation path.
func ReadBip32Derivation(path []byte) (uint32, []uint32, error) {
	// BIP-0174 defines the derivation path being encoded as
	//   "<32-bit uint> <32-bit uint>*"
	// with the asterisk meaning 0 to n times. Which in turn means that an
	// empty path is valid, only the key fingerprint is mandatory.
	if len(path)%4 != 0 {
		return 0, nil, ErrInvalidPsbtFormat
	}

	masterKeyInt := binary.LittleEndian.Uint32(path[:4])

	var paths []uint32
	for i := 4; i < len(path); i += 4 {
		paths = append(paths, binary.LittleEndian.Uint32(path[i:i+4]))
	}

	return masterKeyInt, paths, nil
}

// SerializeBIP32Derivation takes a master key fingerprint as defined in BIP32,
// along with a path specified as a list of uint32 values, and returns a
// bytestring specifying the derivation in the format required by BIP174: //
// master key fingerprint (4) || child index (4) || child index (4) || ....
func SerializeBIP32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32) []byte {

	var masterKeyBytes [4]byte
	binary.LittleEndian.PutUint32(masterKeyBytes[:], masterKeyFingerprint)

	derivationPath := make([]byte, 0, 4+4*len(bip32Path))
	derivationPath = append(derivationPath, masterKeyBytes[:]...)
	for _, path := range bip32Path {
		var pathbytes [4]byte
		binary.LittleEndian.PutUint32(pathbytes[:], path)
		derivationPath = append(derivationPath, pathbytes[:]...)
	}

	return derivationPath
}

// Parses 78 byte BIP32 Extended key with version bytes.
// Similar to hdkeychain.NewKeyFromString, except without the checksum, and
// using raw bytes instead of base58.
func readExtendedKey(payload []byte) (*hdkeychain.ExtendedKey, error) {
	if len(payload) != BIP32_EXTKEY_WITH_VERSION_SIZE {
		return nil, fmt.Errorf("invalid xpub length: %d", len(payload))
	}

	// Deserialize each of the payload fields.
	version := payload[:4]
	depth := payload[4:5][0]
	parentFP := payload[5:9]
	childNum := binary.BigEndian.Uint32(payload[9:13])
	chainCode := payload[13:45]
	keyData := payload[45:78]

	// The key data is a private key if it starts with 0x00.  Serialized
	// compressed pubkeys either start with 0x02 or 0x03.
	isPrivate := keyData[0] == 0x00
	if isPrivate {
		// Ensure the private key is valid.  It must be within the range
		// of the order of the secp256k1 curve and not be 0.
		keyData = keyData[1:]
		keyNum := new(big.Int).SetBytes(keyData)
		if keyNum.Cmp(btcec.S256().N) >= 0 || keyNum.Sign() == 0 {
			return nil, hdkeychain.ErrUnusableSeed
		}
	} else {
		// Ensure the public key parses correctly and is actually on the
		// secp256k1 curve.
		_, err := btcec.ParsePubKey(keyData)
		if err != nil {
			return nil, err
		}
	}

	return hdkeychain.NewExtendedKey(
		version, keyData, chainCode, parentFP, depth, childNum,
		isPrivate,
	), nil
}

// Writes the 78 byte BIP32 Extended key with version bytes. No checksum
// is included.
func writeExtendedKey(extKey *hdkeychain.ExtendedKey) []byte {
	return base58.Decode(extKey.String())[0:BIP32_EXTKEY_WITH_VERSION_SIZE]
}

// Xpub is a global entry registering an extended public key together
// with the master fingerprint and path it was derived at. Registered
// xpubs are the trust anchors for per-input and per-output derivations:
// a derivation claiming descent from an xpub can be verified by
// re-deriving the claimed path suffix.
type Xpub struct {
	// ExtendedKey is the neutered extended key.
	ExtendedKey *hdkeychain.ExtendedKey

	// MasterKeyFingerprint is the fingerprint of the master pubkey.
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path of the extended key itself,
	// with child index as a distinct integer.
	Bip32Path []uint32
}

// NewXpub builds an Xpub entry from an extended key. Private extended
// keys are neutered; the packet never carries private material.
func NewXpub(extKey *hdkeychain.ExtendedKey, masterKeyFingerprint uint32,
	bip32Path []uint32) (*Xpub, error) {

	if extKey.IsPrivate() {
		var err error
		extKey, err = extKey.Neuter()
		if err != nil {
			return nil, err
		}
	}

	return &Xpub{
		ExtendedKey:          extKey,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	}, nil
}

// NewXpubFromHDPriv derives the given path from a master private key
// and registers the resulting key, computing the master fingerprint
// along the way. The registered key is neutered.
func NewXpubFromHDPriv(master *hdkeychain.ExtendedKey,
	path []uint32) (*Xpub, error) {

	fingerprint, err := MasterFingerprint(master)
	if err != nil {
		return nil, err
	}

	key := master
	for _, child := range path {
		key, err = key.Derive(child)
		if err != nil {
			return nil, err
		}
	}
	return NewXpub(key, fingerprint, path)
}

// MasterFingerprint computes the BIP32 fingerprint of an extended key,
// the first four bytes of the hash160 of the compressed pubkey, as a
// little-endian uint32 matching the derivation field encoding.
func MasterFingerprint(extKey *hdkeychain.ExtendedKey) (uint32, error) {
	pubKey, err := extKey.ECPubKey()
	if err != nil {
		return 0, err
	}
	h160 := btcutil.Hash160(pubKey.SerializeCompressed())
	return binary.LittleEndian.Uint32(h160[:4]), nil
}

// ReadXpub deserializes a global xpub entry. The key data is the raw 78
// byte extended key and the value is a fingerprint and path in the
// derivation field encoding.
func ReadXpub(keyData, valueData []byte) (*Xpub, error) {
	if len(keyData) != BIP32_EXTKEY_WITH_VERSION_SIZE {
		return nil, ErrInvalidKeyData
	}
	extKey, err := readExtendedKey(keyData)
	if err != nil {
		return nil, err
	}
	if extKey.IsPrivate() {
		return nil, ErrInvalidKeyData
	}

	// The value must contain at least the fingerprint.
	if len(valueData) < 4 {
		return nil, ErrInvalidPsbtFormat
	}
	master, path, err := ReadBip32Derivation(valueData)
	if err != nil {
		return nil, err
	}

	return &Xpub{
		ExtendedKey:          extKey,
		MasterKeyFingerprint: master,
		Bip32Path:            path,
	}, nil
}

// serialize returns the key data and value of the global xpub entry.
func (x *Xpub) serialize() ([]byte, []byte, error) {
	keyData := writeExtendedKey(x.ExtendedKey)
	if len(keyData) != BIP32_EXTKEY_WITH_VERSION_SIZE {
		return nil, nil, ErrInvalidKeyData
	}
	value := SerializeBIP32Derivation(x.MasterKeyFingerprint, x.Bip32Path)
	return keyData, value, nil
}

// IsAncestor reports whether the derivation claims descent from this
// xpub: same master fingerprint and a path extending the xpub's own
// path.
func (x *Xpub) IsAncestor(d *Bip32Derivation) bool {
	if d.MasterKeyFingerprint != x.MasterKeyFingerprint {
		return false
	}
	if len(d.Bip32Path) < len(x.Bip32Path) {
		return false
	}
	for i, child := range x.Bip32Path {
		if d.Bip32Path[i] != child {
			return false
		}
	}
	return true
}

// VerifyDescendant re-derives the path suffix the derivation claims
// beyond this xpub and checks the resulting pubkey. This is the only
// trust check the packet model offers for derivations; a derivation
// that passes is provably reachable from the registered key.
func (x *Xpub) VerifyDescendant(d *Bip32Derivation) error {
	if !x.IsAncestor(d) {
		return ErrUntrustedXpub
	}

	key := x.ExtendedKey
	for _, child := range d.Bip32Path[len(x.Bip32Path):] {
		var err error
		key, err = key.Derive(child)
		if err != nil {
			return err
		}
	}
	pubKey, err := key.ECPubKey()
	if err != nil {
		return err
	}
	if !bytes.Equal(pubKey.SerializeCompressed(), d.PubKey) {
		return ErrUntrustedXpub
	}
	return nil
}

// Bip44Lookup derives the first count children of the external and
// change branches under this xpub and returns their derivation records
// keyed for Update. The xpub must sit at an account level whose branch
// and address children are non-hardened.
func (x *Xpub) Bip44Lookup(count uint32) (map[string]*Bip32Derivation, error) {
	derivations := make([]*Bip32Derivation, 0, count*2)
	for branch := uint32(0); branch < 2; branch++ {
		branchKey, err := x.ExtendedKey.Derive(branch)
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			child, err := branchKey.Derive(i)
			if err != nil {
				return nil, err
			}
			pubKey, err := child.ECPubKey()
			if err != nil {
				return nil, err
			}

			path := make([]uint32, 0, len(x.Bip32Path)+2)
			path = append(path, x.Bip32Path...)
			path = append(path, branch, i)

			derivations = append(derivations, &Bip32Derivation{
				PubKey:               pubKey.SerializeCompressed(),
				MasterKeyFingerprint: x.MasterKeyFingerprint,
				Bip32Path:            path,
			})
		}
	}
	return PubkeyLookup(derivations...), nil
}

// XpubSorter implements sort.Interface for Xpub entries by their raw
// serialized key.
type XpubSorter []*Xpub

func (s XpubSorter) Len() int { return len(s) }

func (s XpubSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s XpubSorter) Less(i, j int) bool {
	return bytes.Compare(
		writeExtendedKey(s[i].ExtendedKey),
		writeExtendedKey(s[j].ExtendedKey),
	) < 0
}
