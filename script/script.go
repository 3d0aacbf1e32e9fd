// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package script models bitcoin locking and unlocking programs as parsed
// command sequences and evaluates them with a work-queue machine that
// supports pay-to-script-hash and version 0 witness program expansion.
package script

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// MaxElementSize is the largest data push a script may carry. Larger
// elements cannot be serialized and fail parsing.
const MaxElementSize = 520

var (
	// ErrScriptFormat is returned when raw script bytes cannot be
	// decoded into commands, or when a command sequence cannot be
	// encoded back to bytes.
	ErrScriptFormat = errors.New("invalid script format")

	// ErrElementTooBig is returned when a data push exceeds
	// MaxElementSize.
	ErrElementTooBig = errors.New("script element exceeds 520 bytes")
)

// Command is one unit of a parsed script, either an opcode or a data
// push. The two cases are distinguished by IsData rather than by byte
// value so that an element that happens to collide with an opcode number
// is never misread.
type Command struct {
	// Op is the opcode value. Only meaningful when IsData is false.
	Op byte

	// Data is the pushed element. Only meaningful when IsData is true.
	Data []byte

	// IsData reports which arm of the union is populated.
	IsData bool
}

// OpCommand returns an opcode command.
func OpCommand(op byte) Command {
	return Command{Op: op}
}

// DataCommand returns a data push command.
func DataCommand(data []byte) Command {
	return Command{Data: data, IsData: true}
}

// String returns the disassembly of a single command.
func (c Command) String() string {
	if c.IsData {
		return hex.EncodeToString(c.Data)
	}
	return OpcodeName(c.Op)
}

// Script is a parsed command sequence. The zero value is the empty
// script.
type Script struct {
	Commands []Command
}

// NewScript returns a script over the given commands.
func NewScript(commands ...Command) *Script {
	return &Script{Commands: commands}
}

// Parse reads a length-prefixed script from r. The prefix is a bitcoin
// varint counting the raw bytes that follow; the raw bytes must decode
// into commands exactly, with no spare or missing bytes.
func Parse(r io.Reader) (*Script, error) {
	length, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptFormat, err)
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptFormat, err)
	}
	return ParseRaw(raw)
}

// ParseRaw decodes unprefixed script bytes into commands. Byte values
// 1-75 push that many of the following bytes, OP_PUSHDATA1 and
// OP_PUSHDATA2 carry explicit one and two byte little-endian lengths,
// and every other value is an opcode. The input must be consumed
// exactly.
func ParseRaw(raw []byte) (*Script, error) {
	var commands []Command
	i := 0
	for i < len(raw) {
		current := raw[i]
		i++
		switch {
		case current >= 1 && current <= 75:
			n := int(current)
			if i+n > len(raw) {
				return nil, fmt.Errorf("%w: push of %d bytes "+
					"overruns script", ErrScriptFormat, n)
			}
			commands = append(commands, DataCommand(raw[i:i+n]))
			i += n

		case current == OP_PUSHDATA1:
			if i+1 > len(raw) {
				return nil, fmt.Errorf("%w: truncated pushdata1",
					ErrScriptFormat)
			}
			n := int(raw[i])
			i++
			if i+n > len(raw) {
				return nil, fmt.Errorf("%w: pushdata1 of %d "+
					"bytes overruns script", ErrScriptFormat, n)
			}
			commands = append(commands, DataCommand(raw[i:i+n]))
			i += n

		case current == OP_PUSHDATA2:
			if i+2 > len(raw) {
				return nil, fmt.Errorf("%w: truncated pushdata2",
					ErrScriptFormat)
			}
			n := int(binary.LittleEndian.Uint16(raw[i : i+2]))
			i += 2
			if n > MaxElementSize {
				return nil, ErrElementTooBig
			}
			if i+n > len(raw) {
				return nil, fmt.Errorf("%w: pushdata2 of %d "+
					"bytes overruns script", ErrScriptFormat, n)
			}
			commands = append(commands, DataCommand(raw[i:i+n]))
			i += n

		default:
			commands = append(commands, OpCommand(current))
		}
	}
	return &Script{Commands: commands}, nil
}

// RawSerialize encodes the commands without a length prefix. Data pushes
// choose the shortest push encoding for their size and elements over
// MaxElementSize are rejected.
func (s *Script) RawSerialize() ([]byte, error) {
	var buf bytes.Buffer
	for _, cmd := range s.Commands {
		if !cmd.IsData {
			buf.WriteByte(cmd.Op)
			continue
		}
		length := len(cmd.Data)
		switch {
		case length <= 75:
			buf.WriteByte(byte(length))
		case length <= 255:
			buf.WriteByte(OP_PUSHDATA1)
			buf.WriteByte(byte(length))
		case length <= MaxElementSize:
			buf.WriteByte(OP_PUSHDATA2)
			var lenBytes [2]byte
			binary.LittleEndian.PutUint16(lenBytes[:], uint16(length))
			buf.Write(lenBytes[:])
		default:
			return nil, ErrElementTooBig
		}
		buf.Write(cmd.Data)
	}
	return buf.Bytes(), nil
}

// Serialize encodes the commands with a varint length prefix, the form
// scripts take inside transactions.
func (s *Script) Serialize() ([]byte, error) {
	raw, err := s.RawSerialize()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := wire.WriteVarBytes(&buf, 0, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String returns the disassembly of the script.
func (s *Script) String() string {
	parts := make([]string, len(s.Commands))
	for i, cmd := range s.Commands {
		parts[i] = cmd.String()
	}
	return strings.Join(parts, " ")
}

// Add returns a new script with the other script's commands appended.
// Unlocking scripts are combined with locking scripts this way before
// evaluation.
func (s *Script) Add(other *Script) *Script {
	commands := make([]Command, 0, len(s.Commands)+len(other.Commands))
	commands = append(commands, s.Commands...)
	commands = append(commands, other.Commands...)
	return &Script{Commands: commands}
}

// IsP2PKH reports whether the script has the exact
// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG form.
func (s *Script) IsP2PKH() bool {
	c := s.Commands
	return len(c) == 5 &&
		!c[0].IsData && c[0].Op == OP_DUP &&
		!c[1].IsData && c[1].Op == OP_HASH160 &&
		c[2].IsData && len(c[2].Data) == 20 &&
		!c[3].IsData && c[3].Op == OP_EQUALVERIFY &&
		!c[4].IsData && c[4].Op == OP_CHECKSIG
}

// IsP2SH reports whether the script has the exact
// OP_HASH160 <20 bytes> OP_EQUAL form.
func (s *Script) IsP2SH() bool {
	c := s.Commands
	return len(c) == 3 &&
		!c[0].IsData && c[0].Op == OP_HASH160 &&
		c[1].IsData && len(c[1].Data) == 20 &&
		!c[2].IsData && c[2].Op == OP_EQUAL
}

// IsP2WPKH reports whether the script is a version 0 witness program
// over a 20 byte key hash.
func (s *Script) IsP2WPKH() bool {
	c := s.Commands
	return len(c) == 2 &&
		!c[0].IsData && c[0].Op == OP_0 &&
		c[1].IsData && len(c[1].Data) == 20
}

// IsP2WSH reports whether the script is a version 0 witness program
// over a 32 byte script hash.
func (s *Script) IsP2WSH() bool {
	c := s.Commands
	return len(c) == 2 &&
		!c[0].IsData && c[0].Op == OP_0 &&
		c[1].IsData && len(c[1].Data) == 32
}

// IsWitness reports whether the script is a known witness program and
// returns its version and program bytes when it is.
func (s *Script) IsWitness() (bool, byte, []byte) {
	if s.IsP2WPKH() || s.IsP2WSH() {
		return true, 0, s.Commands[1].Data
	}
	return false, 0, nil
}

// NewP2PKH returns the standard pay-to-pubkey-hash locking script for a
// 20 byte hash160.
func NewP2PKH(h160 []byte) *Script {
	return NewScript(
		OpCommand(OP_DUP),
		OpCommand(OP_HASH160),
		DataCommand(h160),
		OpCommand(OP_EQUALVERIFY),
		OpCommand(OP_CHECKSIG),
	)
}

// NewP2SH returns the standard pay-to-script-hash locking script for a
// 20 byte hash160.
func NewP2SH(h160 []byte) *Script {
	return NewScript(
		OpCommand(OP_HASH160),
		DataCommand(h160),
		OpCommand(OP_EQUAL),
	)
}

// NewP2WPKH returns the version 0 witness program for a 20 byte key
// hash.
func NewP2WPKH(h160 []byte) *Script {
	return NewScript(OpCommand(OP_0), DataCommand(h160))
}

// NewP2WSH returns the version 0 witness program for a 32 byte script
// hash.
func NewP2WSH(sha []byte) *Script {
	return NewScript(OpCommand(OP_0), DataCommand(sha))
}

// NewMultisig returns an m-of-n bare multisig script over the given SEC
// encoded pubkeys.
func NewMultisig(m int, secPubKeys ...[]byte) (*Script, error) {
	mOp, err := NumberToOpCode(m)
	if err != nil {
		return nil, err
	}
	nOp, err := NumberToOpCode(len(secPubKeys))
	if err != nil {
		return nil, err
	}
	commands := make([]Command, 0, len(secPubKeys)+3)
	commands = append(commands, OpCommand(mOp))
	for _, sec := range secPubKeys {
		commands = append(commands, DataCommand(sec))
	}
	commands = append(commands, OpCommand(nOp), OpCommand(OP_CHECKMULTISIG))
	return &Script{Commands: commands}, nil
}

// Address renders the script as an address for the given network. Only
// the four standard shapes have addresses.
func (s *Script) Address(params *chaincfg.Params) (btcutil.Address, error) {
	switch {
	case s.IsP2PKH():
		return btcutil.NewAddressPubKeyHash(s.Commands[2].Data, params)
	case s.IsP2SH():
		return btcutil.NewAddressScriptHashFromHash(
			s.Commands[1].Data, params,
		)
	case s.IsP2WPKH():
		return btcutil.NewAddressWitnessPubKeyHash(
			s.Commands[1].Data, params,
		)
	case s.IsP2WSH():
		return btcutil.NewAddressWitnessScriptHash(
			s.Commands[1].Data, params,
		)
	}
	return nil, fmt.Errorf("%w: no address form for %q",
		ErrScriptFormat, s.String())
}

// P2SHAddress renders the address of a pay-to-script-hash output
// committing to this script. Used for the wrapped segwit forms, where
// the witness program is itself hidden behind a script hash.
func (s *Script) P2SHAddress(params *chaincfg.Params) (btcutil.Address, error) {
	raw, err := s.RawSerialize()
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressScriptHash(raw, params)
}

// RedeemScript is a script committed to by a pay-to-script-hash output.
// It is a distinct type so signing and finalizing code cannot confuse
// the inner script with the outer locking script.
type RedeemScript struct {
	Script
}

// NewRedeemScript parses unprefixed script bytes as a redeem script.
func NewRedeemScript(raw []byte) (*RedeemScript, error) {
	s, err := ParseRaw(raw)
	if err != nil {
		return nil, err
	}
	return &RedeemScript{Script: *s}, nil
}

// Hash160 returns the script hash a P2SH output commits to.
func (rs *RedeemScript) Hash160() ([]byte, error) {
	raw, err := rs.RawSerialize()
	if err != nil {
		return nil, err
	}
	return btcutil.Hash160(raw), nil
}

// ToP2SH returns the locking script paying to this redeem script.
func (rs *RedeemScript) ToP2SH() (*Script, error) {
	h160, err := rs.Hash160()
	if err != nil {
		return nil, err
	}
	return NewP2SH(h160), nil
}

// WitnessScript is a script committed to by a version 0 pay-to-witness-
// script-hash output.
type WitnessScript struct {
	Script
}

// NewWitnessScript parses unprefixed script bytes as a witness script.
func NewWitnessScript(raw []byte) (*WitnessScript, error) {
	s, err := ParseRaw(raw)
	if err != nil {
		return nil, err
	}
	return &WitnessScript{Script: *s}, nil
}

// SHA256 returns the hash a P2WSH output commits to.
func (ws *WitnessScript) SHA256() ([]byte, error) {
	raw, err := ws.RawSerialize()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// ToP2WSH returns the witness program paying to this witness script.
func (ws *WitnessScript) ToP2WSH() (*Script, error) {
	sha, err := ws.SHA256()
	if err != nil {
		return nil, err
	}
	return NewP2WSH(sha), nil
}
