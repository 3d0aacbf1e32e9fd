// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package script

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160"
)

// These constants are the values of the official opcodes used on the btc wiki,
// in bitcoin core and in most if not all other references and software related
// to handling BTC scripts. Only the opcodes the evaluation engine dispatches
// on are listed; push opcodes 0x01-0x4b are handled by the parser directly.
const (
	OP_0                   = 0x00 // 0
	OP_PUSHDATA1           = 0x4c // 76
	OP_PUSHDATA2           = 0x4d // 77
	OP_1NEGATE             = 0x4f // 79
	OP_1                   = 0x51 // 81
	OP_2                   = 0x52 // 82
	OP_3                   = 0x53 // 83
	OP_4                   = 0x54 // 84
	OP_5                   = 0x55 // 85
	OP_6                   = 0x56 // 86
	OP_7                   = 0x57 // 87
	OP_8                   = 0x58 // 88
	OP_9                   = 0x59 // 89
	OP_10                  = 0x5a // 90
	OP_11                  = 0x5b // 91
	OP_12                  = 0x5c // 92
	OP_13                  = 0x5d // 93
	OP_14                  = 0x5e // 94
	OP_15                  = 0x5f // 95
	OP_16                  = 0x60 // 96
	OP_NOP                 = 0x61 // 97
	OP_IF                  = 0x63 // 99
	OP_NOTIF               = 0x64 // 100
	OP_ELSE                = 0x67 // 103
	OP_ENDIF               = 0x68 // 104
	OP_VERIFY              = 0x69 // 105
	OP_RETURN              = 0x6a // 106
	OP_TOALTSTACK          = 0x6b // 107
	OP_FROMALTSTACK        = 0x6c // 108
	OP_2DROP               = 0x6d // 109
	OP_2DUP                = 0x6e // 110
	OP_3DUP                = 0x6f // 111
	OP_2OVER               = 0x70 // 112
	OP_2ROT                = 0x71 // 113
	OP_2SWAP               = 0x72 // 114
	OP_IFDUP               = 0x73 // 115
	OP_DEPTH               = 0x74 // 116
	OP_DROP                = 0x75 // 117
	OP_DUP                 = 0x76 // 118
	OP_NIP                 = 0x77 // 119
	OP_OVER                = 0x78 // 120
	OP_PICK                = 0x79 // 121
	OP_ROLL                = 0x7a // 122
	OP_ROT                 = 0x7b // 123
	OP_SWAP                = 0x7c // 124
	OP_TUCK                = 0x7d // 125
	OP_SIZE                = 0x82 // 130
	OP_EQUAL               = 0x87 // 135
	OP_EQUALVERIFY         = 0x88 // 136
	OP_1ADD                = 0x8b // 139
	OP_1SUB                = 0x8c // 140
	OP_NEGATE              = 0x8f // 143
	OP_ABS                 = 0x90 // 144
	OP_NOT                 = 0x91 // 145
	OP_0NOTEQUAL           = 0x92 // 146
	OP_ADD                 = 0x93 // 147
	OP_SUB                 = 0x94 // 148
	OP_BOOLAND             = 0x9a // 154
	OP_BOOLOR              = 0x9b // 155
	OP_NUMEQUAL            = 0x9c // 156
	OP_NUMEQUALVERIFY      = 0x9d // 157
	OP_NUMNOTEQUAL         = 0x9e // 158
	OP_LESSTHAN            = 0x9f // 159
	OP_GREATERTHAN         = 0xa0 // 160
	OP_LESSTHANOREQUAL     = 0xa1 // 161
	OP_GREATERTHANOREQUAL  = 0xa2 // 162
	OP_MIN                 = 0xa3 // 163
	OP_MAX                 = 0xa4 // 164
	OP_WITHIN              = 0xa5 // 165
	OP_RIPEMD160           = 0xa6 // 166
	OP_SHA1                = 0xa7 // 167
	OP_SHA256              = 0xa8 // 168
	OP_HASH160             = 0xa9 // 169
	OP_HASH256             = 0xaa // 170
	OP_CHECKSIG            = 0xac // 172
	OP_CHECKSIGVERIFY      = 0xad // 173
	OP_CHECKMULTISIG       = 0xae // 174
	OP_CHECKMULTISIGVERIFY = 0xaf // 175
	OP_NOP1                = 0xb0 // 176
	OP_CHECKLOCKTIMEVERIFY = 0xb1 // 177
	OP_CHECKSEQUENCEVERIFY = 0xb2 // 178
	OP_NOP10               = 0xb9 // 185
)

// opcodeNames is used for disassembly in String and in trace logs when an
// operation rejects the stack.
var opcodeNames = map[byte]string{
	0x00: "OP_0",
	0x4c: "OP_PUSHDATA1",
	0x4d: "OP_PUSHDATA2",
	0x4f: "OP_1NEGATE",
	0x51: "OP_1",
	0x52: "OP_2",
	0x53: "OP_3",
	0x54: "OP_4",
	0x55: "OP_5",
	0x56: "OP_6",
	0x57: "OP_7",
	0x58: "OP_8",
	0x59: "OP_9",
	0x5a: "OP_10",
	0x5b: "OP_11",
	0x5c: "OP_12",
	0x5d: "OP_13",
	0x5e: "OP_14",
	0x5f: "OP_15",
	0x60: "OP_16",
	0x61: "OP_NOP",
	0x63: "OP_IF",
	0x64: "OP_NOTIF",
	0x67: "OP_ELSE",
	0x68: "OP_ENDIF",
	0x69: "OP_VERIFY",
	0x6a: "OP_RETURN",
	0x6b: "OP_TOALTSTACK",
	0x6c: "OP_FROMALTSTACK",
	0x6d: "OP_2DROP",
	0x6e: "OP_2DUP",
	0x6f: "OP_3DUP",
	0x70: "OP_2OVER",
	0x71: "OP_2ROT",
	0x72: "OP_2SWAP",
	0x73: "OP_IFDUP",
	0x74: "OP_DEPTH",
	0x75: "OP_DROP",
	0x76: "OP_DUP",
	0x77: "OP_NIP",
	0x78: "OP_OVER",
	0x79: "OP_PICK",
	0x7a: "OP_ROLL",
	0x7b: "OP_ROT",
	0x7c: "OP_SWAP",
	0x7d: "OP_TUCK",
	0x82: "OP_SIZE",
	0x87: "OP_EQUAL",
	0x88: "OP_EQUALVERIFY",
	0x8b: "OP_1ADD",
	0x8c: "OP_1SUB",
	0x8f: "OP_NEGATE",
	0x90: "OP_ABS",
	0x91: "OP_NOT",
	0x92: "OP_0NOTEQUAL",
	0x93: "OP_ADD",
	0x94: "OP_SUB",
	0x9a: "OP_BOOLAND",
	0x9b: "OP_BOOLOR",
	0x9c: "OP_NUMEQUAL",
	0x9d: "OP_NUMEQUALVERIFY",
	0x9e: "OP_NUMNOTEQUAL",
	0x9f: "OP_LESSTHAN",
	0xa0: "OP_GREATERTHAN",
	0xa1: "OP_LESSTHANOREQUAL",
	0xa2: "OP_GREATERTHANOREQUAL",
	0xa3: "OP_MIN",
	0xa4: "OP_MAX",
	0xa5: "OP_WITHIN",
	0xa6: "OP_RIPEMD160",
	0xa7: "OP_SHA1",
	0xa8: "OP_SHA256",
	0xa9: "OP_HASH160",
	0xaa: "OP_HASH256",
	0xac: "OP_CHECKSIG",
	0xad: "OP_CHECKSIGVERIFY",
	0xae: "OP_CHECKMULTISIG",
	0xaf: "OP_CHECKMULTISIGVERIFY",
	0xb0: "OP_NOP1",
	0xb1: "OP_CHECKLOCKTIMEVERIFY",
	0xb2: "OP_CHECKSEQUENCEVERIFY",
	0xb3: "OP_NOP4",
	0xb4: "OP_NOP5",
	0xb5: "OP_NOP6",
	0xb6: "OP_NOP7",
	0xb7: "OP_NOP8",
	0xb8: "OP_NOP9",
	0xb9: "OP_NOP10",
}

// OpcodeName returns the human readable name for the passed opcode, or an
// OP_UNKNOWN representation if the opcode has no assigned name.
func OpcodeName(op byte) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OP_UNKNOWN_0x%02x", op)
}

// OpCodeToNumber converts a small-integer opcode command (OP_0, OP_1-OP_16)
// to the number it pushes. It is used to read the signature threshold off
// the front of a multisig redeem or witness script.
func OpCodeToNumber(c Command) (int, error) {
	switch {
	case c.IsData:
		return 0, fmt.Errorf("%w: data push is not a small integer",
			ErrScriptFormat)
	case c.Op == OP_0:
		return 0, nil
	case c.Op >= OP_1 && c.Op <= OP_16:
		return int(c.Op) - 0x50, nil
	}
	return 0, fmt.Errorf("%w: %s is not a small integer opcode",
		ErrScriptFormat, OpcodeName(c.Op))
}

// NumberToOpCode is the inverse of OpCodeToNumber for 0-16.
func NumberToOpCode(n int) (byte, error) {
	switch {
	case n == 0:
		return OP_0, nil
	case n >= 1 && n <= 16:
		return byte(0x50 + n), nil
	}
	return 0, fmt.Errorf("%w: %d has no small integer opcode",
		ErrScriptFormat, n)
}

// encodeNum serializes an integer in the minimal little-endian
// sign-and-magnitude form the script machine uses. Zero encodes to the
// empty element.
func encodeNum(n int64) []byte {
	if n == 0 {
		return nil
	}
	abs := n
	negative := n < 0
	if negative {
		abs = -n
	}
	var result []byte
	for abs > 0 {
		result = append(result, byte(abs&0xff))
		abs >>= 8
	}
	if result[len(result)-1]&0x80 != 0 {
		if negative {
			result = append(result, 0x80)
		} else {
			result = append(result, 0x00)
		}
	} else if negative {
		result[len(result)-1] |= 0x80
	}
	return result
}

// decodeNum is the inverse of encodeNum.
func decodeNum(element []byte) int64 {
	if len(element) == 0 {
		return 0
	}
	var num int64
	top := element[len(element)-1]
	negative := top&0x80 != 0
	if negative {
		num = int64(top & 0x7f)
	} else {
		num = int64(top)
	}
	for i := len(element) - 2; i >= 0; i-- {
		num <<= 8
		num += int64(element[i])
	}
	if negative {
		return -num
	}
	return num
}

// The op* functions below implement individual opcodes against the engine
// state. Each returns false to abort evaluation with an overall false
// result; this is the ordinary outcome for an unsatisfied condition, not a
// fault.

func opSmallInt(n int64) func(*engine) bool {
	return func(vm *engine) bool {
		vm.push(encodeNum(n))
		return true
	}
}

func opNop(vm *engine) bool {
	return true
}

// opIf rewrites the work queue so that only the taken branch remains,
// honoring nested OP_IF/OP_NOTIF pairs. The condition is popped from the
// main stack.
func opIf(vm *engine) bool {
	return opBranch(vm, false)
}

func opNotIf(vm *engine) bool {
	return opBranch(vm, true)
}

func opBranch(vm *engine, negate bool) bool {
	if len(vm.stack) < 1 {
		return false
	}

	var trueCmds, falseCmds []Command
	current := &trueCmds
	found := false
	endifsNeeded := 1
	for len(vm.queue) > 0 {
		cmd := vm.queue[0]
		vm.queue = vm.queue[1:]
		switch {
		case !cmd.IsData && (cmd.Op == OP_IF || cmd.Op == OP_NOTIF):
			endifsNeeded++
			*current = append(*current, cmd)
		case !cmd.IsData && cmd.Op == OP_ELSE && endifsNeeded == 1:
			current = &falseCmds
		case !cmd.IsData && cmd.Op == OP_ENDIF:
			if endifsNeeded == 1 {
				found = true
			} else {
				endifsNeeded--
				*current = append(*current, cmd)
			}
		default:
			*current = append(*current, cmd)
		}
		if found {
			break
		}
	}
	if !found {
		return false
	}

	condition := decodeNum(vm.pop()) != 0
	if negate {
		condition = !condition
	}
	if condition {
		vm.queue = append(trueCmds, vm.queue...)
	} else {
		vm.queue = append(falseCmds, vm.queue...)
	}
	return true
}

func opVerify(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	return decodeNum(vm.pop()) != 0
}

func opReturn(vm *engine) bool {
	return false
}

func opToAltStack(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	vm.altstack = append(vm.altstack, vm.pop())
	return true
}

func opFromAltStack(vm *engine) bool {
	if len(vm.altstack) < 1 {
		return false
	}
	vm.push(vm.altstack[len(vm.altstack)-1])
	vm.altstack = vm.altstack[:len(vm.altstack)-1]
	return true
}

func op2Drop(vm *engine) bool {
	if len(vm.stack) < 2 {
		return false
	}
	vm.stack = vm.stack[:len(vm.stack)-2]
	return true
}

func op2Dup(vm *engine) bool {
	if len(vm.stack) < 2 {
		return false
	}
	vm.stack = append(vm.stack, vm.stack[len(vm.stack)-2:]...)
	return true
}

func op3Dup(vm *engine) bool {
	if len(vm.stack) < 3 {
		return false
	}
	vm.stack = append(vm.stack, vm.stack[len(vm.stack)-3:]...)
	return true
}

func op2Over(vm *engine) bool {
	if len(vm.stack) < 4 {
		return false
	}
	vm.stack = append(vm.stack, vm.stack[len(vm.stack)-4:len(vm.stack)-2]...)
	return true
}

func op2Rot(vm *engine) bool {
	if len(vm.stack) < 6 {
		return false
	}
	vm.stack = append(vm.stack, vm.stack[len(vm.stack)-6:len(vm.stack)-4]...)
	return true
}

func op2Swap(vm *engine) bool {
	n := len(vm.stack)
	if n < 4 {
		return false
	}
	vm.stack[n-4], vm.stack[n-3], vm.stack[n-2], vm.stack[n-1] =
		vm.stack[n-2], vm.stack[n-1], vm.stack[n-4], vm.stack[n-3]
	return true
}

func opIfDup(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	if decodeNum(vm.stack[len(vm.stack)-1]) != 0 {
		vm.push(vm.stack[len(vm.stack)-1])
	}
	return true
}

func opDepth(vm *engine) bool {
	vm.push(encodeNum(int64(len(vm.stack))))
	return true
}

func opDrop(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	vm.pop()
	return true
}

func opDup(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	vm.push(vm.stack[len(vm.stack)-1])
	return true
}

func opNip(vm *engine) bool {
	n := len(vm.stack)
	if n < 2 {
		return false
	}
	vm.stack = append(vm.stack[:n-2], vm.stack[n-1])
	return true
}

func opOver(vm *engine) bool {
	if len(vm.stack) < 2 {
		return false
	}
	vm.push(vm.stack[len(vm.stack)-2])
	return true
}

func opPick(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	n := int(decodeNum(vm.pop()))
	if n < 0 || len(vm.stack) < n+1 {
		return false
	}
	vm.push(vm.stack[len(vm.stack)-n-1])
	return true
}

func opRoll(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	n := int(decodeNum(vm.pop()))
	if n < 0 || len(vm.stack) < n+1 {
		return false
	}
	idx := len(vm.stack) - n - 1
	element := vm.stack[idx]
	vm.stack = append(vm.stack[:idx], vm.stack[idx+1:]...)
	vm.push(element)
	return true
}

func opRot(vm *engine) bool {
	n := len(vm.stack)
	if n < 3 {
		return false
	}
	vm.stack[n-3], vm.stack[n-2], vm.stack[n-1] =
		vm.stack[n-2], vm.stack[n-1], vm.stack[n-3]
	return true
}

func opSwap(vm *engine) bool {
	n := len(vm.stack)
	if n < 2 {
		return false
	}
	vm.stack[n-2], vm.stack[n-1] = vm.stack[n-1], vm.stack[n-2]
	return true
}

func opTuck(vm *engine) bool {
	n := len(vm.stack)
	if n < 2 {
		return false
	}
	top := vm.stack[n-1]
	vm.stack = append(vm.stack, nil)
	copy(vm.stack[n:], vm.stack[n-1:])
	vm.stack[n-1] = top
	return true
}

func opSize(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	vm.push(encodeNum(int64(len(vm.stack[len(vm.stack)-1]))))
	return true
}

func opEqual(vm *engine) bool {
	if len(vm.stack) < 2 {
		return false
	}
	a, b := vm.pop(), vm.pop()
	vm.pushBool(bytes.Equal(a, b))
	return true
}

func opEqualVerify(vm *engine) bool {
	return opEqual(vm) && opVerify(vm)
}

func opUnary(f func(int64) int64) func(*engine) bool {
	return func(vm *engine) bool {
		if len(vm.stack) < 1 {
			return false
		}
		vm.push(encodeNum(f(decodeNum(vm.pop()))))
		return true
	}
}

func opBinary(f func(a, b int64) int64) func(*engine) bool {
	return func(vm *engine) bool {
		if len(vm.stack) < 2 {
			return false
		}
		b := decodeNum(vm.pop())
		a := decodeNum(vm.pop())
		vm.push(encodeNum(f(a, b)))
		return true
	}
}

func boolToNum(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func opNumEqualVerify(vm *engine) bool {
	return opBinary(func(a, b int64) int64 {
		return boolToNum(a == b)
	})(vm) && opVerify(vm)
}

func opWithin(vm *engine) bool {
	if len(vm.stack) < 3 {
		return false
	}
	max := decodeNum(vm.pop())
	min := decodeNum(vm.pop())
	element := decodeNum(vm.pop())
	vm.pushBool(element >= min && element < max)
	return true
}

func opHashFunc(f func([]byte) []byte) func(*engine) bool {
	return func(vm *engine) bool {
		if len(vm.stack) < 1 {
			return false
		}
		vm.push(f(vm.pop()))
		return true
	}
}

func ripemd160Hash(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}

func sha1Hash(b []byte) []byte {
	sum := sha1.Sum(b)
	return sum[:]
}

func sha256Hash(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// hash160 is sha256 followed by ripemd160, the standard key and script
// commitment hash.
func hash160(b []byte) []byte {
	return ripemd160Hash(sha256Hash(b))
}

func opCheckSig(vm *engine) bool {
	if len(vm.stack) < 2 {
		return false
	}
	secPubKey := vm.pop()
	derSig := vm.pop()
	if len(derSig) < 1 {
		return false
	}
	pubKey, err := btcec.ParsePubKey(secPubKey)
	if err != nil {
		log.Tracef("checksig: bad pubkey: %v", err)
		return false
	}
	// The final byte of the signature declares the hash type and is not
	// part of the DER encoding.
	sig, err := ecdsa.ParseDERSignature(derSig[:len(derSig)-1])
	if err != nil {
		log.Tracef("checksig: bad signature: %v", err)
		return false
	}
	vm.pushBool(sig.Verify(vm.z, pubKey))
	return true
}

func opCheckSigVerify(vm *engine) bool {
	return opCheckSig(vm) && opVerify(vm)
}

// opCheckMultisig verifies m signatures against n pubkeys, requiring the
// signatures to appear in the same relative order as their keys. An extra
// unused element below the signatures is consumed for historical
// compatibility.
func opCheckMultisig(vm *engine) bool {
	if len(vm.stack) < 1 {
		return false
	}
	n := int(decodeNum(vm.pop()))
	if n < 0 || len(vm.stack) < n+1 {
		return false
	}
	secPubKeys := make([][]byte, n)
	for i := 0; i < n; i++ {
		secPubKeys[i] = vm.pop()
	}
	m := int(decodeNum(vm.pop()))
	if m < 0 || len(vm.stack) < m+1 {
		return false
	}
	derSigs := make([][]byte, m)
	for i := 0; i < m; i++ {
		derSig := vm.pop()
		if len(derSig) < 1 {
			return false
		}
		derSigs[i] = derSig[:len(derSig)-1]
	}
	// OP_CHECKMULTISIG historically pops one element more than it uses.
	vm.pop()

	points := make([]*btcec.PublicKey, 0, n)
	for _, sec := range secPubKeys {
		point, err := btcec.ParsePubKey(sec)
		if err != nil {
			log.Tracef("checkmultisig: bad pubkey: %v", err)
			return false
		}
		points = append(points, point)
	}
	sigs := make([]*ecdsa.Signature, 0, m)
	for _, der := range derSigs {
		sig, err := ecdsa.ParseDERSignature(der)
		if err != nil {
			log.Tracef("checkmultisig: bad signature: %v", err)
			return false
		}
		sigs = append(sigs, sig)
	}

	valid := true
	for _, sig := range sigs {
		matched := false
		for len(points) > 0 {
			point := points[0]
			points = points[1:]
			if sig.Verify(vm.z, point) {
				matched = true
				break
			}
		}
		if !matched {
			valid = false
			break
		}
	}
	vm.pushBool(valid)
	return true
}

func opCheckMultisigVerify(vm *engine) bool {
	return opCheckMultisig(vm) && opVerify(vm)
}

// opcodeFuncs is the dispatch table for the evaluation loop. Opcodes
// missing from the table abort evaluation.
var opcodeFuncs = map[byte]func(*engine) bool{
	OP_0:            opSmallInt(0),
	OP_1NEGATE:      opSmallInt(-1),
	0x51:            opSmallInt(1),
	0x52:            opSmallInt(2),
	0x53:            opSmallInt(3),
	0x54:            opSmallInt(4),
	0x55:            opSmallInt(5),
	0x56:            opSmallInt(6),
	0x57:            opSmallInt(7),
	0x58:            opSmallInt(8),
	0x59:            opSmallInt(9),
	0x5a:            opSmallInt(10),
	0x5b:            opSmallInt(11),
	0x5c:            opSmallInt(12),
	0x5d:            opSmallInt(13),
	0x5e:            opSmallInt(14),
	0x5f:            opSmallInt(15),
	0x60:            opSmallInt(16),
	OP_NOP:          opNop,
	OP_IF:           opIf,
	OP_NOTIF:        opNotIf,
	OP_VERIFY:       opVerify,
	OP_RETURN:       opReturn,
	OP_TOALTSTACK:   opToAltStack,
	OP_FROMALTSTACK: opFromAltStack,
	OP_2DROP:        op2Drop,
	OP_2DUP:         op2Dup,
	OP_3DUP:         op3Dup,
	OP_2OVER:        op2Over,
	OP_2ROT:         op2Rot,
	OP_2SWAP:        op2Swap,
	OP_IFDUP:        opIfDup,
	OP_DEPTH:        opDepth,
	OP_DROP:         opDrop,
	OP_DUP:          opDup,
	OP_NIP:          opNip,
	OP_OVER:         opOver,
	OP_PICK:         opPick,
	OP_ROLL:         opRoll,
	OP_ROT:          opRot,
	OP_SWAP:         opSwap,
	OP_TUCK:         opTuck,
	OP_SIZE:         opSize,
	OP_EQUAL:        opEqual,
	OP_EQUALVERIFY:  opEqualVerify,
	OP_1ADD:         opUnary(func(a int64) int64 { return a + 1 }),
	OP_1SUB:         opUnary(func(a int64) int64 { return a - 1 }),
	OP_NEGATE:       opUnary(func(a int64) int64 { return -a }),
	OP_ABS: opUnary(func(a int64) int64 {
		if a < 0 {
			return -a
		}
		return a
	}),
	OP_NOT:                opUnary(func(a int64) int64 { return boolToNum(a == 0) }),
	OP_0NOTEQUAL:          opUnary(func(a int64) int64 { return boolToNum(a != 0) }),
	OP_ADD:                opBinary(func(a, b int64) int64 { return a + b }),
	OP_SUB:                opBinary(func(a, b int64) int64 { return a - b }),
	OP_BOOLAND:            opBinary(func(a, b int64) int64 { return boolToNum(a != 0 && b != 0) }),
	OP_BOOLOR:             opBinary(func(a, b int64) int64 { return boolToNum(a != 0 || b != 0) }),
	OP_NUMEQUAL:           opBinary(func(a, b int64) int64 { return boolToNum(a == b) }),
	OP_NUMEQUALVERIFY:     opNumEqualVerify,
	OP_NUMNOTEQUAL:        opBinary(func(a, b int64) int64 { return boolToNum(a != b) }),
	OP_LESSTHAN:           opBinary(func(a, b int64) int64 { return boolToNum(a < b) }),
	OP_GREATERTHAN:        opBinary(func(a, b int64) int64 { return boolToNum(a > b) }),
	OP_LESSTHANOREQUAL:    opBinary(func(a, b int64) int64 { return boolToNum(a <= b) }),
	OP_GREATERTHANOREQUAL: opBinary(func(a, b int64) int64 { return boolToNum(a >= b) }),
	OP_MIN: opBinary(func(a, b int64) int64 {
		if a < b {
			return a
		}
		return b
	}),
	OP_MAX: opBinary(func(a, b int64) int64 {
		if a > b {
			return a
		}
		return b
	}),
	OP_WITHIN:              opWithin,
	OP_RIPEMD160:           opHashFunc(ripemd160Hash),
	OP_SHA1:                opHashFunc(sha1Hash),
	OP_SHA256:              opHashFunc(sha256Hash),
	OP_HASH160:             opHashFunc(hash160),
	OP_HASH256:             opHashFunc(chainhash.DoubleHashB),
	OP_CHECKSIG:            opCheckSig,
	OP_CHECKSIGVERIFY:      opCheckSigVerify,
	OP_CHECKMULTISIG:       opCheckMultisig,
	OP_CHECKMULTISIGVERIFY: opCheckMultisigVerify,
	// The NOP range is non-failing. Locktime enforcement is a
	// transaction-level concern outside the scope of this machine.
	OP_NOP1:                opNop,
	OP_CHECKLOCKTIMEVERIFY: opNop,
	OP_CHECKSEQUENCEVERIFY: opNop,
	0xb3:                   opNop,
	0xb4:                   opNop,
	0xb5:                   opNop,
	0xb6:                   opNop,
	0xb7:                   opNop,
	0xb8:                   opNop,
	OP_NOP10:               opNop,
}
