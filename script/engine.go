// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package script

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// maxExecutedCommands bounds the total number of commands one
// evaluation may process, including commands added by script hash and
// witness program expansion.
const maxExecutedCommands = 10000

// engine holds the mutable state of one evaluation. The queue starts as
// a copy of the script's commands and may grow mid-run when a script
// hash or witness program expands.
type engine struct {
	queue    []Command
	stack    [][]byte
	altstack [][]byte
	witness  wire.TxWitness
	z        []byte
	executed int
}

func (vm *engine) push(element []byte) {
	vm.stack = append(vm.stack, element)
}

// pop removes and returns the top element. Callers check depth first.
func (vm *engine) pop() []byte {
	element := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return element
}

func (vm *engine) pushBool(b bool) {
	if b {
		vm.push(encodeNum(1))
	} else {
		vm.push(encodeNum(0))
	}
}

// Evaluate runs the script against signature hash z and the input's
// witness items. The script is normally an unlocking script combined
// with its locking script via Add. Evaluation succeeds when the queue
// drains with a non-empty stack whose top element is not the empty
// element.
//
// The receiver is not modified; the engine works on a copied queue.
func (s *Script) Evaluate(z []byte, witness wire.TxWitness) bool {
	vm := &engine{
		queue:   append([]Command(nil), s.Commands...),
		witness: witness,
		z:       z,
	}
	for len(vm.queue) > 0 {
		vm.executed++
		if vm.executed > maxExecutedCommands {
			log.Debugf("evaluation aborted after %d commands",
				maxExecutedCommands)
			return false
		}
		cmd := vm.queue[0]
		vm.queue = vm.queue[1:]

		if !cmd.IsData {
			opFunc, ok := opcodeFuncs[cmd.Op]
			if !ok {
				log.Debugf("unknown opcode %s", OpcodeName(cmd.Op))
				return false
			}
			if !opFunc(vm) {
				log.Debugf("%s failed at command %d",
					OpcodeName(cmd.Op), vm.executed)
				return false
			}
			continue
		}

		vm.push(cmd.Data)
		if !vm.maybeExpand(cmd.Data) {
			return false
		}
	}
	if len(vm.stack) == 0 {
		return false
	}
	return len(vm.stack[len(vm.stack)-1]) != 0
}

// maybeExpand applies the three self-expansion rules after a data push.
// Each rule matches an exact machine state, consumes the recognized
// pattern and splices new commands onto the queue.
func (vm *engine) maybeExpand(element []byte) bool {
	// Pay-to-script-hash: the remaining queue is exactly
	// OP_HASH160 <20 bytes> OP_EQUAL and the pushed element is the
	// serialized redeem script.
	q := vm.queue
	if len(q) == 3 &&
		!q[0].IsData && q[0].Op == OP_HASH160 &&
		q[1].IsData && len(q[1].Data) == 20 &&
		!q[2].IsData && q[2].Op == OP_EQUAL {

		h160 := q[1].Data
		vm.queue = nil
		if !opHashFunc(hash160)(vm) {
			return false
		}
		vm.push(h160)
		if !opEqual(vm) || !opVerify(vm) {
			log.Debugf("redeem script does not hash to %x", h160)
			return false
		}
		redeemScript, err := ParseRaw(element)
		if err != nil {
			log.Debugf("bad redeem script: %v", err)
			return false
		}
		vm.queue = append(vm.queue, redeemScript.Commands...)
	}

	// Pay-to-witness-pubkey-hash: the stack is exactly an empty
	// element under a 20 byte key hash. The witness items and the
	// equivalent p2pkh commands replace them on the queue.
	if len(vm.stack) == 2 && len(vm.stack[0]) == 0 &&
		len(vm.stack[1]) == 20 {

		h160 := vm.pop()
		vm.pop()
		for _, item := range vm.witness {
			vm.queue = append(vm.queue, DataCommand(item))
		}
		vm.queue = append(vm.queue, NewP2PKH(h160).Commands...)
	}

	// Pay-to-witness-script-hash: the stack is exactly an empty
	// element under a 32 byte script hash. The final witness item
	// must be the witness script hashing to it; the remaining items
	// and the parsed script commands are spliced onto the queue.
	if len(vm.stack) == 2 && len(vm.stack[0]) == 0 &&
		len(vm.stack[1]) == 32 {

		sha := vm.pop()
		vm.pop()
		if len(vm.witness) == 0 {
			log.Debugf("witness program with empty witness")
			return false
		}
		witnessScript := vm.witness[len(vm.witness)-1]
		if !bytes.Equal(sha, sha256Hash(witnessScript)) {
			log.Debugf("witness script does not hash to %x", sha)
			return false
		}
		for _, item := range vm.witness[:len(vm.witness)-1] {
			vm.queue = append(vm.queue, DataCommand(item))
		}
		parsed, err := ParseRaw(witnessScript)
		if err != nil {
			log.Debugf("bad witness script: %v", err)
			return false
		}
		vm.queue = append(vm.queue, parsed.Commands...)
	}

	return true
}
