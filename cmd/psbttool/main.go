// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// psbttool is a small workbench for partially signed transactions: it
// decodes packets for inspection and drives the combine, finalize and
// extract steps of the signing flow from the command line.
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"
	flags "github.com/jessevdk/go-flags"
	"github.com/psbtsuite/psbtutil/psbt"
	"github.com/psbtsuite/psbtutil/script"
)

type config struct {
	Debug bool `short:"d" long:"debug" description:"Emit packet and script trace logging on stderr"`
}

var cfg = &config{}

// setupLogging wires the package loggers to stderr when tracing is
// requested.
func setupLogging() {
	if !cfg.Debug {
		return
	}

	backend := btclog.NewBackend(os.Stderr)
	logger := backend.Logger("PSBT")
	logger.SetLevel(btclog.LevelTrace)
	psbt.UseLogger(logger)
	script.UseLogger(logger)
}

// readPacket parses one base64 packet argument.
func readPacket(b64 string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(strings.NewReader(b64), true)
}

type decodeCommand struct {
	Args struct {
		Psbt string `positional-arg-name:"psbt" description:"Base64 encoded packet"`
	} `positional-args:"yes" required:"yes"`
}

func (c *decodeCommand) Execute(_ []string) error {
	setupLogging()

	p, err := readPacket(c.Args.Psbt)
	if err != nil {
		return err
	}

	if cfg.Debug {
		fmt.Fprint(os.Stderr, spew.Sdump(p))
	}

	tx := p.UnsignedTx
	fmt.Printf("txid: %s\n", tx.TxHash())
	fmt.Printf("version: %d locktime: %d\n", tx.Version, tx.LockTime)
	fmt.Printf("complete: %v\n", p.IsComplete())

	if fee, err := p.GetTxFee(); err == nil {
		fmt.Printf("fee: %v\n", fee)
	}

	for i, txIn := range tx.TxIn {
		pInput := &p.Inputs[i]
		fmt.Printf("input %d: %s\n", i, txIn.PreviousOutPoint)
		fmt.Printf("  signatures: %d\n", len(pInput.PartialSigs))
		if pInput.RedeemScript != nil {
			fmt.Printf("  redeem script: %s\n", pInput.RedeemScript)
		}
		if pInput.WitnessScript != nil {
			fmt.Printf("  witness script: %s\n", pInput.WitnessScript)
		}
		if pInput.FinalScriptSig != nil {
			fmt.Printf("  final scriptSig: %s\n", pInput.FinalScriptSig)
		}
		if pInput.FinalScriptWitness != nil {
			fmt.Printf("  final witness items: %d\n",
				len(pInput.FinalScriptWitness))
		}
	}

	for i, txOut := range tx.TxOut {
		spk, err := script.ParseRaw(txOut.PkScript)
		if err != nil {
			return err
		}
		fmt.Printf("output %d: %d sat %s\n", i, txOut.Value, spk)
	}

	return nil
}

type combineCommand struct {
	Args struct {
		Psbts []string `positional-arg-name:"psbt" description:"Base64 encoded packets" required:"2"`
	} `positional-args:"yes" required:"yes"`
}

func (c *combineCommand) Execute(_ []string) error {
	setupLogging()

	combined, err := readPacket(c.Args.Psbts[0])
	if err != nil {
		return err
	}
	for _, b64 := range c.Args.Psbts[1:] {
		next, err := readPacket(b64)
		if err != nil {
			return err
		}
		if err := combined.Combine(next); err != nil {
			return err
		}
	}

	out, err := combined.B64Encode()
	if err != nil {
		return err
	}
	fmt.Println(out)

	return nil
}

type finalizeCommand struct {
	Args struct {
		Psbt string `positional-arg-name:"psbt" description:"Base64 encoded packet"`
	} `positional-args:"yes" required:"yes"`
}

func (c *finalizeCommand) Execute(_ []string) error {
	setupLogging()

	p, err := readPacket(c.Args.Psbt)
	if err != nil {
		return err
	}
	if err := psbt.MaybeFinalizeAll(p); err != nil {
		return err
	}

	out, err := p.B64Encode()
	if err != nil {
		return err
	}
	fmt.Println(out)

	return nil
}

type extractCommand struct {
	Args struct {
		Psbt string `positional-arg-name:"psbt" description:"Base64 encoded packet"`
	} `positional-args:"yes" required:"yes"`

	NoVerify bool `long:"noverify" description:"Skip script evaluation of the final inputs"`
}

func (c *extractCommand) Execute(_ []string) error {
	setupLogging()

	p, err := readPacket(c.Args.Psbt)
	if err != nil {
		return err
	}

	var finalTx *wire.MsgTx
	if c.NoVerify {
		finalTx, err = psbt.Extract(p)
	} else {
		finalTx, err = psbt.FinalTx(p)
	}
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := finalTx.Serialize(&buf); err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(buf.Bytes()))

	return nil
}

func main() {
	parser := flags.NewParser(cfg, flags.Default)
	parser.AddCommand("decode", "Decode a packet",
		"Decode a base64 packet and print a human readable summary.",
		&decodeCommand{})
	parser.AddCommand("combine", "Combine packets",
		"Merge the records of two or more packets sharing the same "+
			"unsigned transaction.", &combineCommand{})
	parser.AddCommand("finalize", "Finalize a packet",
		"Assemble final unlocking data for every input that has "+
			"enough signatures.", &finalizeCommand{})
	parser.AddCommand("extract", "Extract the final transaction",
		"Verify and extract the fully signed transaction as hex.",
		&extractCommand{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
