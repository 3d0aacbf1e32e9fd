// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import "bytes"

// Combine merges the records of other into p. Both packets must carry
// the same unsigned transaction. For single-valued fields the receiver
// wins and absent values are filled from other; keyed collections take
// the union, again preferring the receiver on key collisions. The
// operation is commutative and associative up to serialization order,
// so counterparties can merge shards in any grouping and arrive at the
// same packet.
func (p *Packet) Combine(other *Packet) error {
	if p.UnsignedTx.TxHash() != other.UnsignedTx.TxHash() {
		return ErrInconsistentPacket
	}
	if len(p.Inputs) != len(other.Inputs) ||
		len(p.Outputs) != len(other.Outputs) {
		return ErrInconsistentPacket
	}

	for i := range p.Inputs {
		p.Inputs[i].combine(&other.Inputs[i])
	}
	for i := range p.Outputs {
		p.Outputs[i].combine(&other.Outputs[i])
	}

	for _, xpub := range other.Xpubs {
		keyData := writeExtendedKey(xpub.ExtendedKey)
		found := false
		for _, have := range p.Xpubs {
			if bytes.Equal(writeExtendedKey(have.ExtendedKey), keyData) {
				found = true
				break
			}
		}
		if !found {
			p.Xpubs = append(p.Xpubs, xpub)
		}
	}

	p.Unknowns = combineUnknowns(p.Unknowns, other.Unknowns)

	return nil
}
