package model

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// TransactionIDSize is the size, in bytes, of a TransactionID.
const TransactionIDSize = 32

// TransactionID is the content-addressed identifier of a transaction.
type TransactionID [TransactionIDSize]byte

// String returns the TransactionID as a hexadecimal string.
func (id TransactionID) String() string {
	return hex.EncodeToString(id[:])
}

// Equal returns whether id equals other.
func (id *TransactionID) Equal(other *TransactionID) bool {
	return *id == *other
}

// Less returns whether id is ordered before other, comparing the IDs as
// big-endian byte strings.
func (id *TransactionID) Less(other *TransactionID) bool {
	for i := 0; i < TransactionIDSize; i++ {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// transactionIDKey is the domain-separation key for transaction ID hashing.
var transactionIDKey = []byte("RelaydTransactionID")

// Transaction is the domain representation of a transaction. Fee and Mass are
// populated by whoever admits the transaction into the mempool and drive the
// announcement ordering metadata.
type Transaction struct {
	Version uint16
	Payload []byte
	Fee     uint64
	Mass    uint64

	id *TransactionID // memoized on first call to ID
}

// ID returns the TransactionID of this transaction. The ID covers the version
// and payload only, so mutating Fee or Mass does not change a transaction's
// identity.
//
// ID is not safe for use from multiple goroutines until it has been called
// once, since the first call populates the memoized value.
func (tx *Transaction) ID() *TransactionID {
	if tx.id == nil {
		hasher, err := blake2b.New256(transactionIDKey)
		if err != nil {
			panic(err)
		}
		var versionBytes [2]byte
		binary.LittleEndian.PutUint16(versionBytes[:], tx.Version)
		hasher.Write(versionBytes[:])
		hasher.Write(tx.Payload)

		id := TransactionID{}
		copy(id[:], hasher.Sum(nil))
		tx.id = &id
	}
	return tx.id
}

// Clone returns a deep copy of this transaction. The memoized ID is carried
// over to the clone.
func (tx *Transaction) Clone() *Transaction {
	payload := make([]byte, len(tx.Payload))
	copy(payload, tx.Payload)
	clone := &Transaction{
		Version: tx.Version,
		Payload: payload,
		Fee:     tx.Fee,
		Mass:    tx.Mass,
	}
	if tx.id != nil {
		id := *tx.id
		clone.id = &id
	}
	return clone
}
