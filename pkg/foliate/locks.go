// Copyright 2025 Certen Protocol
package foliate

import (
	"errors"
	"math/big"

	"github.com/certen/attestation-bridge/pkg/hasher"
)

// stakingBalanceLockID is the fixed 8-byte lock identifier used by the
// staking pallet, including its trailing space.
var stakingBalanceLockID = [8]byte{'s', 't', 'a', 'k', 'i', 'n', 'g', ' '}

// AccountID is a 32-byte chain account identifier.
type AccountID [32]byte

// BalanceLock is one named lock on an account's free balance.
type BalanceLock struct {
	ID     [8]byte
	Amount *big.Int // u128, non-negative
}

// ContractInfo is the single global staking-contract record joined onto
// every locks leaf.
type ContractInfo struct {
	ChainID *big.Int // U256
	Address [20]byte
}

// LocksAndContractInfo is the decoded value of a locks-storage entry after
// the builder has appended the global staking_contract_info bytes.
type LocksAndContractInfo struct {
	Locks    []BalanceLock
	Contract ContractInfo
}

func encodeAccountID(a AccountID) []byte { return append([]byte(nil), a[:]...) }

func decodeAccountID(b []byte) (interface{}, int, error) {
	if len(b) < 32 {
		return nil, 0, errors.New("account id: need 32 bytes")
	}
	var a AccountID
	copy(a[:], b[:32])
	return a, 32, nil
}

// LocksStakingFoliate binds the staking-locks storage prefix to an AccountId
// key and a (locks, contract info) value.
type LocksStakingFoliate struct {
	storagePrefix []byte
}

// NewLocksStakingFoliate builds a foliate for the given 32-byte pallet/item
// storage prefix.
func NewLocksStakingFoliate(storagePrefix []byte) *LocksStakingFoliate {
	return &LocksStakingFoliate{storagePrefix: append([]byte(nil), storagePrefix...)}
}

func (f *LocksStakingFoliate) StoragePrefixBytes() []byte {
	return append([]byte(nil), f.storagePrefix...)
}

func (f *LocksStakingFoliate) KeySlots() []KeySlot {
	return []KeySlot{
		{
			Family: hasher.Blake2_128Concat,
			Encode: func(k interface{}) []byte { return encodeAccountID(k.(AccountID)) },
			Decode: decodeAccountID,
		},
	}
}

// DecodeValue parses locksBytes || contractInfoBytes: a one-byte lock count
// followed by that many (8-byte id, 16-byte big-endian u128 amount) pairs,
// then a fixed 32-byte big-endian chain id and 20-byte address.
func (f *LocksStakingFoliate) DecodeValue(raw []byte) (interface{}, int, error) {
	if len(raw) < 1 {
		return nil, 0, errors.New("locks value: missing lock count")
	}
	count := int(raw[0])
	offset := 1
	locks := make([]BalanceLock, 0, count)
	for i := 0; i < count; i++ {
		if len(raw) < offset+8+16 {
			return nil, 0, errors.New("locks value: truncated lock entry")
		}
		var id [8]byte
		copy(id[:], raw[offset:offset+8])
		amount := new(big.Int).SetBytes(raw[offset+8 : offset+24])
		locks = append(locks, BalanceLock{ID: id, Amount: amount})
		offset += 24
	}

	if len(raw) < offset+32+20 {
		return nil, 0, errors.New("locks value: truncated contract info")
	}
	chainID := new(big.Int).SetBytes(raw[offset : offset+32])
	var addr [20]byte
	copy(addr[:], raw[offset+32:offset+52])
	offset += 52

	return LocksAndContractInfo{Locks: locks, Contract: ContractInfo{ChainID: chainID, Address: addr}}, offset, nil
}

// LeafEncodeKey returns the raw 32-byte account id unchanged.
func (f *LocksStakingFoliate) LeafEncodeKey(keys KeyTuple) []byte {
	a := keys[0].(AccountID)
	return append([]byte(nil), a[:]...)
}

// LeafEncodeValue returns pad_be_31(staking_amount) || be_32(chain_id) || address20,
// 83 bytes total. The staking lock is the unique lock with id "staking ";
// absence is treated as amount zero.
func (f *LocksStakingFoliate) LeafEncodeValue(value interface{}) []byte {
	v := value.(LocksAndContractInfo)

	amount := big.NewInt(0)
	for _, lock := range v.Locks {
		if lock.ID == stakingBalanceLockID {
			amount = lock.Amount
			break
		}
	}

	out := make([]byte, 83)
	putBigEndian(out[0:31], amount)
	putBigEndian(out[31:63], v.Contract.ChainID)
	copy(out[63:83], v.Contract.Address[:])
	return out
}

// putBigEndian left-zero-pads n's big-endian bytes to fill dst exactly.
func putBigEndian(dst []byte, n *big.Int) {
	if n == nil {
		return
	}
	src := n.Bytes()
	if len(src) > len(dst) {
		panic("foliate: value too large for fixed-width field")
	}
	copy(dst[len(dst)-len(src):], src)
}
