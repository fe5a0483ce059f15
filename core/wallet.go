package core

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Network is the chain a wallet lives on.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

const (
	chainIDMainnet = "-239"
	chainIDTestnet = "-3"
)

// ChainID returns the protocol level chain identifier for n.
func (n Network) ChainID() string {
	switch n {
	case NetworkMainnet:
		return chainIDMainnet
	case NetworkTestnet:
		return chainIDTestnet
	default:
		return ""
	}
}

// Valid reports whether n is a known network.
func (n Network) Valid() bool {
	return n == NetworkMainnet || n == NetworkTestnet
}

// NetworkFromChainID maps a protocol chain id back to a Network.
func NetworkFromChainID(id string) (Network, error) {
	switch id {
	case chainIDMainnet:
		return NetworkMainnet, nil
	case chainIDTestnet:
		return NetworkTestnet, nil
	default:
		return "", fmt.Errorf("unknown chain id %q", id)
	}
}

// WalletVersion tags the wallet contract revision.
type WalletVersion string

const (
	WalletV4R2 WalletVersion = "v4r2"
	WalletV5R1 WalletVersion = "v5r1"
)

// Valid reports whether v is a supported contract version.
func (v WalletVersion) Valid() bool {
	return v == WalletV4R2 || v == WalletV5R1
}

// Wallet is the public record of a signing identity. Key material lives
// only inside the signer and is addressed by ID.
type Wallet struct {
	ID        string        `json:"id"`
	PublicKey hexutil.Bytes `json:"public_key"`
	Network   Network       `json:"network"`
	Version   WalletVersion `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
}
