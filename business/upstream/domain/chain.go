// Package domain contains the core domain types for the upstream context.
package domain

import (
	"fmt"
	"strings"
)

// Chain identifies a blockchain by its numeric protocol id.
type Chain int32

const (
	ChainUnspecified     Chain = 0
	ChainEthereum        Chain = 100
	ChainEthereumClassic Chain = 101
	ChainMorden          Chain = 10001
	ChainKovan           Chain = 10002
	ChainGoerli          Chain = 10005
	ChainRopsten         Chain = 10006
	ChainRinkeby         Chain = 10007
)

var chainCodes = map[Chain]string{
	ChainEthereum:        "ETH",
	ChainEthereumClassic: "ETC",
	ChainMorden:          "MORDEN",
	ChainKovan:           "KOVAN",
	ChainGoerli:          "GOERLI",
	ChainRopsten:         "ROPSTEN",
	ChainRinkeby:         "RINKEBY",
}

// String returns the short chain code.
func (c Chain) String() string {
	if code, ok := chainCodes[c]; ok {
		return code
	}
	return fmt.Sprintf("CHAIN_%d", int32(c))
}

// ChainByCode looks a chain up by its short code, case-insensitively.
func ChainByCode(code string) (Chain, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for c, name := range chainCodes {
		if name == code {
			return c, nil
		}
	}
	return ChainUnspecified, fmt.Errorf("unknown chain code %q", code)
}

// ChainByID looks a chain up by its numeric id.
func ChainByID(id int32) (Chain, error) {
	c := Chain(id)
	if _, ok := chainCodes[c]; !ok {
		return ChainUnspecified, fmt.Errorf("unknown chain id %d", id)
	}
	return c, nil
}
