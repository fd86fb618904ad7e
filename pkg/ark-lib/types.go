package arklib

import (
	"fmt"
	"strings"
)

type Network struct {
	Name string
	Addr string
}

var Bitcoin = Network{
	Name: "bitcoin",
	Addr: "ark",
}

var BitcoinTestNet = Network{
	Name: "testnet",
	Addr: "tark",
}

var BitcoinSigNet = Network{
	Name: "signet",
	Addr: "tark",
}

var BitcoinMutinyNet = Network{
	Name: "mutinynet",
	Addr: "tark",
}

var BitcoinRegTest = Network{
	Name: "regtest",
	Addr: "rark",
}

// NetworkFromString maps the network name reported by the ledger server to
// one of the known networks.
func NetworkFromString(net string) (Network, error) {
	switch strings.ToLower(net) {
	case Bitcoin.Name, "mainnet":
		return Bitcoin, nil
	case BitcoinTestNet.Name, "testnet3", "testnet4":
		return BitcoinTestNet, nil
	case BitcoinSigNet.Name:
		return BitcoinSigNet, nil
	case BitcoinMutinyNet.Name:
		return BitcoinMutinyNet, nil
	case BitcoinRegTest.Name:
		return BitcoinRegTest, nil
	default:
		return Network{}, fmt.Errorf("unknown network %s", net)
	}
}

// AbsoluteLocktime is a CHECKLOCKTIMEVERIFY value, either a block height or
// a unix timestamp depending on its magnitude.
type AbsoluteLocktime uint32

const locktimeSecondsThreshold = 500_000_000

func (l AbsoluteLocktime) IsSeconds() bool {
	return l >= locktimeSecondsThreshold
}
