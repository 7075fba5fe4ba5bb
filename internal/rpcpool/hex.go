package rpcpool

import "github.com/ethereum/go-ethereum/common/hexutil"

func hexData(b []byte) hexutil.Bytes {
	return hexutil.Bytes(b)
}

func decodeHex(s string) []byte {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil
	}
	return b
}
