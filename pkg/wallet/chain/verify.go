package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifySignature reports whether signatureHex is a personal_sign signature of
// msg produced by address.
func VerifySignature(address, signatureHex string, msg []byte) bool {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	// Transform yellow paper V from 27/28 to 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	recovered, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(address, crypto.PubkeyToAddress(*recovered).Hex())
}
