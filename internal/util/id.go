package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

const ruleIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRuleID returns an id for a rule created in the editor: "new-" followed
// by nine base-36 characters.
func NewRuleID() string {
	out := make([]byte, 9)
	base := big.NewInt(int64(len(ruleIDAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			out[i] = ruleIDAlphabet[0]
			continue
		}
		out[i] = ruleIDAlphabet[n.Int64()]
	}
	return "new-" + string(out)
}
