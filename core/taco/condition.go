package taco

import (
	"fmt"
	"math/big"
	"strings"

	"soundproof/core/auth"
	"soundproof/model"
)

// UserAddressParam is the context variable TACo substitutes with the
// authenticated wallet.
const UserAddressParam = ":userAddress"

// ReturnValueTest compares the contract call result.
type ReturnValueTest struct {
	Comparator string `json:"comparator"`
	Value      string `json:"value"`
}

// Condition is a TACo contract condition in its JSON wire form.
type Condition struct {
	ConditionType        string          `json:"conditionType"`
	Method               string          `json:"method"`
	Parameters           []string        `json:"parameters"`
	StandardContractType string          `json:"standardContractType"`
	ContractAddress      string          `json:"contractAddress"`
	Chain                int             `json:"chain"`
	ReturnValueTest      ReturnValueTest `json:"returnValueTest"`
}

// ConditionFor builds the balanceOf condition guarding a gated rule.
// ERC20 requires balance >= minBalance; ERC721 requires holding any token.
func ConditionFor(rule model.AccessRule, chainID int) (*Condition, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if !rule.Gated() {
		return nil, fmt.Errorf("access rule %q is not gated", rule.Type)
	}

	contract, err := auth.ChecksumAddress(rule.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address: %w", err)
	}

	c := &Condition{
		ConditionType:   "contract",
		Method:          "balanceOf",
		Parameters:      []string{UserAddressParam},
		ContractAddress: contract,
		Chain:           chainID,
	}

	switch rule.Type {
	case model.AccessERC20:
		min, ok := new(big.Int).SetString(strings.TrimSpace(rule.MinBalance), 10)
		if !ok || min.Sign() < 0 {
			return nil, fmt.Errorf("invalid minimum balance %q", rule.MinBalance)
		}
		c.StandardContractType = "ERC20"
		c.ReturnValueTest = ReturnValueTest{Comparator: ">=", Value: min.String()}
	case model.AccessERC721:
		c.StandardContractType = "ERC721"
		c.ReturnValueTest = ReturnValueTest{Comparator: ">", Value: "0"}
	}
	return c, nil
}
