package load

import (
	"fmt"
	"strings"
)

// Kind identifies the protocol operation a WorkItem exercises.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindFraudProof submits a fraud proof and drives it through verification and bisection.
	KindFraudProof
	// KindFinalizationBlock proposes a block and drives it to Challenged or Finalized.
	KindFinalizationBlock
	// KindBridgeDeposit locks funds on a source chain and credits them on the rollup.
	KindBridgeDeposit
	// KindBridgeWithdrawal debits funds on the rollup and releases them on a target chain.
	KindBridgeWithdrawal
	// KindCrossChainTransfer relays a message through a source and a destination chain.
	KindCrossChainTransfer
)

var kindNames = [...]string{
	"unknown",
	"fraud_proof",
	"finalization_block",
	"bridge_deposit",
	"bridge_withdrawal",
	"cross_chain_transfer",
}

// AllKinds lists every concrete kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindFraudProof,
		KindFinalizationBlock,
		KindBridgeDeposit,
		KindBridgeWithdrawal,
		KindCrossChainTransfer,
	}
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind resolves a kind from its string form. Hyphens and case are ignored.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range kindNames {
		if i == 0 {
			continue
		}
		if name == norm {
			return Kind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown operation kind %q", s)
}

// ParseKinds parses a comma separated list of kinds.
func ParseKinds(list []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		k, err := ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
