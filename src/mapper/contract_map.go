package mapper

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// ErrNoContract is returned when a strategy symbol has no mapping for the
// requested broker.
var ErrNoContract = errors.New("no contract mapping")

// Contract holds the per-broker identifiers for one strategy symbol.
// Tradovate trades the front-month symbol, IBKR addresses contracts by
// conid, TradeStation uses its continuous @-symbols.
type Contract struct {
	Tradovate    string `yaml:"tradovate" json:"tradovate,omitempty"`
	IBKRConID    string `yaml:"ibkr_conid" json:"ibkr_conid,omitempty"`
	TradeStation string `yaml:"tradestation" json:"tradestation,omitempty"`
}

// ContractMap resolves normalized strategy symbols to broker contract
// identifiers. The compiled-in defaults cover the common futures; a yaml
// file can override them per symbol when contracts roll.
type ContractMap struct {
	contracts map[string]Contract
}

func NewContractMap() *ContractMap {
	return &ContractMap{
		contracts: map[string]Contract{
			"ES":  {Tradovate: "ESU6", IBKRConID: "649180695", TradeStation: "@ES"},
			"NQ":  {Tradovate: "NQU6", IBKRConID: "649180715", TradeStation: "@NQ"},
			"MES": {Tradovate: "MESU6", IBKRConID: "649180661", TradeStation: "@MES"},
			"MNQ": {Tradovate: "MNQU6", IBKRConID: "649180679", TradeStation: "@MNQ"},
			"YM":  {Tradovate: "YMU6", IBKRConID: "649178435", TradeStation: "@YM"},
			"RTY": {Tradovate: "RTYU6", IBKRConID: "649180701", TradeStation: "@RTY"},
			"CL":  {Tradovate: "CLV6", IBKRConID: "653563852", TradeStation: "@CL"},
			"GC":  {Tradovate: "GCZ6", IBKRConID: "655413728", TradeStation: "@GC"},
		},
	}
}

// LoadOverrides merges a yaml file of symbol -> contract entries over the
// defaults. Only the fields a symbol's entry sets are replaced, so a file
// can roll the Tradovate month without repeating the conids.
func (m *ContractMap) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read contract map file: %w", err)
	}

	var overrides map[string]Contract
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return fmt.Errorf("failed to parse contract map file: %w", err)
	}

	for symbol, override := range overrides {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		contract := m.contracts[symbol]
		if override.Tradovate != "" {
			contract.Tradovate = override.Tradovate
		}
		if override.IBKRConID != "" {
			contract.IBKRConID = override.IBKRConID
		}
		if override.TradeStation != "" {
			contract.TradeStation = override.TradeStation
		}
		m.contracts[symbol] = contract
	}

	logger.WithFields(map[string]interface{}{
		"file":    path,
		"symbols": len(overrides),
	}).Info("contract map overrides loaded")

	return nil
}

// ContractFor resolves the broker-specific contract identifier for a
// strategy symbol.
func (m *ContractMap) ContractFor(broker model.Broker, symbol string) (string, error) {
	contract, ok := m.contracts[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return "", fmt.Errorf("%w for symbol %q", ErrNoContract, symbol)
	}

	var id string
	switch broker {
	case model.BrokerTradovate:
		id = contract.Tradovate
	case model.BrokerIBKR:
		id = contract.IBKRConID
	case model.BrokerTradeStation:
		id = contract.TradeStation
	default:
		return "", fmt.Errorf("%w for broker %q", ErrNoContract, broker)
	}
	if id == "" {
		return "", fmt.Errorf("%w for symbol %q on broker %q", ErrNoContract, symbol, broker)
	}
	return id, nil
}

// Symbols lists the mapped strategy symbols in stable order.
func (m *ContractMap) Symbols() []string {
	symbols := make([]string, 0, len(m.contracts))
	for s := range m.contracts {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
