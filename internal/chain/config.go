package chain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	Chains map[string]Definition `yaml:"chains"`
}

// Definition describes a single network endpoint and its assets.
type Definition struct {
	Type           string  `yaml:"type"`
	ChainID        uint64  `yaml:"chain_id"`
	RPCURL         string  `yaml:"rpc_url"`
	NativeCurrency string  `yaml:"native_currency"`
	NativeDecimals int32   `yaml:"native_decimals"`
	Tokens         []Token `yaml:"tokens"`
	Description    string  `yaml:"description"`
}

// Token is a fungible token contract whose Transfer events can back a receipt.
type Token struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// LoadDefinitions parses the YAML file containing chain metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseDefinitions(content)
}

// ParseDefinitions decodes chain metadata from YAML bytes and fills defaults.
func ParseDefinitions(content []byte) (Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	for name, def := range defs.Chains {
		if def.ChainID == 0 {
			if id, ok := KnownChainID(name); ok {
				def.ChainID = id
			}
		}
		if def.NativeCurrency == "" {
			def.NativeCurrency = "ETH"
		}
		if def.NativeDecimals == 0 {
			def.NativeDecimals = 18
		}
		defs.Chains[name] = def
	}
	return defs, nil
}

// TokenBySymbol finds a configured token by ticker, ignoring case.
func (d Definition) TokenBySymbol(symbol string) (Token, bool) {
	for _, token := range d.Tokens {
		if strings.EqualFold(token.Symbol, symbol) {
			return token, true
		}
	}
	return Token{}, false
}

var knownChainIDs = map[string]uint64{
	"ethereum":         1,
	"mainnet":          1,
	"sepolia":          11155111,
	"holesky":          17000,
	"base":             8453,
	"base-sepolia":     84532,
	"optimism":         10,
	"arbitrum":         42161,
	"polygon":          137,
	"bsc":              56,
	"avalanche":        43114,
	"anvil":            31337,
	"hardhat":          31337,
	"simulated":        1337,
	"ethereum-sepolia": 11155111,
}

// KnownChainID maps well known network names to their EIP-155 chain id.
func KnownChainID(network string) (uint64, bool) {
	id, ok := knownChainIDs[strings.ToLower(strings.TrimSpace(network))]
	return id, ok
}
