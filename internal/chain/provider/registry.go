package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"AgentReceipt/internal/chain"
	"AgentReceipt/internal/chain/ethereum"
	xerrors "AgentReceipt/internal/errors"
)

// Client is a chain reader that also owns network connections.
type Client interface {
	chain.Reader
	Close()
}

// Registry manages a set of chain clients keyed by network name.
type Registry struct {
	defaultChain string
	clients      map[string]Client
	definitions  map[string]chain.Definition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, definitionsPath, defaultChain string) (*Registry, error) {
	defs, err := chain.LoadDefinitions(definitionsPath)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]Client)
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:   name,
				RPCURL: def.RPCURL,
				Notes:  def.Description,
			})
			if err != nil {
				closeAll(clients)
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			closeAll(clients)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
	}

	return NewStaticRegistry(defaultChain, clients, defs.Chains)
}

// NewStaticRegistry builds a registry from already constructed clients.
func NewStaticRegistry(defaultChain string, clients map[string]Client, defs map[string]chain.Definition) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	if defs == nil {
		defs = map[string]chain.Definition{}
	}
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	return &Registry{defaultChain: defaultChain, clients: clients, definitions: defs}, nil
}

// Reader implements chain.Resolver. An empty network name selects the
// default chain.
func (r *Registry) Reader(network string) (chain.Reader, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端注册表")
	}
	name := strings.TrimSpace(network)
	if name == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("网络 %s 未在注册表中", name))
	}
	return client, nil
}

// DefaultChain returns the configured default network name.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Definition returns the configured metadata of a network.
func (r *Registry) Definition(network string) (chain.Definition, bool) {
	if r == nil {
		return chain.Definition{}, false
	}
	def, ok := r.definitions[network]
	return def, ok
}

// ChainIDs returns the configured EIP-155 chain id of every network that
// declares one.
func (r *Registry) ChainIDs() map[string]uint64 {
	if r == nil {
		return nil
	}
	ids := make(map[string]uint64, len(r.definitions))
	for name, def := range r.definitions {
		if def.ChainID != 0 {
			ids[name] = def.ChainID
		}
	}
	return ids
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.clients)
}

// Chains returns the list of registered network names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closeAll(clients map[string]Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}

var _ chain.Resolver = (*Registry)(nil)
