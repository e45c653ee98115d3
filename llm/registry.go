package llm

import (
	"fmt"
	"sync"
)

// 进程级 Provider 注册表。具体实现（外部插件）在启动时自注册，
// 核心通过能力表调用。
var (
	registryMu       sync.RWMutex
	providerRegistry = make(map[string]Provider)
)

// RegisterProvider 注册 Provider，重名报错
func RegisterProvider(name string, p Provider) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := providerRegistry[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	providerRegistry[name] = p
	return nil
}

// LookupProvider 按名称查找已注册的 Provider
func LookupProvider(name string) (Provider, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := providerRegistry[name]
	return p, ok
}

// RegisteredProviders 返回注册表副本
func RegisteredProviders() map[string]Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[string]Provider, len(providerRegistry))
	for name, p := range providerRegistry {
		out[name] = p
	}
	return out
}
