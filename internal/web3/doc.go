// Package web3 describes the EVM networks the agent can act on: chain ids,
// RPC endpoints, native currency and the addresses of the deployed Flow
// contracts. Concrete RPC access lives in the ethereum subpackage and the
// active connection is tracked by the provider subpackage.
package web3
