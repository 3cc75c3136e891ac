// Package action turns recognised intents into validated smart contract
// actions. Each action type is described by a static Spec that names the
// target contract and method, declares its parameters with their defaults,
// and knows how to order the call arguments. The Guard checks the active
// network before anything is dispatched.
package action
