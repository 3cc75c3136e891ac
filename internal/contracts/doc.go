// Package contracts holds the ABIs of the Flow contracts and binds them to a
// network and signer through go-ethereum.
package contracts
