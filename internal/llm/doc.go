// Package llm defines the language model contract used for free-text replies
// when no on-chain intent is recognised.
package llm
