// Package llm provides a Dialog-centric abstraction over chat-completion
// model providers.
//
// The Dialog type holds the entire conversation state as immutable data;
// a Driver turns a Dialog into a single model-generated Row. The MockDriver
// satisfies the same contract deterministically so dependent code can be
// tested without network access.
package llm
