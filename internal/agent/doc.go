// Package agent is the chat orchestrator. It turns a user message into a
// recognised intent and a validated action awaiting confirmation, hands
// confirmed actions to the task pipeline, and renders every outcome back onto
// the message record the presentation layer displays.
package agent
