package models

import (
	"crypto/rand"
	"encoding/hex"
)

// randomHex returns n hex characters from a CSPRNG.
func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(buf)[:n]
}

// Entity identifiers are opaque prefixed hex strings. Sessions, messages,
// turns, steps and the artifact rows use 12 hex chars; tool calls and
// subagents use 8.
func NewSessionID() string           { return "ses_" + randomHex(12) }
func NewMessageID() string           { return "msg_" + randomHex(12) }
func NewTurnID() string              { return "turn_" + randomHex(12) }
func NewStepID() string              { return "step_" + randomHex(12) }
func NewFileChangeID() string        { return "fc_" + randomHex(12) }
func NewFileVersionID() string       { return "fv_" + randomHex(12) }
func NewPermissionRequestID() string { return "pr_" + randomHex(12) }
func NewContextItemID() string       { return "ctx_" + randomHex(12) }
func NewToolCallID() string          { return "tc_" + randomHex(8) }
func NewSubagentID() string          { return "sub_" + randomHex(8) }
