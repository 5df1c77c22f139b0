package tts

import (
	"fmt"
)

// Backend identifies which synthesis backend serves an invocation.
type Backend int

const (
	// BackendNone means selection failed or has not run
	BackendNone Backend = iota

	// BackendRemote is the OpenAI speech API
	BackendRemote

	// BackendLocal is the macOS say command
	BackendLocal
)

// String returns the backend name used in logs and cache metadata.
func (b Backend) String() string {
	switch b {
	case BackendRemote:
		return "openai"
	case BackendLocal:
		return "say"
	default:
		return "none"
	}
}

// Override narrows backend selection to an explicit user choice.
type Override int

const (
	// OverrideNone lets the credential decide
	OverrideNone Override = iota

	// OverrideRemote forces the OpenAI backend
	OverrideRemote

	// OverrideLocal forces the say backend
	OverrideLocal
)

// SelectBackend picks the synthesis backend for one invocation.
//
// An explicit local override always wins. An explicit remote override
// requires a credential and fails rather than falling back. With no
// override, the presence of a credential decides. The choice is made once
// per invocation: a failure after selection surfaces as an error, never as
// a silent switch to the other backend.
func SelectBackend(cred Credential, override Override) (Backend, error) {
	switch override {
	case OverrideLocal:
		return BackendLocal, nil
	case OverrideRemote:
		if !cred.Present() {
			return BackendNone, fmt.Errorf("%w: set OPENAI_API_KEY or openai.api_key to use the remote backend", ErrCredentialMissing)
		}
		return BackendRemote, nil
	}

	if cred.Present() {
		return BackendRemote, nil
	}
	return BackendLocal, nil
}
