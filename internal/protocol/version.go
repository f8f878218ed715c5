package protocol

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the protocol version advertised by the broadcast server.
const Version = "1.0.0"

// VersionHeader carries Version on the websocket handshake response.
const VersionHeader = "X-Livedev-Protocol"

// SupportedConstraint is the range of server versions a client understands.
const SupportedConstraint = "^1.0.0"

// Compatible reports whether a server advertising version satisfies the
// client's supported constraint. An empty version is treated as compatible
// so that older servers without the header keep working.
func Compatible(version string) (bool, error) {
	if version == "" {
		return true, nil
	}

	c, err := semver.NewConstraint(SupportedConstraint)
	if err != nil {
		return false, fmt.Errorf("parsing constraint %q: %w", SupportedConstraint, err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parsing protocol version %q: %w", version, err)
	}

	return c.Check(v), nil
}
