package dispatch

import (
	"strings"

	"github.com/fleetwire/ingestd/internal/regtypes"
)

// actionKind identifies which handler a parsed topic routes to.
type actionKind int

const (
	actionUnhandled actionKind = iota
	actionSystemInfo
	actionAppInfo
	actionRegisterProp
	actionLog
	actionPropPubFull
)

// action is a parsed topic (componentId segment already stripped by the
// event handler shell).
type action struct {
	kind   actionKind
	source regtypes.Source
	path   string // joined property path, for actionPropPubFull
}

// parseTopic parses a per-component topic tail into an action. Anything
// outside the grammar — partial publish, get/set, <source>/connections —
// is reserved and reported as actionUnhandled.
func parseTopic(topic string) action {
	segments := strings.Split(topic, "/")
	if len(segments) < 2 {
		return action{kind: actionUnhandled}
	}

	source := regtypes.Source(segments[0])
	if !source.Valid() {
		return action{kind: actionUnhandled}
	}
	rest := segments[1:]

	switch {
	case len(rest) == 1 && rest[0] == "info":
		if source == regtypes.SourceSystem {
			return action{kind: actionSystemInfo, source: source}
		}
		return action{kind: actionAppInfo, source: source}

	case len(rest) == 2 && rest[0] == "register" && rest[1] == "prop":
		return action{kind: actionRegisterProp, source: source}

	case len(rest) == 1 && rest[0] == "log":
		return action{kind: actionLog, source: source}

	case len(rest) >= 3 && rest[0] == "prop" && rest[1] == "pub" && rest[2] == ":":
		return action{kind: actionPropPubFull, source: source, path: strings.Join(rest[3:], "/")}

	default:
		return action{kind: actionUnhandled, source: source}
	}
}
