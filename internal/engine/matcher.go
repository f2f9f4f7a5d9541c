package engine

import (
	"errors"
	"strings"

	"github.com/roach88/scenekeeper/internal/frontblock"
	"github.com/roach88/scenekeeper/internal/threadref"
)

// Front-block keys read or written by the engine.
const (
	KeyLink         = "Link"
	KeyCharacters   = "Characters"
	KeyReplied      = "Replied?"
	KeyParticipants = "Participants"
	KeyIsActive     = "Is Active?"
	KeyCreated      = "Created"
)

// SkipReason explains why a document is not a reconciliation candidate.
type SkipReason string

const (
	SkipNoFrontBlock  SkipReason = "no-front-block"
	SkipInactive      SkipReason = "inactive"
	SkipNoLink        SkipReason = "no-link"
	SkipNoCharacters  SkipReason = "no-characters"
	SkipInvalidLink   SkipReason = "invalid-link"
	SkipReadError     SkipReason = "read-error"
	SkipLinkedNoMuses SkipReason = "linked-without-characters"
)

// Message returns a user-facing description of the reason.
func (r SkipReason) Message() string {
	switch r {
	case SkipNoFrontBlock:
		return "the document has no front-block"
	case SkipInactive:
		return `the scene is marked "Is Active?: false"`
	case SkipNoLink:
		return "the front-block has no Link"
	case SkipNoCharacters:
		return "the front-block lists no Characters"
	case SkipInvalidLink:
		return "the Link is not a thread address"
	case SkipLinkedNoMuses:
		return "the server's linked record lists no characters"
	case SkipReadError:
		return "the document could not be read"
	}
	return string(r)
}

// Classification is the matcher's verdict for one document.
type Classification struct {
	Skip   bool
	Reason SkipReason

	// Set for candidates only.
	Ref      threadref.Reference
	Personas []string
}

// Classify decides whether a document is an active, trackable scene.
//
// The checks run in a fixed order: block present, not explicitly inactive,
// Link present, Characters non-empty, Link resolvable. blockErr is the
// error returned when the block was read; frontblock.ErrNotPresent and a
// nil block both mean "no block".
func Classify(block *frontblock.Block, blockErr error) Classification {
	if block == nil || blockErr != nil {
		if blockErr != nil && !errors.Is(blockErr, frontblock.ErrNotPresent) {
			return skip(SkipReadError)
		}
		return skip(SkipNoFrontBlock)
	}

	if v, ok := block.Get(KeyIsActive); ok {
		if active, known := v.Bool(); known && !active {
			return skip(SkipInactive)
		}
	}

	link, ok := block.Get(KeyLink)
	if !ok || strings.TrimSpace(link.String()) == "" {
		return skip(SkipNoLink)
	}

	var personas []string
	if v, ok := block.Get(KeyCharacters); ok {
		personas = Personas(v.List())
	}
	if len(personas) == 0 {
		return skip(SkipNoCharacters)
	}

	ref, err := threadref.Resolve(link.String())
	if err != nil {
		return skip(SkipInvalidLink)
	}

	return Classification{Ref: ref, Personas: personas}
}

// Personas trims names and drops blanks and repeats, keeping the first
// occurrence of each.
func Personas(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func skip(reason SkipReason) Classification {
	return Classification{Skip: true, Reason: reason}
}
