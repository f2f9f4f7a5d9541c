// Package threadref extracts thread identifiers from Discord message and
// channel addresses.
//
// Identifiers are snowflakes: 64-bit values that do not survive a float64
// round trip. They are kept as decimal strings everywhere and never parsed
// into a numeric type.
package threadref

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidReference is returned for any address that is not a 2- or
// 3-segment channels URL.
var ErrInvalidReference = errors.New("invalid thread reference")

// Reference identifies a remote thread.
type Reference struct {
	// ThreadID is the thread (or channel) that messages are posted to.
	ThreadID string
	// ContainerID is the guild the thread lives in.
	ContainerID string
	// ChannelID is the parent channel; equal to ThreadID for 2-segment links.
	ChannelID string
}

// refPattern matches discord.com, discordapp.com and the canary/ptb hosts.
var refPattern = regexp.MustCompile(
	`^(?:https?://)?(?:(?:canary|ptb)\.)?discord(?:app)?\.com/channels/(\d+)/(\d+)(?:/(\d+))?/?(?:[?#].*)?$`,
)

// Resolve parses a reference string.
//
//	.../channels/<guild>/<channel>/<thread>  -> thread, guild
//	.../channels/<guild>/<thread>            -> thread (== channel), guild
func Resolve(ref string) (Reference, error) {
	m := refPattern.FindStringSubmatch(trimSpace(ref))
	if m == nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}

	if m[3] != "" {
		return Reference{ThreadID: m[3], ContainerID: m[1], ChannelID: m[2]}, nil
	}
	return Reference{ThreadID: m[2], ContainerID: m[1], ChannelID: m[2]}, nil
}

// URL renders the canonical address for the reference.
func (r Reference) URL() string {
	if r.ChannelID == "" || r.ChannelID == r.ThreadID {
		return fmt.Sprintf("https://discord.com/channels/%s/%s", r.ContainerID, r.ThreadID)
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", r.ContainerID, r.ChannelID, r.ThreadID)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '<') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '>') {
		end--
	}
	return s[start:end]
}
