package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a snowflake identifier kept as its decimal string. It decodes from a
// JSON string or a bare JSON number; numbers go through json.Number so no
// precision is lost.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("decode id %s: %w", data, err)
	}
	for _, r := range n.String() {
		if r < '0' || r > '9' {
			return fmt.Errorf("decode id %s: not a decimal integer", data)
		}
	}
	*id = ID(n.String())
	return nil
}

// String returns the decimal form.
func (id ID) String() string { return string(id) }

// Muse is a persona a user can post as.
type Muse struct {
	Name     string   `json:"name"`
	Trigger  string   `json:"trigger"`
	Tags     []string `json:"tags"`
	OwnerID  ID       `json:"owner_id"`
	IsShared bool     `json:"is_shared"`
}

// LinkedThread is a thread the server already associates with a document.
type LinkedThread struct {
	ThreadID     ID       `json:"thread_id"`
	DocumentPath string   `json:"document_path"`
	Characters   []string `json:"characters"`
	ContainerID  ID       `json:"guild_id,omitempty"`
}

// ThreadState is the live turn-order state of a thread.
type ThreadState struct {
	Replied bool
	// Participants is nil when the server omitted the count.
	Participants *int
}

// ThreadStatus is the answer to a thread state query. State is nil when the
// thread is not tracked.
type ThreadStatus struct {
	Tracked bool
	State   *ThreadState
}

// TrackedThread is one entry of the tracked-threads listing.
type TrackedThread struct {
	ThreadID     ID     `json:"thread_id"`
	MuseName     string `json:"muse_name"`
	Participants int    `json:"participants"`
	DocumentPath string `json:"document_path,omitempty"`
	ContainerID  ID     `json:"guild_id,omitempty"`
}

// ThreadQuery asks for the state of one thread as seen by a set of muses.
type ThreadQuery struct {
	ThreadID   string
	Characters []string
	UserID     string
}

// Message is an outbound post.
type Message struct {
	ThreadID string
	MuseName string
	Content  string
	UserID   string
}

// SceneRegistration links a newly created document to a thread.
type SceneRegistration struct {
	ThreadID     string
	UserID       string
	DocumentPath string
	Characters   []string
	Participants int
	ContainerID  string
}
