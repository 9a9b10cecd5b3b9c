package gerrit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Account identifies a Gerrit user.
type Account struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// UsernameOrUnknown returns the account username, or "UNKNOWN" for events
// that carry no account information.
func (a Account) UsernameOrUnknown() string {
	if a.Username == "" {
		return "UNKNOWN"
	}
	return a.Username
}

// Approval is a single review vote on a change.
type Approval struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Value       IntString `json:"value"`
	OldValue    IntString `json:"oldValue,omitempty"`
}

// Change carries the change-level fields of a Gerrit event payload.
type Change struct {
	Project       string  `json:"project"`
	Branch        string  `json:"branch"`
	ID            string  `json:"id"`
	Number        int     `json:"number"`
	Subject       string  `json:"subject"`
	Owner         Account `json:"owner"`
	URL           string  `json:"url"`
	CommitMessage string  `json:"commitMessage"`
	Status        string  `json:"status,omitempty"`
}

// PatchSet carries the patchset-level fields of a Gerrit event payload.
type PatchSet struct {
	Number   int     `json:"number"`
	Revision string  `json:"revision"`
	Ref      string  `json:"ref"`
	Uploader Account `json:"uploader"`
}

// Payload is the decoded body of a Gerrit event message. The same shape
// covers patchset-created, comment-added, and change-merged events; fields
// absent from a given event are zero.
type Payload struct {
	Change    Change     `json:"change"`
	PatchSet  PatchSet   `json:"patchSet"`
	Approvals []Approval `json:"approvals,omitempty"`
	Author    Account    `json:"author,omitempty"`
	Uploader  Account    `json:"uploader,omitempty"`
	Submitter Account    `json:"submitter,omitempty"`
	Comment   string     `json:"comment,omitempty"`
}

// DecodePayload unmarshals a raw message body into both the typed payload
// and a generic map for guard evaluation.
func DecodePayload(raw []byte) (Payload, map[string]interface{}, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, nil, fmt.Errorf("decode gerrit payload: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Payload{}, nil, fmt.Errorf("decode gerrit payload: %w", err)
	}
	return payload, fields, nil
}

// IntString decodes a JSON number or numeric string. Gerrit emits approval
// values as quoted strings; test fixtures and some relays use bare numbers.
type IntString int

func (v *IntString) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*v = 0
		return nil
	}
	parsed, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q", text)
	}
	*v = IntString(parsed)
	return nil
}
