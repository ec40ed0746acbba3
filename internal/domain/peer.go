// Package domain contains entity without logic, just meta-data
package domain

import "strings"

// PeerID is an opaque peer identity. The local one is assigned by the peer
// transport; remote ones are whatever the user typed.
type PeerID string

func (id PeerID) String() string { return string(id) }

// Empty reports whether the id carries no usable characters.
func (id PeerID) Empty() bool {
	return strings.TrimSpace(string(id)) == ""
}
