package session

import (
	"dirbrowse/listing"
	"dirbrowse/navigation"
)

// State is a point-in-time copy of what the user sees. Entries is empty at
// home.
type State struct {
	View      navigation.View  `json:"view"`
	RootID    string           `json:"rootId,omitempty"`
	Path      string           `json:"path"`
	Depth     int              `json:"depth"`
	Entries   listing.Snapshot `json:"entries"`
	Loading   bool             `json:"loading"`
	Uploading bool             `json:"uploading"`
	// Progress is the completed fraction of UploadFile.
	Progress   float64 `json:"progress"`
	UploadFile string  `json:"uploadFile,omitempty"`
}

// Busy reports whether controls should be disabled.
func (s State) Busy() bool { return s.Loading || s.Uploading }
