// Package session provides the scan session store.
// A store holds one namespace's ordered collection of scan sessions, each an
// append-only transcript of submitted inputs and their classification
// results, and writes the collection through to a storage backend after
// every mutation.
package session

// DefaultLabel is the label given to freshly created sessions.
const DefaultLabel = "New Scan"

// autoLabelLength is the number of input characters used when a session is
// labeled from its first scan.
const autoLabelLength = 20

// Status is the verdict of a classification.
type Status string

const (
	// StatusScam marks input classified as a scam.
	StatusScam Status = "scam"
	// StatusSafe marks input classified as safe.
	StatusSafe Status = "safe"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusScam || s == StatusSafe
}

// ScanResult is the classification outcome for one input.
type ScanResult struct {
	// Status is the verdict.
	Status Status `json:"status"`
	// Confidence is an integer percentage in [0, 100].
	Confidence int `json:"confidence"`
	// Explanation holds human-readable reasons, in order.
	Explanation []string `json:"explanation"`
	// Sources holds citation strings, in order.
	Sources []string `json:"sources"`
}

// ScanRecord is one submitted input and its result.
// Records are never edited once appended.
type ScanRecord struct {
	Input  string     `json:"input"`
	Result ScanResult `json:"result"`
}

// Session is one scan conversation thread.
type Session struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id"`
	// Label is the display name.
	Label string `json:"label"`
	// Scans is the transcript in submission order.
	Scans []ScanRecord `json:"scans"`
}

// Collection is the persisted unit for a namespace.
type Collection struct {
	Sessions []Session `json:"sessions"`
}

// Clone returns a deep copy of the result.
func (r ScanResult) Clone() ScanResult {
	out := r
	out.Explanation = cloneStrings(r.Explanation)
	out.Sources = cloneStrings(r.Sources)
	return out
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := Session{ID: s.ID, Label: s.Label, Scans: make([]ScanRecord, len(s.Scans))}
	for i, rec := range s.Scans {
		out.Scans[i] = ScanRecord{Input: rec.Input, Result: rec.Result.Clone()}
	}
	return out
}

// Clone returns a deep copy of the collection.
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	out := &Collection{Sessions: make([]Session, len(c.Sessions))}
	for i, s := range c.Sessions {
		out.Sessions[i] = s.Clone()
	}
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
