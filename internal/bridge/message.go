package bridge

import "github.com/gzhole/gameblocker/internal/scanner"

// Message types exchanged with the page relay.
const (
	TypeNavigate = "navigate"
	TypeKey      = "key"
	TypeLoaded   = "loaded"
	TypeState    = "state"
	TypeBlock    = "block"
	TypeError    = "error"
)

// Message is the JSON frame used in both directions on /ws.
type Message struct {
	Type string `json:"type"`

	// navigate
	URL  string `json:"url,omitempty"`
	Host string `json:"host,omitempty"`

	// key
	Key string `json:"key,omitempty"`

	// loaded
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`

	// block, error
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`

	// state
	State *StateView `json:"state,omitempty"`
}

// StateView is the session snapshot returned for a state request.
type StateView struct {
	SessionID      string         `json:"session_id"`
	Domain         string         `json:"domain"`
	Classification string         `json:"classification"`
	Phase          string         `json:"phase"`
	WindowCount    int            `json:"window_count"`
	Counts         map[string]int `json:"counts,omitempty"`
	Armed          bool           `json:"armed"`
	Blocked        bool           `json:"blocked"`
	Reason         string         `json:"reason,omitempty"`
}

// location returns the URL if present, otherwise the host.
func (m Message) location() string {
	if m.URL != "" {
		return m.URL
	}
	return m.Host
}

// document builds the scanner input for a loaded message. Without
// explicit text the visible text is derived from the markup.
func (m Message) document() scanner.Document {
	if m.Text == "" {
		return scanner.NewHTMLDocument(m.HTML)
	}
	return scanner.StaticDocument{Text: m.Text, HTML: m.HTML}
}
