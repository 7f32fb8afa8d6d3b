package models

// MenuVoteDetails tracks who submitted, recommended or disliked a menu key.
type MenuVoteDetails struct {
	Recommenders []string `json:"recommenders"`
	Submitters   []string `json:"submitters"`
	DislikedBy   []string `json:"dislikedBy"`
	IsExcluded   bool     `json:"isExcluded"`
}

// MenuStatus is the server's per-room submission and vote state.
type MenuStatus struct {
	SubmittedMenusByUsers       map[string][]string        `json:"submittedMenusByUsers"`
	MenuVotes                   map[string]MenuVoteDetails `json:"menuVotes,omitempty"`
	DislikedAndExcludedMenuKeys []string                   `json:"dislikedAndExcludedMenuKeys,omitempty"`
	UserSubmitStatus            map[string]bool            `json:"userSubmitStatus"`
}

// HasSubmitted is the single definition of "username has submitted": the
// status flag is set and the item list is non-empty.
func (m *MenuStatus) HasSubmitted(username string) bool {
	if m == nil {
		return false
	}
	return m.UserSubmitStatus[username] && len(m.SubmittedMenusByUsers[username]) > 0
}

// SubmittedCount counts users that satisfy HasSubmitted.
func (m *MenuStatus) SubmittedCount() int {
	if m == nil {
		return 0
	}
	n := 0
	for username := range m.UserSubmitStatus {
		if m.HasSubmitted(username) {
			n++
		}
	}
	return n
}

// MenuOption is the display-friendly (username, items) pair.
type MenuOption struct {
	Username  string   `json:"username"`
	MenuItems []string `json:"menuItems"`
}

// DrawResult is the outcome of a draw.
type DrawResult struct {
	SelectedMenu     []string `json:"selectedMenu"`
	SelectedUsername string   `json:"selectedUser"`
}

// MenuSubmission is the body of a submit-menu call.
type MenuSubmission struct {
	Menus []string `json:"menus"`
}
