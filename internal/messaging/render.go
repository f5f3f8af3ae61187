package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

const (
	// OptionFormat renders one reply button as a numbered line.
	OptionFormat = "\n%d. %s"
	// RowFormat renders one list row with its description.
	RowFormat = "\n%d. %s - %s"
	// OptionHint closes a rendered option list.
	OptionHint = "\n\nResponde con el número de tu opción."
)

// option is what a numbered reply stands for.
type option struct {
	Title string
	Reply string
}

// renderText turns buttons and lists into numbered plain text for transports
// without interactive messages. It also returns the options in display order.
func renderText(c models.Content) (string, []option) {
	var (
		b    strings.Builder
		opts []option
	)
	b.WriteString(c.Text)

	switch c.Kind {
	case models.ContentButtons:
		b.WriteString("\n")
		for i, btn := range c.Buttons {
			fmt.Fprintf(&b, OptionFormat, i+1, btn.Title)
			reply := btn.Title
			if btn.ID != "" {
				reply = btn.ID
			}
			opts = append(opts, option{Title: btn.Title, Reply: reply})
		}
		b.WriteString(OptionHint)
	case models.ContentList:
		if c.List.Header != "" {
			b.WriteString("\n\n*" + c.List.Header + "*")
		}
		b.WriteString("\n")
		n := 0
		for _, sec := range c.List.Sections {
			if sec.Title != "" {
				b.WriteString("\n*" + sec.Title + "*")
			}
			for _, row := range sec.Rows {
				n++
				if row.Description != "" {
					fmt.Fprintf(&b, RowFormat, n, row.Title, row.Description)
				} else {
					fmt.Fprintf(&b, OptionFormat, n, row.Title)
				}
				opts = append(opts, option{Title: row.Title, Reply: row.ID})
			}
		}
		if c.List.Footer != "" {
			b.WriteString("\n\n_" + c.List.Footer + "_")
		}
		b.WriteString(OptionHint)
	}
	return b.String(), opts
}

// optionMemory remembers the options last rendered to each conversation so a
// numbered or typed reply can be turned back into the button or row reply.
type optionMemory struct {
	mu    sync.Mutex
	byKey map[string][]option
}

func newOptionMemory() *optionMemory {
	return &optionMemory{byKey: make(map[string][]option)}
}

// remember records opts as the current menu for key. Empty opts forget it.
func (m *optionMemory) remember(key string, opts []option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(opts) == 0 {
		delete(m.byKey, key)
		return
	}
	m.byKey[key] = opts
}

// resolve rewrites a text event that picks a remembered option into a
// buttonReply carrying the option's reply value. Options are consumed on a match.
func (m *optionMemory) resolve(ev models.Event) models.Event {
	if ev.Kind != models.EventText {
		return ev
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	opts := m.byKey[ev.Key]
	if len(opts) == 0 {
		return ev
	}
	body := strings.TrimSpace(ev.Body)
	if n, err := strconv.Atoi(strings.TrimSuffix(body, ".")); err == nil && n >= 1 && n <= len(opts) {
		ev.Kind = models.EventButtonReply
		ev.Body = opts[n-1].Reply
		delete(m.byKey, ev.Key)
		return ev
	}
	for _, o := range opts {
		if strings.EqualFold(body, o.Title) {
			ev.Kind = models.EventButtonReply
			ev.Body = o.Reply
			delete(m.byKey, ev.Key)
			return ev
		}
	}
	return ev
}
