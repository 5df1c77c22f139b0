package replay

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"
)

var (
	idStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#2B4A3F", Dark: "#ABE5D1"})
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#847A85", Dark: "#979797"})
	promptStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "#847A85", Dark: "#979797"})
)

// WriteList prints the cached clips, newest first, one block per clip.
func (r *Resolver) WriteList(w io.Writer) error {
	entries := r.store.List()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No cached audio files found.")
		return nil
	}

	// IDs grow past eight characters after a collision; pad every ID to
	// the widest so the metadata column stays aligned.
	idWidth := 0
	for _, e := range entries {
		if w := runewidth.StringWidth(e.ID); w > idWidth {
			idWidth = w
		}
	}

	for i, e := range entries {
		voice := e.Voice
		if voice == "" {
			voice = "default"
		}

		size := "?"
		if info, err := os.Stat(e.Path()); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}

		fmt.Fprintf(w, "%d. %s  %s\n",
			i+1,
			idStyle.Render(runewidth.FillRight(e.ID, idWidth)),
			metaStyle.Render(fmt.Sprintf("%s · %s · %s · %s · %s",
				humanize.Time(e.CreatedAt), voice, e.Provider, e.Format, size)),
		)
		fmt.Fprintf(w, "   %s\n", clipText(e.Text, 80))
		if e.Instructions != "" {
			fmt.Fprintf(w, "   %s\n", promptStyle.Render(clipText(e.Instructions, 80)))
		}
	}
	return nil
}
