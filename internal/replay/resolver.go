package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/osay/internal/audio"
	"github.com/dgnsrekt/osay/internal/cache"
	"github.com/muesli/reflow/truncate"
)

var (
	// ErrNoCachedAudio is returned when replay is requested on an empty cache
	ErrNoCachedAudio = errors.New("no cached audio yet")

	// ErrSelectorUnavailable is returned when interactive selection needs fzf and it is not installed
	ErrSelectorUnavailable = errors.New("fzf not found, install it or pass an identifier")
)

// displayWidth caps the text preview in picker lines.
const displayWidth = 128

// Resolver turns a replay intent into playback of a cached clip.
type Resolver struct {
	store    *cache.Store
	player   audio.Player
	lookPath func(string) (string, error)
}

// NewResolver builds a resolver over the given store and player.
func NewResolver(store *cache.Store, player audio.Player) *Resolver {
	return &Resolver{
		store:    store,
		player:   player,
		lookPath: exec.LookPath,
	}
}

// PlayLatest plays the most recently cached clip.
func (r *Resolver) PlayLatest(ctx context.Context) error {
	entry, ok := r.store.MostRecent()
	if !ok {
		return fmt.Errorf("%w: generate some audio first", ErrNoCachedAudio)
	}
	log.Info("playing cached audio", "id", entry.ID, "text", clipText(entry.Text, 60))
	return r.player.PlayFile(ctx, entry.Path(), entry.Format)
}

// PlayID plays the clip whose identifier matches the given prefix. An
// unknown or ambiguous prefix is reported, never guessed around.
func (r *Resolver) PlayID(ctx context.Context, partial string) error {
	entry, err := r.store.Resolve(partial)
	if err != nil {
		return err
	}
	log.Info("playing cached audio", "id", entry.ID)
	return r.player.PlayFile(ctx, entry.Path(), entry.Format)
}

// PickAndPlay lets the user choose a clip through fzf. Cancelling the
// picker is a no-op, not an error.
func (r *Resolver) PickAndPlay(ctx context.Context) error {
	entries := r.store.List()
	if len(entries) == 0 {
		return fmt.Errorf("%w: generate some audio first", ErrNoCachedAudio)
	}

	fzf, err := r.lookPath("fzf")
	if err != nil {
		return ErrSelectorUnavailable
	}

	id, ok, err := r.pick(ctx, fzf, entries)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("selection cancelled")
		return nil
	}
	return r.PlayID(ctx, id)
}

// pick runs fzf over "id<TAB>display" lines. The tab delimiter plus
// --with-nth=2 hides the identifier from the listing while keeping it in
// the selection, exactly what the caller needs back.
func (r *Resolver) pick(ctx context.Context, fzf string, entries []cache.Entry) (string, bool, error) {
	var input strings.Builder
	for _, e := range entries {
		voice := e.Voice
		if voice == "" {
			voice = "default"
		}
		text := clipText(e.Text, displayWidth)
		fmt.Fprintf(&input, "%s\t%s - %s - %s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04"), voice, text)
	}

	preview := fmt.Sprintf(`cat %q/"$(echo {} | cut -f1)".json`, r.store.Dir())
	cmd := exec.CommandContext(ctx, fzf,
		"-d", "\t", "--with-nth=2",
		"--preview", preview,
		"--preview-window", "up:3:wrap",
	)
	cmd.Stdin = strings.NewReader(input.String())
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// 130 is ESC/ctrl-c, 1 is "no match accepted". Both mean the
			// user walked away.
			if code := exitErr.ExitCode(); code == 130 || code == 1 {
				return "", false, nil
			}
		}
		return "", false, fmt.Errorf("selector failed: %w", err)
	}

	selected := strings.TrimSpace(stdout.String())
	if selected == "" {
		return "", false, nil
	}
	id, _, _ := strings.Cut(selected, "\t")
	return id, true, nil
}

// clipText flattens newlines and truncates for one-line display.
func clipText(text string, width uint) string {
	text = strings.Join(strings.Fields(text), " ")
	return truncate.StringWithTail(text, width, "...")
}
