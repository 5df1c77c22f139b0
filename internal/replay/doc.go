// Package replay plays previously cached clips: the most recent one, one
// picked by identifier prefix, or one chosen interactively through fzf.
package replay
