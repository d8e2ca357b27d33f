package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"scene-sync/internal/services"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// SceneAdmin is a scene store that can also drop a room
type SceneAdmin interface {
	services.SceneStore
	DeleteScene(ctx context.Context, roomID string) error
}

// BlobAdmin removes stored files
type BlobAdmin interface {
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Backend is what the commands operate on. Blobs is nil when files live
// in a remote bucket.
type Backend struct {
	Scenes SceneAdmin
	Blobs  BlobAdmin
	Close  func() error
}

// Opener connects to the configured stores
type Opener func(ctx context.Context) (*Backend, error)

// NewRootCommand creates the root command for scenectl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scenectl",
		Short: "Inspect and repair encrypted room scenes",
		Long: `Operator tool for the scene sync store.

Reads and writes room scenes with the room key, the same way the server
does: saves are reconciled against what is stored, never blindly replaced.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts, open))
	cmd.AddCommand(NewSaveCommand(opts, open))
	cmd.AddCommand(NewDeleteCommand(opts, open))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withBackend opens the stores for the duration of fn
func withBackend(ctx context.Context, open Opener, fn func(*Backend) error) error {
	backend, err := open(ctx)
	if err != nil {
		return err
	}
	if backend.Close != nil {
		defer backend.Close()
	}
	return fn(backend)
}

// output writes v as indented JSON, or text through the given printer
func output(w io.Writer, opts *RootOptions, v interface{}, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
