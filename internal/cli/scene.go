package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"scene-sync/internal/codec"
	"scene-sync/internal/models"
	"scene-sync/internal/scene"
	"scene-sync/internal/services"

	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"
)

type keygenResult struct {
	Key string `json:"key"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "keygen",
		Short:        "Generate a new room key",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := codec.GenerateKey()
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), rootOpts, keygenResult{Key: key}, func(w io.Writer) {
				fmt.Fprintln(w, key)
			})
		},
	}
}

type sceneResult struct {
	RoomID       string            `json:"roomId"`
	SceneVersion int64             `json:"sceneVersion"`
	Elements     models.ElementSet `json:"elements"`
}

type sceneFlags struct {
	room string
	key  string
}

func (f *sceneFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.room, "room", "", "room id (required)")
	cmd.Flags().StringVar(&f.key, "key", "", "room key (required)")
	cmd.MarkFlagRequired("room")
	cmd.MarkFlagRequired("key")
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	flags := &sceneFlags{}
	var omitDeleted bool

	cmd := &cobra.Command{
		Use:          "load",
		Short:        "Decrypt and print a room's scene",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withBackend(ctx, open, func(b *Backend) error {
				svc := services.NewSceneService(b.Scenes, scene.NewVersionCache())
				elements, err := svc.Load(ctx, services.LoadRequest{
					RoomID:      flags.room,
					RoomKey:     flags.key,
					OmitDeleted: omitDeleted,
				})
				if err != nil {
					return err
				}
				if elements == nil {
					return fmt.Errorf("room %s has no stored scene", flags.room)
				}
				return printScene(cmd.OutOrStdout(), rootOpts, flags.room, elements)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&omitDeleted, "omit-deleted", false, "leave deleted elements out")
	return cmd
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	flags := &sceneFlags{}
	var file string

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Reconcile elements from a file into a room's scene",
		Long: `Reads a JSON array of elements and saves it the way a client would:
the elements are merged with the stored scene, newer versions win and
deleted elements stay deleted.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			var elements models.ElementSet
			if err := json.Unmarshal(data, &elements); err != nil {
				return fmt.Errorf("failed to parse %s: %w", file, err)
			}

			ctx := cmd.Context()
			return withBackend(ctx, open, func(b *Backend) error {
				svc := services.NewSceneService(b.Scenes, scene.NewVersionCache())
				saved, err := svc.Save(ctx, services.SaveRequest{
					// one-off connection: nothing was saved through it before
					ConnectionID: "scenectl-" + ksuid.New().String(),
					RoomID:       flags.room,
					RoomKey:      flags.key,
					Elements:     elements,
				})
				if err != nil {
					return err
				}
				return printScene(cmd.OutOrStdout(), rootOpts, flags.room, saved)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "elements JSON file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

type deleteResult struct {
	RoomID       string `json:"roomId"`
	FilesDeleted int64  `json:"filesDeleted"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	var room, filesPrefix string

	cmd := &cobra.Command{
		Use:          "delete",
		Short:        "Delete a room's scene and optionally its files",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withBackend(ctx, open, func(b *Backend) error {
				if err := b.Scenes.DeleteScene(ctx, room); err != nil {
					return err
				}

				result := deleteResult{RoomID: room}
				if filesPrefix != "" {
					if b.Blobs == nil {
						return fmt.Errorf("files are in a remote bucket, delete them there")
					}
					n, err := b.Blobs.DeletePrefix(ctx, filesPrefix)
					if err != nil {
						return err
					}
					result.FilesDeleted = n
				}

				return output(cmd.OutOrStdout(), rootOpts, result, func(w io.Writer) {
					fmt.Fprintf(w, "deleted room %s (%d files)\n", room, result.FilesDeleted)
				})
			})
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room id (required)")
	cmd.Flags().StringVar(&filesPrefix, "files-prefix", "", "also delete stored files under this prefix")
	cmd.MarkFlagRequired("room")
	return cmd
}

func printScene(w io.Writer, opts *RootOptions, roomID string, elements models.ElementSet) error {
	result := sceneResult{
		RoomID:       roomID,
		SceneVersion: scene.VersionOf(elements),
		Elements:     elements,
	}
	return output(w, opts, result, func(w io.Writer) {
		fmt.Fprintf(w, "room %s: version %d, %d elements\n", roomID, result.SceneVersion, len(elements))
		for _, el := range elements {
			state := ""
			if el.IsDeleted {
				state = " (deleted)"
			}
			fmt.Fprintf(w, "  %-8s %-24s %-10s v%d%s\n", el.Index, el.ID, el.Type, el.Version, state)
		}
	})
}
