package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/emuhub/library"
)

func newLibraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage games, emulator builds and cheats",
	}
	cmd.AddCommand(
		newAddGameCmd(),
		newRemoveGameCmd(),
		newAddEmulatorCmd(),
		newSelectEmulatorCmd(),
		newSetUserDirCmd(),
		newAddCheatCmd(),
		newEnableCheatCmd(),
		newEnablePatchCmd(),
		newListCmd(),
	)
	return cmd
}

// withStore opens the app for the duration of fn.
func withStore(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newAddGameCmd() *cobra.Command {
	var game library.Game
	cmd := &cobra.Command{
		Use:   "add-game <dir>",
		Short: "Add a game folder containing eboot.bin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			game.Path = dir
			if game.CUSA == "" {
				game.CUSA = filepath.Base(dir)
			}
			if game.Title == "" {
				game.Title = game.CUSA
			}
			return withStore(cmd, func(a *app) error {
				saved, err := a.store.AddGame(cmd.Context(), game)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added game %s (%s)\n", saved.ID, saved.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&game.CUSA, "cusa", "", "content id (default: the folder name)")
	cmd.Flags().StringVar(&game.Title, "title", "", "display title (default: the content id)")
	cmd.Flags().StringVar(&game.Version, "version", "", "game version, used to match cheats")
	cmd.Flags().StringVar(&game.FwVersion, "fw-version", "", "required firmware version")
	return cmd
}

func newRemoveGameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-game <game-id>",
		Short: "Remove a game from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				if err := a.store.RemoveGame(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed game %s\n", args[0])
				return nil
			})
		},
	}
}

func newAddEmulatorCmd() *cobra.Command {
	var selectIt bool
	cmd := &cobra.Command{
		Use:   "add-emulator <name> <dir>",
		Short: "Register an installed emulator build",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(a *app) error {
				emu, err := a.store.AddEmulator(cmd.Context(), library.Emulator{Name: args[0], Path: dir})
				if err != nil {
					return err
				}
				if _, err := os.Stat(emu.BinaryPath()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s not found\n", emu.BinaryPath())
				}
				if selectIt {
					if err := a.store.SelectEmulator(cmd.Context(), emu.ID); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added emulator %s (%s)\n", emu.ID, emu.Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&selectIt, "select", false, "also make this the selected emulator")
	return cmd
}

func newSelectEmulatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select-emulator <emulator-id>",
		Short: "Choose the emulator build games are launched with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				if err := a.store.SelectEmulator(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Selected emulator %s\n", args[0])
				return nil
			})
		},
	}
}

func newSetUserDirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-user-dir <dir>",
		Short: "Set the directory emulators run in",
		Long:  "Set the working directory of launched emulators. Its user/ subdirectory\nholds saves and emulator settings. An empty value runs the emulator in its\nown install directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if dir != "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				dir = abs
			}
			return withStore(cmd, func(a *app) error {
				return a.store.SetUserDir(cmd.Context(), dir)
			})
		},
	}
}

func newAddCheatCmd() *cobra.Command {
	var (
		hint   string
		memory []string
	)
	cmd := &cobra.Command{
		Use:   "add-cheat <game-id> <repo> <name>",
		Short: "Store a resolved cheat mod for a game",
		Long:  "Store a cheat mod as a list of memory writes. Each --mem value is\noffset:on:off, for example --mem 0x1234:01:00. Without --hint offsets are\nrelative to the game image.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mems := make([]library.CheatMemory, 0, len(memory))
			for _, m := range memory {
				parts := strings.Split(m, ":")
				if len(parts) != 3 || parts[0] == "" {
					return fmt.Errorf("invalid --mem %q, want offset:on:off", m)
				}
				mems = append(mems, library.CheatMemory{Offset: parts[0], On: parts[1], Off: parts[2]})
			}
			return withStore(cmd, func(a *app) error {
				game, err := a.store.GetGame(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = a.store.SaveCheatMod(cmd.Context(), library.CheatMod{
					CUSA:    game.CUSA,
					Version: game.Version,
					Repo:    args[1],
					Name:    args[2],
					Hint:    hint,
					Memory:  mems,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved cheat %s with %d memory writes\n", args[2], len(mems))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hint, "hint", "", "module hint; offsets become absolute addresses")
	cmd.Flags().StringArrayVar(&memory, "mem", nil, "memory write as offset:on:off, repeatable")
	_ = cmd.MarkFlagRequired("mem")
	return cmd
}

func newEnableCheatCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "enable-cheat <game-id> <repo> <name>",
		Short: "Apply a cheat mod on the next launch",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				game, err := a.store.GetGame(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = a.store.SetCheatEnabled(cmd.Context(), game, args[1], args[2], !disable)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "disable the cheat instead")
	return cmd
}

func newEnablePatchCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "enable-patch <game-id> <repo> [patch-file]",
		Short: "Pass a repository's patch file to the emulator",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				ctx := cmd.Context()
				game, err := a.store.GetGame(ctx, args[0])
				if err != nil {
					return err
				}
				if len(args) == 3 {
					if err := a.store.SetPatchFile(ctx, game.CUSA, args[1], args[2]); err != nil {
						return err
					}
				}
				repo := args[1]
				if disable {
					repo = ""
				}
				return a.store.EnablePatchRepo(ctx, game.CUSA, repo)
			})
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "stop passing any patch file for the game")
	return cmd
}

type libraryListing struct {
	Games     []library.Game     `json:"games" yaml:"games"`
	Emulators []library.Emulator `json:"emulators" yaml:"emulators"`
	UserDir   string             `json:"userDir" yaml:"user_dir"`
}

func newListCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List games and emulator builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				ctx := cmd.Context()
				var listing libraryListing
				var err error
				if listing.Games, err = a.store.ListGames(ctx); err != nil {
					return err
				}
				if listing.Emulators, err = a.store.ListEmulators(ctx); err != nil {
					return err
				}
				if listing.UserDir, err = a.store.UserDir(ctx); err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), output, listing, listing.writeText)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func (l libraryListing) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GAME ID\tCUSA\tVERSION\tTITLE")
	for _, g := range l.Games {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", g.ID, g.CUSA, g.Version, g.Title)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "EMULATOR ID\tNAME\tSELECTED\tPATH")
	for _, e := range l.Emulators {
		selected := ""
		if e.Selected {
			selected = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Name, selected, e.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if l.UserDir != "" {
		_, err := fmt.Fprintf(w, "\nUser dir: %s\n", l.UserDir)
		return err
	}
	return nil
}
