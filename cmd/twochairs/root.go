package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ashureev/twochairs/internal/chairs"
	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/journal"
	"github.com/ashureev/twochairs/internal/room"
	"github.com/ashureev/twochairs/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "twochairs",
		Short:         "Talk it through from both chairs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newChatCmd(),
		newRoomCmd(),
		newLogCmd(),
		newResetCmd(),
		newSessionsCmd(),
	)
	return root
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the two-chairs dialogue between yourself and your inner critic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			client := chairs.New(a.client, chairs.Options{
				MaxTextLen:    a.cfg.MaxTextLen,
				StepThreshold: a.cfg.StepThreshold,
				Sessions:      a.repo,
				Journal:       a.journal,
				ConvLog:       a.convlog,
				Logger:        a.logger,
			})
			if err := client.Restore(ctx); err != nil {
				return err
			}

			m := tui.NewChairsModel(ctx, client, a.health, a.cfg.MaxTextLen, a.cfg.StepThreshold)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
}

func newRoomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "room",
		Short: "Talk one-to-one in the therapist room",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			client := room.New(a.client, room.Options{
				MaxTextLen: a.cfg.MaxTextLen,
				Sessions:   a.repo,
				Journal:    a.journal,
				ConvLog:    a.convlog,
				Logger:     a.logger,
			})
			if err := client.Restore(ctx); err != nil {
				return err
			}

			m := tui.NewRoomModel(ctx, client, a.health, a.cfg.MaxTextLen)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
}

func newLogCmd() *cobra.Command {
	var (
		mode      string
		sessionID string
		export    string
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Fetch the server log of a session and print or export it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id, err := resolveSession(ctx, a, domain.Mode(mode), sessionID)
			if err != nil {
				return err
			}
			entries, err := a.journal.Resync(ctx, a.client, id)
			if err != nil {
				return err
			}

			text := journal.Export(entries)
			if export == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}
			if export == "-" || export == "auto" {
				export = journal.ExportFileName(time.Now())
			}
			if err := os.WriteFile(export, []byte(text), 0o640); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "exported", len(entries), "entries to", export)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeTwoChairs), "session mode (two-chairs or therapist-room)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (defaults to the remembered one)")
	cmd.Flags().StringVar(&export, "export", "", "write the transcript to FILE instead of stdout (\"auto\" picks a name)")
	return cmd
}

func newResetCmd() *cobra.Command {
	var (
		mode string
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the remembered session and its local transcript",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			modes := []domain.Mode{domain.Mode(mode)}
			if all {
				modes = []domain.Mode{domain.ModeTwoChairs, domain.ModeTherapistRoom}
			}
			for _, md := range modes {
				sess, err := a.repo.ActiveSession(ctx, md)
				if err != nil {
					return err
				}
				if sess == nil {
					continue
				}
				if err := a.journal.Clear(ctx, sess.ID); err != nil {
					return err
				}
				if err := a.repo.ClearActiveSession(ctx, md); err != nil {
					return err
				}
				a.logger.Info("session forgotten", "mode", md, "session_id", sess.ID)
				fmt.Fprintln(cmd.OutOrStdout(), "forgot", md, "session", sess.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeTwoChairs), "session mode to reset")
	cmd.Flags().BoolVar(&all, "all", false, "reset every mode")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List remembered sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.repo.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODE\tSESSION\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Mode, s.ID, s.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func resolveSession(ctx context.Context, a *app, mode domain.Mode, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	sess, err := a.repo.ActiveSession(ctx, mode)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("no remembered %s session, pass --session", mode)
	}
	return sess.ID, nil
}
