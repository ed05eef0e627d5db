package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/juror"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/statusapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNotLoggedIn = errors.New("not logged in; run juror login first")

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Restore the stored session and print the client state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, false, func(ctx context.Context, rt *clientRuntime) error {
				if err := rt.coordinator.Bootstrap(ctx); err != nil {
					return err
				}
				printNotices(cmd.ErrOrStderr(), rt.coordinator)
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(statusapi.NewStateView(rt.coordinator.State()))
			})
		},
	}
}

func newLoginCommand() *cobra.Command {
	var form juror.LoginForm
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as a juror and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, false, func(ctx context.Context, rt *clientRuntime) error {
				_ = rt.coordinator.CheckLoginStatus(ctx)
				err := rt.coordinator.Login(ctx, form)
				printNotices(cmd.ErrOrStderr(), rt.coordinator)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", rt.coordinator.State().JurorDisplayName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&form.FirstName, "first-name", "", "Juror first name")
	cmd.Flags().StringVar(&form.SurName, "surname", "", "Juror surname")
	cmd.Flags().StringVar(&form.AdminPassword, "password", "", "Administrator password")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, false, func(ctx context.Context, rt *clientRuntime) error {
				err := rt.coordinator.Logout(ctx)
				printNotices(cmd.ErrOrStderr(), rt.coordinator)
				return err
			})
		},
	}
}

func newScoresCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scores",
		Short: "Print participants, criteria and the juror's points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, false, func(ctx context.Context, rt *clientRuntime) error {
				state, err := authenticatedState(ctx, rt)
				printNotices(cmd.ErrOrStderr(), rt.coordinator)
				if err != nil {
					return err
				}
				return printBoard(cmd.OutOrStdout(), state.Board)
			})
		},
	}
}

func newSubmitCommand() *cobra.Command {
	var (
		participantID string
		criterionID   string
		point         int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Save one point value",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, false, func(ctx context.Context, rt *clientRuntime) error {
				if _, err := authenticatedState(ctx, rt); err != nil {
					printNotices(cmd.ErrOrStderr(), rt.coordinator)
					return err
				}
				err := rt.coordinator.SubmitScore(ctx, participantID, criterionID, point)
				printNotices(cmd.ErrOrStderr(), rt.coordinator)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&participantID, "participant", "", "Participant id")
	cmd.Flags().StringVar(&criterionID, "criterion", "", "Criterion id")
	cmd.Flags().IntVar(&point, "point", 0, "Point value")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("criterion")
	_ = cmd.MarkFlagRequired("point")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay signed in and follow live updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, true, runWatch)
		},
	}
}

func runWatch(ctx context.Context, rt *clientRuntime) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runDone := make(chan error, 1)
	go func() { runDone <- rt.coordinator.Run(signalCtx) }()

	var statusServer *http.Server
	if rt.config.StatusAddress != "" {
		handler, err := statusapi.NewHTTPHandler(statusapi.Dependencies{
			States:   rt.coordinator,
			Gatherer: rt.registry,
			Logger:   rt.logger.Named("status"),
		})
		if err != nil {
			return err
		}
		statusServer = &http.Server{Addr: rt.config.StatusAddress, Handler: handler}
		go func() {
			rt.logger.Info("status api starting", zap.String("address", rt.config.StatusAddress))
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("status api stopped", zap.Error(err))
			}
		}()
	}

	if err := rt.coordinator.Bootstrap(signalCtx); err != nil {
		return err
	}
	states, unsubscribe := rt.coordinator.Subscribe(signalCtx)
	defer unsubscribe()

	var lastNote string
	for {
		select {
		case notice, ok := <-rt.coordinator.Notices():
			if !ok {
				return nil
			}
			rt.logger.Info("notice", zap.String("kind", string(notice.Kind)), zap.String("message", notice.Message))
		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if state.ConnectionNote != lastNote {
				lastNote = state.ConnectionNote
				rt.logger.Info("connection", zap.String("note", lastNote), zap.Bool("live", state.LiveConnected))
			}
		case <-signalCtx.Done():
			if statusServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = statusServer.Shutdown(shutdownCtx)
			}
			<-runDone
			return nil
		}
	}
}

func withRuntime(cmd *cobra.Command, withLive bool, run func(context.Context, *clientRuntime) error) error {
	rt, err := newRuntime(withLive)
	if err != nil {
		return err
	}
	defer rt.Close()
	return run(cmd.Context(), rt)
}

func authenticatedState(ctx context.Context, rt *clientRuntime) (juror.State, error) {
	if err := rt.coordinator.Bootstrap(ctx); err != nil {
		return juror.State{}, err
	}
	state := rt.coordinator.State()
	if !state.Authenticated {
		return juror.State{}, errNotLoggedIn
	}
	return state, nil
}

func printNotices(out io.Writer, coordinator *juror.Coordinator) {
	for {
		select {
		case notice, ok := <-coordinator.Notices():
			if !ok {
				return
			}
			fmt.Fprintf(out, "[%s] %s\n", notice.Kind, notice.Message)
		default:
			return
		}
	}
}

func printBoard(out io.Writer, board scoring.Board) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PARTICIPANT\tCRITERION\tPOINTS\tMAX")
	for _, participant := range board.Participants {
		for _, criterion := range board.Criteria {
			key := scoring.NewScoreKey(participant.ID, criterion.ID)
			points := "-"
			if committed, ok := board.Committed(key); ok {
				points = fmt.Sprint(committed)
			}
			if draft, ok := board.Drafts[key]; ok {
				points += fmt.Sprintf(" (draft %d)", draft)
			}
			fmt.Fprintf(writer, "%s %s [%s]\t%s [%s]\t%s\t%d\n",
				participant.Name, participant.Surname, participant.ID,
				criterion.Name, criterion.ID, points, criterion.MaxPoints)
		}
	}
	return writer.Flush()
}
