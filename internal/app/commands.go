package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/doctor"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/remote"
)

// errNoOwner is returned when a command needs a running owner and none answers.
var errNoOwner = errors.New("no active murmur session")

func (r Runner) stopCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active session and finalize its transcript",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			socketPath, err := ipc.RuntimeSocketPath()
			if err != nil {
				return err
			}
			resp, handled, err := tryForward(cmd.Context(), socketPath, ipc.CommandStop)
			if !handled {
				return errNoOwner
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(r.Stdout, formatStatus(resp))
			return nil
		},
	}
}

func (r Runner) statusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the owner's session state",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			socketPath, err := ipc.RuntimeSocketPath()
			if err != nil {
				fmt.Fprintln(r.Stdout, "idle")
				return nil
			}
			resp, handled, err := tryForward(cmd.Context(), socketPath, ipc.CommandStatus)
			if err != nil {
				return err
			}
			if !handled || resp.State == "" {
				fmt.Fprintln(r.Stdout, "idle")
				return nil
			}
			fmt.Fprintln(r.Stdout, formatStatus(resp))
			return nil
		},
	}
}

func formatStatus(resp ipc.Response) string {
	if resp.SessionID == "" {
		return resp.State
	}
	elapsed := (time.Duration(resp.ElapsedMS) * time.Millisecond).Truncate(100 * time.Millisecond)
	line := fmt.Sprintf("%s session=%s elapsed=%s segments=%d", resp.State, resp.SessionID, elapsed, resp.Segments)
	if resp.InputLevel > 0 {
		line += fmt.Sprintf(" level=%.3f", resp.InputLevel)
	}
	counters := []struct {
		name  string
		value int64
	}{
		{"restarts", int64(resp.Restarts)},
		{"dropped", int64(resp.DroppedResults)},
		{"pending", int64(resp.PendingSubmissions)},
		{"failed", resp.SubmitFailures},
	}
	for _, counter := range counters {
		if counter.value > 0 {
			line += fmt.Sprintf(" %s=%d", counter.name, counter.value)
		}
	}
	return line
}

func (r Runner) devicesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available input devices",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			devices, err := audio.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				return errors.New("no audio devices found")
			}

			table := r.newTable([]string{"", "ID", "Description", "State", "Available", "Muted"})
			for _, device := range devices {
				defaultMark := ""
				if device.Default {
					defaultMark = "*"
				}
				table.Append([]string{
					defaultMark,
					device.ID,
					device.Description,
					device.State,
					yesNo(device.Available),
					yesNo(device.Muted),
				})
			}
			table.Render()
			return nil
		},
	}
}

func (r Runner) doctorCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run configuration, audio, and service checks",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			probes := doctor.DefaultProbes()
			if r.Probes != nil {
				probes = *r.Probes
			}
			report := doctor.Run(cmd.Context(), e.loaded, probes)
			fmt.Fprintln(r.Stdout, report.String())
			if !report.OK() {
				return errors.New("doctor checks failed")
			}
			return nil
		},
	}
}

func (r Runner) recordingsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recordings",
		Short: "List recordings stored by the transcription service",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			client, err := r.dialRemote(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), remote.DefaultCallTimeout)
			defer cancel()
			recordings, err := client.ListRecordings(ctx)
			if err != nil {
				return fmt.Errorf("list recordings: %w", err)
			}
			if len(recordings) == 0 {
				fmt.Fprintln(r.Stdout, "no recordings found")
				return nil
			}

			table := r.newTable([]string{"ID", "Created At", "Finalized", "Chunks", "Audio", "Segments", "Transcript"})
			for _, rec := range recordings {
				table.Append([]string{
					string(rec.ID),
					rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					yesNo(rec.Finalized),
					strconv.Itoa(rec.AudioChunks),
					formatBytes(rec.AudioBytes),
					strconv.Itoa(rec.Segments),
					rec.Preview,
				})
			}
			table.Render()
			return nil
		},
	}
}

func (r Runner) summarizeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <recording-id>",
		Short: "Print a summary of a recording's transcript",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			client, err := r.dialRemote(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer client.Close()

			id := remote.SessionID(strings.TrimSpace(args[0]))
			ctx, cancel := context.WithTimeout(cmd.Context(), remote.DefaultCallTimeout)
			defer cancel()

			text, err := fetchTranscript(ctx, client, id)
			if err != nil {
				return err
			}

			summary, err := client.GenerateSummary(ctx, text)
			if err != nil {
				return fmt.Errorf("generate summary: %w", err)
			}
			e.logger.Info("summary generated", "session_id", string(id), "transcript_length", len(text), "summary_length", len(summary))
			fmt.Fprintln(r.Stdout, summary)
			return nil
		},
	}
}

func (r Runner) transcriptCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <recording-id>",
		Short: "Print a recording's stored transcript",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			client, err := r.dialRemote(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), remote.DefaultCallTimeout)
			defer cancel()
			text, err := fetchTranscript(ctx, client, remote.SessionID(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}
			fmt.Fprintln(r.Stdout, text)
			return nil
		},
	}
}

func fetchTranscript(ctx context.Context, client *remote.Client, id remote.SessionID) (string, error) {
	text, ok, err := client.FetchTranscript(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("recording %s has no transcript", id)
	}
	return text, nil
}

func (r Runner) serveCommand(flags *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory transcription service for local development",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()

			addr := e.loaded.Config.Serve.Listen
			if listen != "" {
				addr = listen
			}
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			fmt.Fprintf(r.Stdout, "serving transcription service on %s\n", listener.Addr())
			return remote.Serve(cmd.Context(), listener, remote.NewMemory(e.logger), e.logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default serve.listen)")
	return cmd
}

func (r Runner) dialRemote(ctx context.Context, e env) (*remote.Client, error) {
	cfg := e.loaded.Config.Remote
	client, err := remote.Dial(ctx, cfg.Endpoint, cfg.DialTimeout())
	if err != nil {
		return nil, fmt.Errorf("connect transcription service: %w", err)
	}
	return client, nil
}

func (r Runner) newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(r.Stdout)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	return table
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
