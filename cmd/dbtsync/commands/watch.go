package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/spf13/cobra"

	"github.com/dbt-portal/dbtsync/internal/event"
	"github.com/dbt-portal/dbtsync/internal/portal"
	"github.com/dbt-portal/dbtsync/internal/remote"
	"github.com/dbt-portal/dbtsync/internal/render"
)

var watchFull bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow content updates",
	Long: `Connect to the update server and print every update as it is applied
to the local cache. Reconnects automatically; once the retry budget is
exhausted, send SIGHUP to try again.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchFull, "full", false, "Print the changed record in full")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := portal.New(ctx, appConfig)
	if err != nil {
		return err
	}
	defer svc.Stop()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	msgs, err := svc.Bus().StreamAll(ctx)
	if err != nil {
		return err
	}
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for msg := range msgs {
			mu.Lock()
			printStreamed(out, msg)
			mu.Unlock()
			msg.Ack()
		}
	}()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s as %s (%s)\n", appConfig.ServerURL, svc.Identity().UserID, svc.Identity().Role)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			svc.Stop()
			<-printed
			return nil
		case <-hup:
			if svc.Client().State() == remote.StateConnected {
				continue
			}
			go func() {
				if err := svc.Reconnect(ctx); err != nil {
					mu.Lock()
					fmt.Fprintf(out, "reconnect failed: %v\n", err)
					mu.Unlock()
				}
			}()
		}
	}
}

func printStreamed(w io.Writer, msg *message.Message) {
	eventType, raw, err := event.DecodeStreamed(msg)
	if err != nil {
		fmt.Fprintf(w, "undecodable event: %v\n", err)
		return
	}
	stamp := time.Now().Format("15:04:05")

	if eventType == event.ConnectionChanged {
		var data event.ConnectionData
		if err := json.Unmarshal(raw, &data); err != nil {
			return
		}
		line := fmt.Sprintf("%s connection %s", stamp, data.State)
		if data.Attempt > 0 {
			line += fmt.Sprintf(" (attempt %d)", data.Attempt)
		}
		if data.Error != "" {
			line += ": " + data.Error
		}
		fmt.Fprintln(w, line)
		if data.State == string(remote.StateGivenUp) {
			fmt.Fprintln(w, "gave up reconnecting; send SIGHUP to retry")
		}
		return
	}

	var data event.UpdateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	line := fmt.Sprintf("%s %s %s from %s", stamp, data.Collection, data.Mutation, data.Source)
	if data.Records != nil {
		line += fmt.Sprintf(", %d records", len(data.Records))
	}
	fmt.Fprintln(w, line)

	if !watchFull {
		if data.Record != nil {
			fmt.Fprintf(w, "  %d  %s\n", data.Record.ID, render.Summary(*data.Record, 72))
		}
		return
	}
	switch {
	case data.Record != nil:
		_ = render.Record(w, *data.Record)
	case data.Records != nil:
		_ = render.Table(w, data.Records)
	}
}
