package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbt-portal/dbtsync/internal/content"
	"github.com/dbt-portal/dbtsync/internal/portal"
	"github.com/dbt-portal/dbtsync/internal/render"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

var commandNames = map[types.Collection]string{
	types.CollectionNotices:   "notice",
	types.CollectionAwareness: "awareness",
	types.CollectionEvents:    "event",
}

// newContentCmd builds the admin commands for one collection.
func newContentCmd(c types.Collection) *cobra.Command {
	name := commandNames[c]
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Manage %s records", name),
		Long: fmt.Sprintf(`List and manage %[1]s records.

Mutations are written to the local cache first and then broadcast to the
update server when it can be reached. Mutations require an identity with the
admin role, for example DBTSYNC_USER_ROLE=admin.`, name),
	}
	cmd.AddCommand(
		newCreateCmd(c),
		newListCmd(c),
		newToggleCmd(c, "activate", true),
		newToggleCmd(c, "deactivate", false),
		newDeleteCmd(c),
	)
	return cmd
}

func newCreateCmd(c types.Collection) *cobra.Command {
	var (
		draft    content.Draft
		priority string
		inactive bool
		offline  bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a record and broadcast it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if draft.Title == "" {
				return fmt.Errorf("--title is required")
			}
			switch types.Priority(priority) {
			case "", types.PriorityLow, types.PriorityMedium, types.PriorityHigh:
				draft.Priority = types.Priority(priority)
			default:
				return fmt.Errorf("invalid priority %q (low|medium|high)", priority)
			}
			draft.IsActive = !inactive

			return withAdminService(cmd, offline, func(ctx context.Context, svc *portal.Service) (portal.Result, error) {
				return svc.Create(ctx, c, draft)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&draft.Title, "title", "", "Title (required)")
	f.StringVar(&draft.Description, "description", "", "Body, plain text or HTML")
	f.StringVar(&draft.Category, "category", "", "Category")
	f.StringVar(&priority, "priority", "", "Priority (low|medium|high)")
	f.StringVar(&draft.Audience, "audience", "", "Target audience")
	f.StringVar(&draft.MediaURL, "media-url", "", "Image or video URL")
	f.StringVar(&draft.Location, "location", "", "Venue")
	f.StringVar(&draft.Date, "date", "", "Event date")
	f.StringVar(&draft.ValidFrom, "valid-from", "", "First day the record applies")
	f.StringVar(&draft.ValidUntil, "valid-until", "", "Last day the record applies")
	f.StringSliceVar(&draft.Tags, "tags", nil, "Comma-separated tags")
	f.BoolVar(&inactive, "inactive", false, "Create the record hidden from citizens")
	f.BoolVar(&offline, "offline", false, "Do not connect; save locally only")
	return cmd
}

func newListCmd(c types.Collection) *cobra.Command {
	var all, full, refresh bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := portal.New(ctx, appConfig)
			if err != nil {
				return err
			}
			defer svc.Stop()

			if refresh {
				connectCtx, cancel := context.WithTimeout(ctx, connectWait())
				err := svc.Connect(connectCtx)
				cancel()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: showing cached records, sync failed: %v\n", err)
				}
			}

			var records []types.ContentRecord
			if all {
				records = svc.All(ctx, c)
			} else {
				records = svc.Active(ctx, c)
			}
			return printRecords(cmd.OutOrStdout(), records, full)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include inactive records")
	cmd.Flags().BoolVar(&full, "full", false, "Print every record in full")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch a snapshot from the server first")
	return cmd
}

func newToggleCmd(c types.Collection, use string, active bool) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark a record %s", map[bool]string{true: "active", false: "inactive"}[active]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withAdminService(cmd, offline, func(ctx context.Context, svc *portal.Service) (portal.Result, error) {
				return svc.SetActive(ctx, c, id, active)
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not connect; save locally only")
	return cmd
}

func newDeleteCmd(c types.Collection) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withAdminService(cmd, offline, func(ctx context.Context, svc *portal.Service) (portal.Result, error) {
				return svc.Remove(ctx, c, id)
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not connect; save locally only")
	return cmd
}

// withAdminService connects (unless offline), runs one mutation and reports
// whether it reached the server.
func withAdminService(cmd *cobra.Command, offline bool, mutate func(context.Context, *portal.Service) (portal.Result, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	svc, err := portal.New(ctx, appConfig)
	if err != nil {
		return err
	}
	defer svc.Stop()

	if !offline {
		connectCtx, cancel := context.WithTimeout(ctx, connectWait())
		err := svc.Connect(connectCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: not connected: %v\n", err)
		}
	}

	res, err := mutate(ctx, svc)
	if err != nil {
		return err
	}

	if err := render.Record(out, res.Record); err != nil {
		return err
	}
	if res.Broadcast {
		fmt.Fprintln(out, "Broadcast to the update server.")
	} else {
		fmt.Fprintln(out, "Saved locally; other clients will see it after their next sync.")
	}
	return nil
}

func printRecords(w io.Writer, records []types.ContentRecord, full bool) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records.")
		return nil
	}
	if !full {
		return render.Table(w, records)
	}
	for _, rec := range records {
		if err := render.Record(w, rec); err != nil {
			return err
		}
	}
	return nil
}

// connectWait bounds the connect plus the first data_sync.
func connectWait() time.Duration {
	wait := 10 * time.Second
	if sc := appConfig.Sync; sc != nil && sc.ConnectTimeout > 0 {
		wait = sc.ConnectTimeout.Std()
	}
	return wait + 5*time.Second
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
