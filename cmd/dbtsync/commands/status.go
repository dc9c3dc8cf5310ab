package commands

import (
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dbt-portal/dbtsync/internal/content"
	"github.com/dbt-portal/dbtsync/internal/logging"
	"github.com/dbt-portal/dbtsync/internal/storage"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local cache",
	Long:  `Print the size of every cached collection and the stored session.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := storage.New(appConfig.DataDir)
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Cache:  %s\n", store.Path())
	fmt.Fprintf(out, "Server: %s\n", appConfig.ServerURL)
	if path := logging.LogFilePath(); path != "" {
		fmt.Fprintf(out, "Log:    %s\n", path)
	}

	user, ok, err := store.User(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(out, "User:   unreadable (%v)\n", err)
	case ok:
		fmt.Fprintf(out, "User:   %s (%s)\n", user.UserID, user.Role)
	default:
		fmt.Fprintln(out, "User:   none")
	}
	if token, err := store.Token(ctx); err == nil && token != "" {
		fmt.Fprintln(out, "Token:  present")
	}
	fmt.Fprintln(out)

	// Read-only: nothing is seeded here.
	repo := content.NewRepository(store)
	table := tablewriter.NewTable(out)
	table.Header("Collection", "Records", "Active", "State")
	for _, c := range types.Collections() {
		if !store.Exists(ctx, string(c)) {
			table.Append(string(c), "-", "-", "not initialized")
			continue
		}
		res := repo.Load(ctx, c, nil)
		state := "ok"
		if res.Degraded() {
			state = "unreadable"
		}
		active := 0
		for _, rec := range res.Records {
			if rec.IsActive {
				active++
			}
		}
		table.Append(string(c), fmt.Sprint(len(res.Records)), fmt.Sprint(active), state)
	}
	return table.Render()
}
