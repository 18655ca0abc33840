package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage drone groups",
	}
	cmd.AddCommand(newGroupListCmd())
	cmd.AddCommand(newGroupCreateCmd())
	cmd.AddCommand(newGroupRenameCmd())
	cmd.AddCommand(newGroupRmCmd())
	cmd.AddCommand(newGroupAssignCmd())
	return cmd
}

func newGroupListCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List groups with member counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			var resp struct {
				Groups []struct {
					Name       string    `json:"name"`
					TotalCount int       `json:"totalCount"`
					CreatedAt  time.Time `json:"createdAt"`
				} `json:"groups"`
			}
			if err := client.get("/api/groups", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Groups) == 0 {
				fmt.Fprintln(out, "No groups.")
				return nil
			}
			for _, g := range resp.Groups {
				fmt.Fprintf(out, "%-20s %3d drones  created %s\n",
					g.Name, g.TotalCount, g.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newGroupCreateCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			if err := client.post("/api/groups", map[string]string{"name": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created group %s\n", args[0])
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newGroupRenameCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename a group and remap its members",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			path := "/api/groups/" + url.PathEscape(args[0]) + "/rename"
			if err := client.post(path, map[string]string{"newName": args[1]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed group %s -> %s\n", args[0], args[1])
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newGroupRmCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a group and remove all its drones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			var resp struct {
				Removed int `json:"removed"`
			}
			if err := client.delete("/api/groups/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted group %s (%d drones removed)\n", args[0], resp.Removed)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newGroupAssignCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "assign <drone> [group]",
		Short: "Move a drone into a group (omit group to ungroup)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			group := ""
			if len(args) == 2 {
				group = args[1]
			}
			path := "/api/drones/" + url.PathEscape(args[0]) + "/group"
			if err := client.post(path, map[string]string{"group": group}, nil); err != nil {
				return err
			}
			if group == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Ungrouped %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s into %s\n", args[0], group)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
