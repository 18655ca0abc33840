package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// droneView mirrors the hub's drone JSON for display.
type droneView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Group         string    `json:"group"`
	RepoPath      string    `json:"repoPath"`
	ContainerPort int       `json:"containerPort"`
	HostPort      int       `json:"hostPort"`
	Phase         string    `json:"hubPhase"`
	Message       string    `json:"hubMessage"`
	CreatedAt     time.Time `json:"createdAt"`
	Running       bool      `json:"running"`
}

func newCreateCmd() *cobra.Command {
	var (
		flags    clientFlags
		group    string
		repoPath string
		port     int
		image    string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a drone",
		Long:  "Provisions a sandbox container plus data volume and registers the drone with the hub.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			req := map[string]interface{}{"name": args[0]}
			if group != "" {
				req["group"] = group
			}
			if repoPath != "" {
				req["repoPath"] = repoPath
			}
			if port != 0 {
				req["containerPort"] = port
			}
			if image != "" {
				req["image"] = image
			}

			var resp struct {
				Drone droneView `json:"drone"`
			}
			if err := client.post("/api/drones", req, &resp); err != nil {
				return err
			}
			d := resp.Drone
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s), container port %d\n", d.Name, d.ID, d.ContainerPort)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&group, "group", "g", "", "group to place the drone in")
	cmd.Flags().StringVar(&repoPath, "repo", "", "host repo directory to mount into the workspace")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "container port the sandbox listens on")
	cmd.Flags().StringVar(&image, "image", "", "sandbox image override")
	return cmd
}

func newListCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all drones",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			var resp struct {
				Drones []droneView `json:"drones"`
			}
			if err := client.get("/api/drones", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Drones) == 0 {
				fmt.Fprintln(out, "No drones.")
				return nil
			}
			sort.Slice(resp.Drones, func(i, j int) bool { return resp.Drones[i].Name < resp.Drones[j].Name })
			for _, d := range resp.Drones {
				group := d.Group
				if group == "" {
					group = "ungrouped"
				}
				fmt.Fprintf(out, "%-20s %-12s %-14s %s\n", d.Name, phaseColor(d.Phase), group, d.ID)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "status <name|id>",
		Short: "Show one drone's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			var resp struct {
				Drone droneView `json:"drone"`
			}
			if err := client.get("/api/drones/"+url.PathEscape(args[0])+"/status", &resp); err != nil {
				return err
			}
			d := resp.Drone
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:      %s\n", d.Name)
			fmt.Fprintf(out, "ID:        %s\n", d.ID)
			fmt.Fprintf(out, "Phase:     %s\n", phaseColor(d.Phase))
			if d.Message != "" {
				fmt.Fprintf(out, "Message:   %s\n", d.Message)
			}
			fmt.Fprintf(out, "Running:   %s\n", runningColor(d.Running))
			if d.Group != "" {
				fmt.Fprintf(out, "Group:     %s\n", d.Group)
			}
			if d.RepoPath != "" {
				fmt.Fprintf(out, "Repo:      %s\n", d.RepoPath)
			}
			fmt.Fprintf(out, "Port:      %d", d.ContainerPort)
			if d.HostPort != 0 {
				fmt.Fprintf(out, " -> 127.0.0.1:%d", d.HostPort)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Created:   %s\n", d.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newRenameCmd() *cobra.Command {
	var (
		flags         clientFlags
		startMode     string
		migrateVolume string
	)

	cmd := &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename a drone",
		Long:  "Renames the drone's container and registry record. A failed rename is rolled back so the drone stays reachable under its old name.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			req := map[string]interface{}{"newName": args[1]}
			if startMode != "" {
				req["startMode"] = startMode
			}
			if migrateVolume != "" {
				req["migrateVolumeName"] = migrateVolume
			}
			if err := client.post("/api/drones/"+url.PathEscape(args[0])+"/rename", req, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s -> %s\n", args[0], args[1])
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&startMode, "start-mode", "", `"running" to ensure the container is started after the rename`)
	cmd.Flags().StringVar(&migrateVolume, "migrate-volume", "", "copy the data volume into a volume of this name")
	return cmd
}

func newExecCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "exec <name|id> -- <cmd> [args...]",
		Short: "Run a command inside a drone",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			var resp struct {
				ExitCode int    `json:"exitCode"`
				Stdout   string `json:"stdout"`
				Stderr   string `json:"stderr"`
			}
			req := map[string]interface{}{"cmd": args[1:]}
			if err := client.post("/api/drones/"+url.PathEscape(args[0])+"/exec", req, &resp); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), resp.Stdout)
			fmt.Fprint(cmd.ErrOrStderr(), resp.Stderr)
			if resp.ExitCode != 0 {
				os.Exit(resp.ExitCode)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newRmCmd() *cobra.Command {
	var (
		flags      clientFlags
		keepVolume bool
	)

	cmd := &cobra.Command{
		Use:   "rm <name|id>",
		Short: "Remove a drone",
		Long:  "Tears down the drone's container and data volume and deletes its registry record. Removing an already-removed drone succeeds.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			path := "/api/drones/" + url.PathEscape(args[0])
			if keepVolume {
				path += "?keepVolume=true"
			}
			if err := client.delete(path, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&keepVolume, "keep-volume", false, "keep the data volume")
	return cmd
}

func newFSCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "fs ls <name|id> [path]",
		Short: "List a directory inside a drone",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "ls" {
				return fmt.Errorf("unknown fs subcommand %q", args[0])
			}
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			path := "/api/drones/" + url.PathEscape(args[1]) + "/fs/list"
			if len(args) == 3 {
				path += "?path=" + url.QueryEscape(args[2])
			}
			var resp struct {
				Entries []struct {
					Name string `json:"name"`
					Dir  bool   `json:"dir"`
				} `json:"entries"`
			}
			if err := client.get(path, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range resp.Entries {
				if e.Dir {
					fmt.Fprintln(out, color.BlueString(e.Name+"/"))
				} else {
					fmt.Fprintln(out, e.Name)
				}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newPortsCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "ports <name|id>",
		Short: "Show a drone's port mappings and preview addresses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			var resp struct {
				Ports []struct {
					ContainerPort int    `json:"containerPort"`
					HostPort      int    `json:"hostPort"`
					PreviewPath   string `json:"previewPath"`
					Reachability  string `json:"reachability"`
				} `json:"ports"`
			}
			if err := client.get("/api/drones/"+url.PathEscape(args[0])+"/ports", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Ports) == 0 {
				fmt.Fprintln(out, "No port mappings.")
				return nil
			}
			for _, p := range resp.Ports {
				fmt.Fprintf(out, "%d -> 127.0.0.1:%d  %-9s %s\n",
					p.ContainerPort, p.HostPort, reachColor(p.Reachability), p.PreviewPath)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func phaseColor(phase string) string {
	switch phase {
	case "running":
		return color.GreenString(phase)
	case "error":
		return color.RedString(phase)
	case "":
		return "unknown"
	default:
		return color.YellowString(phase)
	}
}

func runningColor(running bool) string {
	if running {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}

func reachColor(state string) string {
	switch state {
	case "up":
		return color.GreenString(state)
	case "down":
		return color.RedString(state)
	default:
		return color.YellowString(strings.TrimSpace(state))
	}
}
