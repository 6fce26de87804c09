package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/cuemby/hangar/pkg/types"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one inventory reconciliation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("✓ Synced %d resources\n", res.SyncedCount)
		if len(res.NodeErrors) > 0 {
			names := make([]string, 0, len(res.NodeErrors))
			for name := range res.NodeErrors {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("%d node(s) skipped:\n", len(names))
			for _, name := range names {
				fmt.Printf("  ✗ %s: %s\n", name, res.NodeErrors[name])
			}
		}
		return nil
	},
}

var inventoryCmd = &cobra.Command{
	Use:     "inventory",
	Aliases: []string{"inv"},
	Short:   "Show the local inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, _ := cmd.Flags().GetString("node")

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		records, err := c.ListInventory(cmd.Context(), node)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No resources in inventory")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tVMID\tTYPE\tNAME\tSTATUS\tCPU%\tMEM(MB)\tDISK(GB)\tSYNCED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Node, r.VMID, r.Type, r.Name, r.Status,
				formatFloat(r.CPUUsagePct),
				formatUsage(r.MemoryUsedMB, r.MemoryTotalMB),
				formatUsage(r.DiskUsedGB, r.DiskTotalGB),
				r.LastSyncedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var controlCmd = &cobra.Command{
	Use:   "control NODE TYPE VMID ACTION",
	Short: "Start, stop, shut down or reboot a VM or container",
	Example: `  hangar control pve1 vm 100 reboot
  hangar control pve1 lxc 200 shutdown`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		rtype, ok := types.ParseResourceType(args[1])
		if !ok {
			return fmt.Errorf("unknown resource type %q (want vm or container)", args[1])
		}
		vmid, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid vmid %q", args[2])
		}
		action := types.Action(args[3])

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		task, err := c.Control(cmd.Context(), args[0], rtype, vmid, action)
		if err != nil {
			return fmt.Errorf("%s failed: %w", action, err)
		}

		fmt.Printf("✓ %s issued for %s %d on %s\n", task.Action, task.Type, task.VMID, task.Node)
		fmt.Printf("  Task: %s\n", task.UPID)
		return nil
	},
}

func init() {
	inventoryCmd.Flags().String("node", "", "Only show resources on this node")
}

func formatFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func formatUsage(used, total *int64) string {
	u, t := "-", "-"
	if used != nil {
		u = strconv.FormatInt(*used, 10)
	}
	if total != nil {
		t = strconv.FormatInt(*total, 10)
	}
	if used == nil && total == nil {
		return "-"
	}
	return u + "/" + t
}
