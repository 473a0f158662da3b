package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/lanlink/pkg/client"
	"github.com/cuemby/lanlink/pkg/supervisor"
	"github.com/spf13/cobra"
)

// newClient builds an API client from --api or the config file
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg.API.Addr), nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), client.DefaultTimeout)
}

// Worker commands
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start, stop and inspect workers",
	Long: `Manage the supervised workers: edge, broadcast and fileserver.

Examples:
  lanlink worker start edge
  lanlink worker start fileserver --path /srv/share
  lanlink worker status edge`,
}

var workerStartCmd = &cobra.Command{
	Use:   "start NAME",
	Short: "Start a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		params := map[string]string{}
		if path, _ := cmd.Flags().GetString("path"); path != "" {
			params[supervisor.ParamPath] = path
		}
		if _, err := c.StartWorker(ctx, args[0], params); err != nil {
			return err
		}
		fmt.Printf("✓ Worker %s started\n", args[0])
		return nil
	},
}

var workerStopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stop a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if _, err := c.StopWorker(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Worker %s stopped\n", args[0])
		return nil
	},
}

var workerStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show whether a worker is running and healthy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		status, err := c.WorkerStatus(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Worker:  %s\n", status.Name)
		if !status.Running {
			fmt.Println("Status:  stopped")
			return nil
		}
		fmt.Println("Status:  running")
		fmt.Printf("PID:     %d\n", status.PID)

		result, err := c.WorkerHealth(ctx, args[0])
		if err != nil {
			return err
		}
		healthy := "healthy"
		if !result.Healthy {
			healthy = "unhealthy"
		}
		fmt.Printf("Health:  %s (%s check, %s)\n", healthy, result.Type, result.Message)
		return nil
	},
}

func init() {
	workerStartCmd.Flags().String("path", "", "Directory to serve (fileserver only)")

	workerCmd.AddCommand(workerStartCmd)
	workerCmd.AddCommand(workerStopCmd)
	workerCmd.AddCommand(workerStatusCmd)
	rootCmd.AddCommand(workerCmd)
}

// Edge commands
var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Query the running edge",
}

var edgeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the edge runs and answers on its management port",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		up, err := c.EdgeStatus(ctx)
		if err != nil {
			return err
		}
		if up {
			fmt.Println("✓ Edge is running")
		} else {
			fmt.Println("Edge is not running")
		}
		return nil
	},
}

var edgeAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the virtual address of this machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		addr, err := c.VirtualAddress(ctx)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var edgeGroupCmd = &cobra.Command{
	Use:   "group",
	Short: "Print the group the edge has joined",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		group, err := c.CurrentGroup(ctx)
		if err != nil {
			return err
		}
		fmt.Println(group)
		return nil
	},
}

var edgeMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List the other members of the group",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		members, err := c.Members(ctx)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			fmt.Println("No other members online")
			return nil
		}

		fmt.Printf("%-16s %-24s %s\n", "ADDRESS", "NAME", "MODE")
		for _, m := range members {
			fmt.Printf("%-16s %-24s %s\n", m.Address, m.Name, m.Mode)
		}
		return nil
	},
}

func init() {
	edgeCmd.AddCommand(edgeStatusCmd)
	edgeCmd.AddCommand(edgeAddressCmd)
	edgeCmd.AddCommand(edgeGroupCmd)
	edgeCmd.AddCommand(edgeMembersCmd)
	rootCmd.AddCommand(edgeCmd)
}

// NAT commands
var natCmd = &cobra.Command{
	Use:   "nat",
	Short: "Classify the NAT this machine is behind",
}

var natDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run STUN-based NAT classification",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		fmt.Println("Detecting NAT type...")
		result, err := c.DetectNAT(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("NAT type:        %s\n", result.Type)
		if result.Mapped != "" {
			fmt.Printf("Public address:  %s\n", result.Mapped)
		}
		return nil
	},
}

func init() {
	natCmd.AddCommand(natDetectCmd)
	rootCmd.AddCommand(natCmd)
}

// History commands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded worker runs and NAT results",
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs [WORKER]",
	Short: "List worker runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		worker := ""
		if len(args) == 1 {
			worker = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := c.Runs(ctx, worker, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		fmt.Printf("%-10s %-8s %-20s %-10s %s\n", "WORKER", "PID", "STARTED", "DURATION", "EXIT")
		for _, r := range runs {
			duration, exit := "-", "running"
			if !r.Active() {
				duration = r.StoppedAt.Sub(r.StartedAt).Round(time.Second).String()
				exit = r.ExitReason
			}
			fmt.Printf("%-10s %-8d %-20s %-10s %s\n",
				r.Worker, r.PID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, exit)
		}
		return nil
	},
}

var historyNATCmd = &cobra.Command{
	Use:   "nat",
	Short: "List NAT classifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		limit, _ := cmd.Flags().GetInt("limit")
		records, err := c.NATHistory(ctx, limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No NAT results recorded")
			return nil
		}

		fmt.Printf("%-20s %-10s %s\n", "DETECTED", "TOOK", "RESULT")
		for _, r := range records {
			result := r.Result
			if r.Error != "" {
				result = "error: " + r.Error
			}
			fmt.Printf("%-20s %-10s %s\n", r.DetectedAt.Local().Format("2006-01-02 15:04:05"), r.Duration, result)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{historyRunsCmd, historyNATCmd} {
		c.Flags().IntP("limit", "n", 20, "Maximum number of entries (0 for all)")
		historyCmd.AddCommand(c)
	}
	rootCmd.AddCommand(historyCmd)
}
