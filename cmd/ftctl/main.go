package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	credPairs   []string
	specFile    string
	afterCursor uint64
	outputPath  string
	stateFilter string
)

var rootCmd = &cobra.Command{
	Use:   "ftctl",
	Short: "Command-line client for the fine-tuning orchestrator",
	Long: `ftctl talks to a running orchestrator server to manage platform
connections, submit fine-tuning jobs, follow their logs, and download
the resulting adapters.`,
	SilenceUsage: true,
}

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List registered platforms and their connection state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var platforms []struct {
			Name         string   `json:"name"`
			DisplayName  string   `json:"display_name"`
			Capabilities []string `json:"capabilities"`
			CredFields   []string `json:"required_credential_fields"`
			Status       string   `json:"status"`
			LastError    string   `json:"last_error"`
		}
		if err := client.get("/v1/platforms", &platforms); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDISPLAY NAME\tCAPABILITIES\tSTATUS")
		for _, p := range platforms {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				p.Name, p.DisplayName, strings.Join(p.Capabilities, ","), colorStatus(p.Status))
		}
		return w.Flush()
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <platform>",
	Short: "Connect a platform using the given credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds := make(map[string]string, len(credPairs))
		for _, pair := range credPairs {
			key, value, found := strings.Cut(pair, "=")
			if !found {
				return fmt.Errorf("credential %q is not in key=value form", pair)
			}
			creds[key] = value
		}

		client := newAPIClient(serverURL)
		var conn struct {
			PlatformName string `json:"PlatformName"`
			Status       string `json:"Status"`
		}
		body := map[string]interface{}{"credentials": creds}
		if err := client.post("/v1/platforms/"+args[0]+"/connect", body, &conn); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", conn.PlatformName, colorStatus(conn.Status))
		return nil
	},
}

var reconnectCmd = &cobra.Command{
	Use:   "reconnect <platform>",
	Short: "Re-establish a platform connection from stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var conn struct {
			PlatformName string `json:"PlatformName"`
			Status       string `json:"Status"`
		}
		if err := client.post("/v1/platforms/"+args[0]+"/reconnect", nil, &conn); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", conn.PlatformName, colorStatus(conn.Status))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <platform>",
	Short: "Re-check that a platform connection still works",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var result struct {
			Valid bool `json:"valid"`
		}
		if err := client.post("/v1/platforms/"+args[0]+"/verify", nil, &result); err != nil {
			return err
		}
		if result.Valid {
			color.Green("connection to %s is healthy", args[0])
		} else {
			color.Red("connection to %s failed verification", args[0])
		}
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <platform>",
	Short: "Disconnect a platform and forget its credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		if err := client.post("/v1/platforms/"+args[0]+"/disconnect", nil, nil); err != nil {
			return err
		}
		fmt.Printf("disconnected from %s\n", args[0])
		return nil
	},
}

var resourcesCmd = &cobra.Command{
	Use:   "resources <platform>",
	Short: "List compute resources offered by a connected platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var resources []struct {
			Name          string
			GPUType       string
			OnDemandPrice float64
			SpotPrice     *float64
			Available     bool
		}
		if err := client.get("/v1/platforms/"+args[0]+"/resources", &resources); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tGPU\tON-DEMAND $/HR\tSPOT $/HR\tAVAILABLE")
		for _, res := range resources {
			spot := "-"
			if res.SpotPrice != nil {
				spot = fmt.Sprintf("%.4f", *res.SpotPrice)
			}
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%s\t%t\n",
				res.Name, res.GPUType, res.OnDemandPrice, spot, res.Available)
		}
		return w.Flush()
	},
}

var pricingCmd = &cobra.Command{
	Use:   "pricing <platform> <resource>",
	Short: "Show current pricing for one resource",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var pricing struct {
			ResourceName   string
			Currency       string
			OnDemandHourly float64
			SpotHourly     *float64
			FetchedAt      time.Time
		}
		path := fmt.Sprintf("/v1/platforms/%s/resources/%s/pricing", args[0], args[1])
		if err := client.get(path, &pricing); err != nil {
			return err
		}

		fmt.Printf("Resource:  %s\n", pricing.ResourceName)
		fmt.Printf("On-demand: %.4f %s/hr\n", pricing.OnDemandHourly, pricing.Currency)
		if pricing.SpotHourly != nil {
			fmt.Printf("Spot:      %.4f %s/hr\n", *pricing.SpotHourly, pricing.Currency)
		} else {
			fmt.Println("Spot:      not offered")
		}
		fmt.Printf("Fetched:   %s\n", pricing.FetchedAt.Format(time.RFC3339))
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a fine-tuning job from a YAML spec file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(specFile)
		if err != nil {
			return fmt.Errorf("read spec file: %w", err)
		}

		client := newAPIClient(serverURL)
		var resp struct {
			ID       string `json:"id"`
			Platform string `json:"platform"`
			State    string `json:"state"`
		}
		body := map[string]string{"spec_yaml": string(raw)}
		if err := client.post("/v1/jobs", body, &resp); err != nil {
			return err
		}
		fmt.Printf("job %s submitted to %s (%s)\n", resp.ID, resp.Platform, colorStatus(resp.State))
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List known jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var jobs []jobView
		if err := client.get("/v1/jobs", &jobs); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPLATFORM\tSTATE\tMODEL\tCREATED")
		for _, job := range jobs {
			if stateFilter != "" && job.State != stateFilter {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				job.ID, job.PlatformName, colorStatus(job.State),
				job.Config.BaseModel, job.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's state and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var job jobView
		if err := client.get("/v1/jobs/"+args[0], &job); err != nil {
			return err
		}

		fmt.Printf("Job:      %s\n", job.ID)
		fmt.Printf("Platform: %s\n", job.PlatformName)
		fmt.Printf("State:    %s\n", colorStatus(job.State))
		if job.StateReason != "" {
			fmt.Printf("Reason:   %s\n", job.StateReason)
		}
		fmt.Printf("Model:    %s (%s)\n", job.Config.BaseModel, job.Config.Algorithm)
		fmt.Printf("Created:  %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Printf("Started:  %s\n", job.StartedAt.Format(time.RFC3339))
		}
		if job.CompletedAt != nil {
			fmt.Printf("Finished: %s\n", job.CompletedAt.Format(time.RFC3339))
		}

		var events []struct {
			At     time.Time
			From   *string
			To     string
			Reason string
		}
		if err := client.get("/v1/jobs/"+args[0]+"/events", &events); err != nil {
			return err
		}
		if len(events) > 0 {
			fmt.Println("\nHistory:")
			for _, ev := range events {
				from := "-"
				if ev.From != nil {
					from = *ev.From
				}
				line := fmt.Sprintf("  %s  %s -> %s", ev.At.Format(time.RFC3339), from, ev.To)
				if ev.Reason != "" {
					line += "  (" + ev.Reason + ")"
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

var costCmd = &cobra.Command{
	Use:   "cost <job-id>",
	Short: "Show the spend a job has accrued at current prices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var rep struct {
			PlatformName   string
			ResourceName   string
			Currency       string
			Hours          float64
			OnDemandCost   float64
			SpotCost       *float64
			HourlyOnDemand float64
		}
		if err := client.get("/v1/jobs/"+args[0]+"/cost", &rep); err != nil {
			return err
		}

		fmt.Printf("Resource:  %s on %s\n", rep.ResourceName, rep.PlatformName)
		fmt.Printf("Run time:  %.2f hours\n", rep.Hours)
		fmt.Printf("On-demand: %.4f %s (%.4f/hr)\n", rep.OnDemandCost, rep.Currency, rep.HourlyOnDemand)
		if rep.SpotCost != nil {
			fmt.Printf("Spot:      %.4f %s\n", *rep.SpotCost, rep.Currency)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		var resp struct {
			State string `json:"state"`
		}
		if err := client.post("/v1/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("job %s: %s\n", args[0], colorStatus(resp.State))
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Stream a job's logs until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		path := fmt.Sprintf("/v1/jobs/%s/logs?after=%d", args[0], afterCursor)
		body, err := client.stream(path)
		if err != nil {
			return err
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var entry struct {
				Cursor    uint64
				Timestamp time.Time
				Text      string
			}
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				continue
			}
			fmt.Printf("[%s] %s\n", entry.Timestamp.Format("15:04:05"), entry.Text)
		}
		return scanner.Err()
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <job-id>",
	Short: "Download the trained adapter for a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		body, err := client.stream("/v1/jobs/" + args[0] + "/artifact")
		if err != nil {
			return err
		}
		defer body.Close()

		dest := outputPath
		if dest == "" {
			dest = args[0] + "-adapter.safetensors"
		}
		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		written, err := io.Copy(out, body)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(dest)
			return fmt.Errorf("download artifact: %w", err)
		}
		fmt.Printf("wrote %d bytes to %s\n", written, dest)
		return nil
	},
}

// jobView mirrors the fields of the server's job payload that the CLI
// displays.
type jobView struct {
	ID           string
	PlatformName string
	State        string
	StateReason  string
	Config       struct {
		BaseModel string
		Algorithm string
	}
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func colorStatus(s string) string {
	switch s {
	case "connected", "completed":
		return color.GreenString(s)
	case "running", "provisioning", "connecting":
		return color.YellowString(s)
	case "failed", "error":
		return color.RedString(s)
	case "cancelled":
		return color.MagentaString(s)
	default:
		return s
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the orchestrator server")

	connectCmd.Flags().StringArrayVar(&credPairs, "cred", nil, "Credential in key=value form (repeatable)")
	submitCmd.Flags().StringVarP(&specFile, "file", "f", "train.yaml", "Path to the training spec YAML")
	jobsCmd.Flags().StringVar(&stateFilter, "state", "", "Only show jobs in this state")
	logsCmd.Flags().Uint64Var(&afterCursor, "after", 0, "Resume streaming after this log cursor")
	fetchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Destination file for the adapter")

	rootCmd.AddCommand(platformsCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(reconnectCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(pricingCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(fetchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
