package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/attune-dev/attune/pkg"
	"github.com/attune-dev/attune/pkg/common"
	"github.com/attune-dev/attune/pkg/executor"
	_ "github.com/attune-dev/attune/pkg/modules"
)

var (
	inventoryFile     string
	tagsFlag          string
	limitFlag         string
	checkFlag         bool
	forksFlag         int
	timeoutFlag       int
	anyErrorsFatal    bool
	vaultPasswordFile string
	extraVarsFlag     []string
	metricsPort       int
)

var runCmd = &cobra.Command{
	Use:   "run [playbook]",
	Short: "Run a playbook against an inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("forks") {
			cfg.Run.Forks = forksFlag
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Run.TaskTimeout = timeoutFlag
		}
		if checkFlag {
			cfg.Run.CheckMode = true
		}
		if anyErrorsFatal {
			cfg.Run.AnyErrorsFatal = true
		}

		runID := uuid.New().String()
		common.SetRunID(runID)

		if metricsPort > 0 {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				addr := fmt.Sprintf(":%d", metricsPort)
				common.LogInfo("Serving metrics", map[string]interface{}{"addr": addr})
				if err := http.ListenAndServe(addr, mux); err != nil {
					common.LogWarn("Metrics server stopped", map[string]interface{}{"error": err.Error()})
				}
			}()
		}

		passphrase, err := readVaultPassphrase(vaultPasswordFile)
		if err != nil {
			return err
		}

		inv, err := pkg.LoadInventory(inventoryFile, passphrase)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}

		pb, err := pkg.LoadPlaybook(args[0], passphrase)
		if err != nil {
			return fmt.Errorf("failed to load playbook: %w", err)
		}

		extraVars, err := parseExtraVars(extraVarsFlag)
		if err != nil {
			return err
		}

		var tags []string
		if tagsFlag != "" {
			for _, t := range strings.Split(tagsFlag, ",") {
				tags = append(tags, strings.TrimSpace(t))
			}
		}

		plan, err := pkg.BuildPlan(pb, inv, tags, limitFlag)
		if err != nil {
			return fmt.Errorf("failed to build plan: %w", err)
		}

		common.LogInfo("Starting run", map[string]interface{}{
			"playbook": args[0],
			"plays":    len(plan.Plays),
			"units":    plan.UnitCount(),
			"forks":    cfg.Run.Forks,
			"check":    cfg.Run.CheckMode,
		})

		runner := executor.NewRunner(pkg.NewLocalExecutor(), cfg, inv, extraVars)
		report, runErr := runner.Run(context.Background(), plan)
		if runErr != nil {
			common.LogError("Run aborted", map[string]interface{}{"error": runErr.Error()})
		}
		report.PrintRecap(cfg)

		os.Exit(report.Finalize())
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&inventoryFile, "inventory", "i", "", "Inventory file (defaults to implicit localhost)")
	runCmd.Flags().StringVar(&tagsFlag, "tags", "", "Only run tasks carrying one of these tags (comma-separated)")
	runCmd.Flags().StringVarP(&limitFlag, "limit", "l", "", "Restrict the run to matching hosts")
	runCmd.Flags().BoolVar(&checkFlag, "check", false, "Dry run: report what would change without changing it")
	runCmd.Flags().IntVar(&forksFlag, "forks", 5, "Number of hosts converging concurrently")
	runCmd.Flags().IntVar(&timeoutFlag, "timeout", 0, "Per-task timeout in seconds (0 disables)")
	runCmd.Flags().BoolVar(&anyErrorsFatal, "any-errors-fatal", false, "Abort the whole run when any host fails")
	runCmd.Flags().StringVar(&vaultPasswordFile, "vault-password-file", "", "File holding the vault passphrase")
	runCmd.Flags().StringArrayVarP(&extraVarsFlag, "extra-vars", "e", nil, "Extra variables as key=value or YAML/JSON (repeatable)")
	runCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port during the run (0 disables)")
	rootCmd.AddCommand(runCmd)
}

// readVaultPassphrase reads the passphrase file named by the flag, falling
// back to the ATTUNE_VAULT_PASSWORD environment variable.
func readVaultPassphrase(path string) (string, error) {
	if path == "" {
		return os.Getenv("ATTUNE_VAULT_PASSWORD"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read vault password file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// parseExtraVars turns repeated --extra-vars values into a single map.
// Each value is either key=value or an inline YAML/JSON mapping.
func parseExtraVars(values []string) (map[string]interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{})
	for _, raw := range values {
		if strings.HasPrefix(strings.TrimSpace(raw), "{") || !strings.Contains(raw, "=") {
			var m map[string]interface{}
			if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
				return nil, fmt.Errorf("invalid extra-vars %q: %w", raw, err)
			}
			for k, v := range m {
				out[k] = v
			}
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		out[parts[0]] = parts[1]
	}
	return out, nil
}
