// cmd.go - CLI des Workers
// Hauptfunktionen: NewCLI, appendEnvDocs, startWorker
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/kvworker/envconfig"
	"github.com/ollama/kvworker/logutil"
	_ "github.com/ollama/kvworker/ml/backend"
	"github.com/ollama/kvworker/model"
	"github.com/ollama/kvworker/model/synthetic"
	"github.com/ollama/kvworker/worker"
)

// appendEnvDocs - Haengt die Dokumentation der Environment-Variablen an
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "kvworker",
		Short:         "Accelerator KV cache worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	serveCmd := newServeCmd()
	probeCmd := newProbeCmd()
	envCmd := newEnvCmd()
	statusCmd := newStatusCmd()

	envVars := envconfig.AsMap()
	workerEnvs := []envconfig.EnvVar{
		envVars["OLLAMA_DEBUG"],
		envVars["OLLAMA_DEVICE"],
		envVars["OLLAMA_DEVICE_ID"],
		envVars["OLLAMA_EMULATOR_MEMORY"],
		envVars["OLLAMA_COMPILE_CACHE"],
		envVars["OLLAMA_KV_CACHE_TYPE"],
		envVars["OLLAMA_KV_BLOCK_SIZE"],
		envVars["OLLAMA_KV_LAYOUT"],
		envVars["OLLAMA_CAPACITY_PROBE"],
		envVars["OLLAMA_NUM_DEVICE_BLOCKS"],
		envVars["OLLAMA_MEMORY_UTILIZATION"],
		envVars["OLLAMA_GPU_OVERHEAD"],
		envVars["OLLAMA_SEED"],
	}

	appendEnvDocs(serveCmd, append([]envconfig.EnvVar{envVars["OLLAMA_HOST"], envVars["OLLAMA_ORIGINS"]}, workerEnvs...))
	appendEnvDocs(probeCmd, workerEnvs)
	appendEnvDocs(statusCmd, []envconfig.EnvVar{envVars["OLLAMA_HOST"]})

	rootCmd.AddCommand(serveCmd, probeCmd, statusCmd, envCmd)
	return rootCmd
}

// startWorker - Laedt die Modell-Konfiguration und faehrt einen Worker bis
// einschliesslich der Kapazitaets-Probe hoch
func startWorker(ctx context.Context, modelPath string, donate bool) (*worker.Worker, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("--model is required")
	}

	m, err := model.LoadConfig(modelPath)
	if err != nil {
		return nil, err
	}

	config, err := worker.ConfigFromEnv(m)
	if err != nil {
		return nil, err
	}

	runner := synthetic.New(m)
	runner.Donate = donate

	w, err := worker.New(config, runner)
	if err != nil {
		return nil, err
	}

	if err := w.Init(ctx); err != nil {
		w.Close()
		return nil, err
	}

	if err := w.LoadModel(ctx); err != nil {
		w.Close()
		return nil, err
	}

	if _, err := w.ProbeCapacity(ctx); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// isTerminal - Prueft ob die Ausgabe ein Terminal ist
func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
