package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmerrifield20/ComplianceLedger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultServer = "http://localhost:8080"

var (
	serverURL    string
	cfgFile      string
	outputFormat string
)

// errChainInvalid makes `verify` exit non-zero without printing twice.
var errChainInvalid = errors.New("chain verification failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errChainInvalid) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Compliance ledger CLI",
	Long: `ledgerctl talks to a ledgerd server.

It appends compliance records, lists and fetches entries, and verifies
that the stored hash chain has not been tampered with.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.ledgerctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("ledger")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server")
		}
		if serverURL == "" {
			serverURL = defaultServer
		}
		return validateFormat(outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger server URL (default "+defaultServer+", env LEDGER_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", formatText, "Output format: text, json or yaml")

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(overviewCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendFields []string
	appendData   string
	appendFile   string
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append a compliance record to the ledger",
	Long: `Append chains a new record onto the ledger.

The record is given either as key=value fields or as a JSON object:

  ledgerctl append --field projId=P123 --field compReport="Emissions within limits"
  ledgerctl append --data '{"projId":"P123","readings":{"SO2":35}}'
  ledgerctl append --file report.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := buildPayload(appendFields, appendData, appendFile)
		if err != nil {
			return err
		}

		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		res, err := c.AppendRaw(context.Background(), body)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		return render(os.Stdout, outputFormat, res)
	},
}

func init() {
	appendCmd.Flags().StringArrayVarP(&appendFields, "field", "f", nil, "Record field as key=value (repeatable)")
	appendCmd.Flags().StringVar(&appendData, "data", "", "Record as a JSON object")
	appendCmd.Flags().StringVar(&appendFile, "file", "", "Read the record from a JSON file (- for stdin)")
}

// ── list ─────────────────────────────────────────────────────────────────────

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every ledger entry in sequence order",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		entries, err := c.List(context.Background())
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		return render(os.Stdout, outputFormat, entries)
	},
}

// ── entry ────────────────────────────────────────────────────────────────────

var entryCmd = &cobra.Command{
	Use:   "entry <sequence>",
	Short: "Show a single ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || seq < 1 {
			return fmt.Errorf("invalid sequence %q: must be a positive integer", args[0])
		}

		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		e, err := c.Entry(context.Background(), seq)
		if err != nil {
			return fmt.Errorf("entry %d: %w", seq, err)
		}
		return render(os.Stdout, outputFormat, e)
	},
}

// ── overview ─────────────────────────────────────────────────────────────────

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show the chain length and tail hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		ov, err := c.Overview(context.Background())
		if err != nil {
			return fmt.Errorf("overview: %w", err)
		}
		return render(os.Stdout, outputFormat, ov)
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the whole chain",
	Long: `Verify asks the server to recompute every hash and check every link.

Exits 0 when the chain is intact and 1 when it is not, so it can gate
scripts and scheduled audits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		res, err := c.Verify(context.Background())
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if err := render(os.Stdout, outputFormat, res); err != nil {
			return err
		}
		if !res.Valid {
			return errChainInvalid
		}
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ledgerctl", version)
	},
}

// buildPayload assembles the request body from exactly one input source.
func buildPayload(fields []string, data, file string) (json.RawMessage, error) {
	sources := 0
	for _, set := range []bool{len(fields) > 0, data != "", file != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of --field, --data or --file is required")
	}

	switch {
	case data != "":
		return validObject([]byte(data))
	case file != "":
		var raw []byte
		var err error
		if file == "-" {
			raw, err = io.ReadAll(io.LimitReader(os.Stdin, 16<<20))
		} else {
			raw, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		return validObject(raw)
	}

	payload := make(map[string]any, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", f)
		}
		payload[strings.TrimSpace(k)] = v
	}
	return json.Marshal(payload)
}

// validObject checks raw is a JSON object before it is sent.
func validObject(raw []byte) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	return json.RawMessage(raw), nil
}
