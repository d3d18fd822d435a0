// Command harvester-cli is a small operational tool for the harvesting
// daemon: trigger a retrieval, check daemon health, inspect the
// configured harvester registry, and read/write process-wide settings.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jdp1ps/svp-harvester-go/internal/config"
	"github.com/jdp1ps/svp-harvester-go/internal/harvester"
)

var (
	brokerURL      string
	harvestersFile string
	healthURL      string
	settingsDir    string
)

var rootCmd = &cobra.Command{
	Use:   "harvester-cli",
	Short: "Operational CLI for the bibliographic reference harvesting daemon",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker", nats.DefaultURL, "Broker (NATS) URL")
	rootCmd.PersistentFlags().StringVar(&harvestersFile, "harvesters-file", "harvesters.toml", "Path to the harvesters registry TOML file")
	rootCmd.PersistentFlags().StringVar(&healthURL, "health-url", "http://127.0.0.1:8080", "Daemon health endpoint base URL")
	rootCmd.PersistentFlags().StringVar(&settingsDir, "config-dir", ".", "Directory containing settings.yaml")

	rootCmd.AddCommand(retrieveCmd, statusCmd, harvestersCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "harvester-cli:", err)
		os.Exit(1)
	}
}

// --- retrieve ---------------------------------------------------------

var (
	flagIdRef      string
	flagOrcid      string
	flagIdHalI     string
	flagIdHalS     string
	flagFirstName  string
	flagLastName   string
	flagReply      bool
	flagSafeMode   bool
	flagNullify    []string
	flagHarvesters []string
	flagEvents     []string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Publish a person retrieval task onto the broker",
	RunE:  runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringVar(&flagIdRef, "idref", "", "idref identifier")
	retrieveCmd.Flags().StringVar(&flagOrcid, "orcid", "", "orcid identifier")
	retrieveCmd.Flags().StringVar(&flagIdHalI, "idhal-i", "", "idhal_i identifier")
	retrieveCmd.Flags().StringVar(&flagIdHalS, "idhal-s", "", "idhal_s identifier")
	retrieveCmd.Flags().StringVar(&flagFirstName, "first-name", "", "Person first name")
	retrieveCmd.Flags().StringVar(&flagLastName, "last-name", "", "Person last name")
	retrieveCmd.Flags().BoolVar(&flagReply, "reply", false, "Wait for and print result events")
	retrieveCmd.Flags().BoolVar(&flagSafeMode, "identifiers-safe-mode", false, "Forbid merging entities sharing an identifier")
	retrieveCmd.Flags().StringSliceVar(&flagNullify, "nullify", nil, "Identifier types to treat as absent")
	retrieveCmd.Flags().StringSliceVar(&flagHarvesters, "harvesters", nil, "Restrict to these harvester names")
	retrieveCmd.Flags().StringSliceVar(&flagEvents, "events", nil, "Restrict emitted events to these types")
}

type identRef struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type inboundFields struct {
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Identifiers []identRef `json:"identifiers"`
}

type inboundMessage struct {
	Type                string        `json:"type"`
	Fields              inboundFields `json:"fields"`
	Reply               bool          `json:"reply,omitempty"`
	Nullify             []string      `json:"nullify,omitempty"`
	IdentifiersSafeMode bool          `json:"identifiers_safe_mode,omitempty"`
	Harvesters          []string      `json:"harvesters,omitempty"`
	Events              []string      `json:"events,omitempty"`
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	msg := inboundMessage{
		Type: "person",
		Fields: inboundFields{
			FirstName: flagFirstName,
			LastName:  flagLastName,
		},
		Reply:               flagReply,
		Nullify:             flagNullify,
		IdentifiersSafeMode: flagSafeMode,
		Harvesters:          flagHarvesters,
		Events:              flagEvents,
	}
	add := func(typ, value string) {
		if value != "" {
			msg.Fields.Identifiers = append(msg.Fields.Identifiers, identRef{Type: typ, Value: value})
		}
	}
	add("idref", flagIdRef)
	add("orcid", flagOrcid)
	add("idhal_i", flagIdHalI)
	add("idhal_s", flagIdHalS)

	if len(msg.Fields.Identifiers) == 0 && (msg.Fields.FirstName == "" || msg.Fields.LastName == "") {
		return fmt.Errorf("no identifiers provided and no first+last name: at least one is required")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode task message: %w", err)
	}

	nc, err := nats.Connect(brokerURL)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("open jetstream context: %w", err)
	}

	if _, err := js.Publish("task.person.references.retrieval", data); err != nil {
		return fmt.Errorf("publish task message: %w", err)
	}

	if !flagReply {
		fmt.Println("retrieval task published")
		return nil
	}

	return printResultEvents(nc)
}

// printResultEvents subscribes to the outbound result subjects and prints
// each event as it arrives, for up to 30s of inactivity: a thin
// diagnostic echo, not a durable consumer (the daemon's results-listener
// owns the real delivery guarantee).
func printResultEvents(nc *nats.Conn) error {
	sub, err := nc.SubscribeSync("event.references.>")
	if err != nil {
		return fmt.Errorf("subscribe to result events: %w", err)
	}
	defer sub.Unsubscribe()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			continue
		}
		fmt.Println(msg.Subject + ": " + string(msg.Data))
		deadline = time.Now().Add(30 * time.Second)
	}
	return nil
}

// --- status -------------------------------------------------------------

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the daemon's health endpoint",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(healthURL)
	if err != nil {
		return fmt.Errorf("query health endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s (HTTP %d): %s\n", healthURL, resp.StatusCode, string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon unhealthy")
	}
	return nil
}

// --- harvesters -----------------------------------------------------------

var harvestersCmd = &cobra.Command{
	Use:   "harvesters",
	Short: "Inspect the harvester registry",
}

var harvestersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List harvesters configured in harvesters.toml and their registration status",
	RunE:  runHarvestersList,
}

func init() {
	harvestersCmd.AddCommand(harvestersListCmd)
}

func runHarvestersList(cmd *cobra.Command, args []string) error {
	specs, err := config.LoadHarvesters(harvestersFile)
	if err != nil {
		return fmt.Errorf("load harvesters file: %w", err)
	}

	registry := harvester.NewRegistry()
	harvester.RegisterDefaults(registry, nil)

	for _, s := range specs {
		status := "registered"
		if !registry.IsRegistered(s.Name) {
			status = "UNKNOWN (will fail fast at daemon startup)"
		}
		fmt.Printf("%-16s %s\n", s.Name, status)
	}
	return nil
}

// --- config ---------------------------------------------------------------

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or write process-wide settings (settings.yaml)",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a recognised setting's current value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a setting to settings.yaml",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the fully-resolved Settings struct as YAML, independent of settings.yaml's own formatting",
	RunE:  runConfigDump,
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configDumpCmd)
}

func settingsViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("settings")
	v.SetConfigType("yaml")
	v.AddConfigPath(settingsDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read settings.yaml: %w", err)
		}
	}
	return v, nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	v, err := settingsViper()
	if err != nil {
		return err
	}
	if !v.IsSet(args[0]) {
		return fmt.Errorf("key %q is not set", args[0])
	}
	fmt.Println(v.Get(args[0]))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	v, err := settingsViper()
	if err != nil {
		return err
	}
	v.Set(args[0], args[1])
	path := settingsDir + "/settings.yaml"
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write settings.yaml: %w", err)
	}
	fmt.Printf("%s = %s (written to %s)\n", args[0], args[1], path)
	return nil
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(settingsDir)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}
