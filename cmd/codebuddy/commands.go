package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/kalambet/codebuddy/internal/composer"
	"github.com/kalambet/codebuddy/internal/config"
	"github.com/kalambet/codebuddy/internal/ollama"
	"github.com/kalambet/codebuddy/internal/pipeline"
	"github.com/kalambet/codebuddy/internal/provider"
	"github.com/kalambet/codebuddy/internal/siteprompt"
)

// copyToClipboard is a variable so tests can run without a clipboard.
var copyToClipboard = clipboard.WriteAll

// readInput returns the contents of path, or stdin when path is "-".
func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// printScriptResult writes the script to stdout and optionally copies it.
func printScriptResult(cmd *cobra.Command, resp pipeline.Response) error {
	if !resp.Success {
		return errors.New(resp.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.ImprovedScript)

	if copyFlag, _ := cmd.Flags().GetBool("copy"); copyFlag {
		if err := copyToClipboard(resp.ImprovedScript); err != nil {
			printWarning("could not copy to clipboard: %v", err)
		} else {
			printSuccess("Copied to clipboard")
		}
	}
	return nil
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Ask for a fix given the output of a failing script",
	Long: `Ask the configured provider for a fixed script given the output it produced.

Attempts in the same session are remembered, so running analyze again with
--session steers the model away from fixes that already failed.

Examples:
  make 2>&1 | codebuddy analyze --output-file - --script "make"
  codebuddy analyze --output "ech: command not found" --script "ech hi"
  codebuddy analyze --output-file err.log --session 3f0c... --copy`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		outputFile, _ := cmd.Flags().GetString("output-file")
		script, _ := cmd.Flags().GetString("script")
		scriptFile, _ := cmd.Flags().GetString("script-file")
		pageURL, _ := cmd.Flags().GetString("url")
		session, _ := cmd.Flags().GetString("session")

		if output == "" && outputFile == "" {
			return errors.New("one of --output or --output-file is required")
		}
		if outputFile != "" {
			data, err := readInput(outputFile)
			if err != nil {
				return err
			}
			output = data
		}
		if scriptFile != "" {
			data, err := readInput(scriptFile)
			if err != nil {
				return err
			}
			script = data
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/analyze", pipeline.AnalyzeRequest{
			Output:    output,
			Script:    script,
			URL:       pageURL,
			SessionID: session,
		})
		if err != nil {
			return err
		}

		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.SessionID != "" {
			printStatus("Session", "%s", result.SessionID)
		}
		if result.Attempts > 0 {
			printStatus("Previous attempts", "%d", result.Attempts)
		}
		if result.SitePattern != "" {
			printStatus("Site prompt", "%s", result.SitePattern)
		}
		return printScriptResult(cmd, result)
	},
}

func init() {
	analyzeCmd.Flags().String("output", "", "observed terminal output or error")
	analyzeCmd.Flags().String("output-file", "", "read the output from a file (- for stdin)")
	analyzeCmd.Flags().String("script", "", "the script that produced the output")
	analyzeCmd.Flags().String("script-file", "", "read the script from a file (- for stdin)")
	analyzeCmd.Flags().String("url", "", "page URL used to pick site instructions")
	analyzeCmd.Flags().String("session", "", "session to continue")
	analyzeCmd.Flags().Bool("copy", false, "copy the fixed script to the clipboard")
}

// --- improve ---

var improveCmd = &cobra.Command{
	Use:   "improve [script]",
	Short: "Ask for a more robust version of a script",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scriptFile, _ := cmd.Flags().GetString("file")
		pageURL, _ := cmd.Flags().GetString("url")

		var script string
		switch {
		case len(args) == 1:
			script = args[0]
		case scriptFile != "":
			data, err := readInput(scriptFile)
			if err != nil {
				return err
			}
			script = data
		default:
			return errors.New("a script argument or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/improve", pipeline.ImproveRequest{
			Script: script,
			URL:    pageURL,
		})
		if err != nil {
			return err
		}

		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return printScriptResult(cmd, result)
	},
}

func init() {
	improveCmd.Flags().String("file", "", "read the script from a file (- for stdin)")
	improveCmd.Flags().String("url", "", "page URL used to pick site instructions")
	improveCmd.Flags().Bool("copy", false, "copy the improved script to the clipboard")
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported AI providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		active := activeProviderID()

		rows := pterm.TableData{{"", "ID", "Name", "Default model", "API key"}}
		for _, d := range provider.All() {
			marker := lo.Ternary(d.ID() == active, "*", "")
			rows = append(rows, []string{
				marker,
				string(d.ID()),
				d.Name(),
				lo.Ternary(provider.DefaultModel(d) != "", provider.DefaultModel(d), "-"),
				lo.Ternary(d.APIKeyPattern() != nil, d.APIKeyPlaceholder(), "not required"),
			})
		}
		printTable(rows)
		return nil
	},
}

var providersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a provider's models and configuration fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := provider.Lookup(args[0])
		if err != nil {
			return err
		}

		fields := lo.Map(d.ConfigFields(), func(f provider.Field, _ int) string { return string(f) })
		rows := pterm.TableData{
			{"Property", "Value"},
			{"ID", string(d.ID())},
			{"Name", d.Name()},
			{"API key format", lo.Ternary(d.APIKeyPattern() != nil, d.APIKeyPlaceholder(), "not required")},
			{"Config fields", strings.Join(fields, ", ")},
			{"Active", strconv.FormatBool(d.ID() == activeProviderID())},
		}
		printTable(rows)

		if models := d.Models(); len(models) > 0 {
			fmt.Println()
			modelRows := pterm.TableData{{"Model", "Name", "Default"}}
			for _, m := range models {
				modelRows = append(modelRows, []string{m.ID, m.Name, lo.Ternary(m.Default, "yes", "")})
			}
			printTable(modelRows)
		}
		return nil
	},
}

var providersLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "List models installed in the local Ollama server",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		if endpoint == "" {
			endpoint = ollamaEndpoint()
		}

		models, err := ollama.New(endpoint).ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("%w (%v)", ollama.ErrNotRunning, err)
		}
		if len(models) == 0 {
			pterm.Info.Println("No models installed. Pull one with: ollama pull qwen2.5-coder:7b")
			return nil
		}

		rows := pterm.TableData{{"Model", "Size", "Modified"}}
		for _, m := range models {
			rows = append(rows, []string{
				m.Name,
				fmt.Sprintf("%.1f GB", float64(m.Size)/1e9),
				m.ModifiedAt.Local().Format(time.DateTime),
			})
		}
		printTable(rows)
		return nil
	},
}

// ollamaEndpoint returns the configured Ollama endpoint, falling back to the
// provider default.
func ollamaEndpoint() string {
	d, _ := provider.Get(provider.Ollama)
	cfg := provider.Config{}
	if loaded, err := config.Load(); err == nil && loaded.ProviderID() == provider.Ollama {
		cfg.Endpoint = loaded.Provider.Endpoint
	}
	return provider.WithDefaults(d, cfg).Endpoint
}

// activeProviderID returns the configured provider, or "" when the config
// cannot be loaded.
func activeProviderID() provider.ID {
	cfg, err := config.Load()
	if err != nil {
		return ""
	}
	return cfg.ProviderID()
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersShowCmd)

	providersLocalCmd.Flags().String("endpoint", "", "Ollama base URL (default: configured endpoint)")
	providersCmd.AddCommand(providersLocalCmd)
}

// --- sites ---

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage site-specific instructions",
	Long: `Site instructions are prepended to prompts for pages whose hostname matches
a pattern. Patterns are an exact hostname (rport.io), a subdomain wildcard
(*.example.com) or a prefix wildcard (*github.com). The most specific
enabled pattern wins.`,
}

func sitePromptPath(pattern string) string {
	return "/v1/site-prompts/" + url.PathEscape(pattern)
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <pattern> <prompt>",
	Short: "Add a site instruction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		disabled, _ := cmd.Flags().GetBool("disabled")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/site-prompts", siteprompt.Entry{
			Pattern: args[0],
			Name:    name,
			Prompt:  args[1],
			Enabled: !disabled,
		})
		if err != nil {
			return err
		}

		var saved siteprompt.Entry
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}
		printSuccess("Added site prompt for %s", saved.Pattern)
		return nil
	},
}

var sitesEditCmd = &cobra.Command{
	Use:   "edit <pattern>",
	Short: "Change the name or prompt of a site instruction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := map[string]any{}
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			patch["name"] = name
		}
		if cmd.Flags().Changed("prompt") {
			prompt, _ := cmd.Flags().GetString("prompt")
			patch["prompt"] = prompt
		}
		if len(patch) == 0 {
			return errors.New("nothing to change: pass --name or --prompt")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), sitePromptPath(args[0]), patch)
		if err != nil {
			return err
		}
		var saved siteprompt.Entry
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}
		printSuccess("Updated site prompt for %s", saved.Pattern)
		return nil
	},
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List site instructions in match order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/site-prompts")
		if err != nil {
			return err
		}

		var entries []siteprompt.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			pterm.Info.Println("No site prompts configured")
			return nil
		}

		rows := pterm.TableData{{"Pattern", "Name", "Enabled", "Prompt"}}
		for _, e := range entries {
			rows = append(rows, []string{
				e.Pattern,
				lo.Ternary(e.Name != "", e.Name, "-"),
				strconv.FormatBool(e.Enabled),
				truncate(strings.ReplaceAll(e.Prompt, "\n", " "), 60),
			})
		}
		printTable(rows)
		return nil
	},
}

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove <pattern>",
	Short: "Remove a site instruction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), sitePromptPath(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Removed site prompt %s", args[0])
		return nil
	},
}

var sitesToggleCmd = &cobra.Command{
	Use:   "toggle <pattern>",
	Short: "Enable or disable a site instruction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), sitePromptPath(args[0])+"/toggle", nil)
		if err != nil {
			return err
		}
		var result struct {
			Pattern string `json:"pattern"`
			Enabled bool   `json:"enabled"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s %s", result.Pattern, lo.Ternary(result.Enabled, "enabled", "disabled"))
		return nil
	},
}

var sitesResolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Show which site instruction applies to a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/site-prompts/resolve?url="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}

		var res struct {
			Hostname string `json:"hostname"`
			Pattern  string `json:"pattern"`
			Prompt   string `json:"prompt"`
			Matched  bool   `json:"matched"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printStatus("Hostname", "%s", lo.Ternary(res.Hostname != "", res.Hostname, "-"))
		if res.Matched {
			printStatus("Pattern", "%s", res.Pattern)
		} else {
			printStatus("Pattern", "none (using default prompt)")
		}
		if res.Prompt != "" {
			fmt.Fprintln(cmd.OutOrStdout(), res.Prompt)
		}
		return nil
	},
}

var sitesValidateCmd = &cobra.Command{
	Use:   "validate <pattern>",
	Short: "Check a hostname pattern without saving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := siteprompt.ValidateSitePattern(args[0]); err != nil {
			return err
		}
		printSuccess("%s is valid", siteprompt.NormalizeSitePattern(args[0]))
		return nil
	},
}

var sitesSuggestCmd = &cobra.Command{
	Use:   "suggest <url>",
	Short: "Suggest a wildcard pattern covering a URL's domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, err := siteprompt.SuggestPattern(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pattern)
		return nil
	},
}

func init() {
	sitesAddCmd.Flags().String("name", "", "display name")
	sitesAddCmd.Flags().Bool("disabled", false, "add the instruction disabled")

	sitesEditCmd.Flags().String("name", "", "new display name")
	sitesEditCmd.Flags().String("prompt", "", "new instruction text")

	sitesCmd.AddCommand(sitesAddCmd)
	sitesCmd.AddCommand(sitesEditCmd)
	sitesCmd.AddCommand(sitesListCmd)
	sitesCmd.AddCommand(sitesRemoveCmd)
	sitesCmd.AddCommand(sitesToggleCmd)
	sitesCmd.AddCommand(sitesResolveCmd)
	sitesCmd.AddCommand(sitesValidateCmd)
	sitesCmd.AddCommand(sitesSuggestCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the attempts of a session",
}

var historyListCmd = &cobra.Command{
	Use:   "list <session>",
	Short: "List the attempts remembered for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}

		var attempts []composer.Attempt
		if err := decodeJSON(resp, &attempts); err != nil {
			return err
		}

		if len(attempts) == 0 {
			pterm.Info.Println("No attempts recorded for this session")
			return nil
		}

		rows := pterm.TableData{{"#", "Time", "Script", "Output", "Suggested"}}
		for i, a := range attempts {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				a.Timestamp.Local().Format(time.DateTime),
				truncate(oneLine(a.Script), 30),
				truncate(oneLine(a.Output), 40),
				truncate(oneLine(a.Improved), 30),
			})
		}
		printTable(rows)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <session>",
	Short: "Forget the attempts of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}

		var result struct {
			Removed int64 `json:"removed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Cleared %d attempt(s)", result.Removed)
		return nil
	},
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		rows := pterm.TableData{{"Key", "Value", "Env"}}
		for _, k := range config.ShowAll(cfg) {
			rows = append(rows, []string{k.Key, truncate(k.Value, 60), k.EnvVar})
		}
		printTable(rows)

		printStatus("API key", "%s", lo.Ternary(cfg.Provider.APIKey != "", "set", "not set"))
		printStatus("Server token", "%s", lo.Ternary(cfg.Server.Token != "", "set", "not set"))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <provider> <api-key>",
	Short: "Store a provider API key in the OS keyring",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAPIKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored API key for %s", args[0])
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the HTTP API bearer token in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(args[0]) == "" {
			return errors.New("token cannot be empty")
		}
		if err := config.SetServerToken(args[0]); err != nil {
			return err
		}
		printSuccess("Stored server token")
		return nil
	},
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export settings as JSON (secrets excluded)",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		data, err := config.Export(cfg)
		if err != nil {
			return err
		}

		if output == "" {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		if err := os.WriteFile(output, data, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Settings exported to %s", output)
		return nil
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import settings produced by export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		keys, err := config.Import([]byte(data))
		if err != nil {
			return err
		}
		printSuccess("Imported %d setting(s)", len(keys))
		for _, k := range keys {
			printStep("%s", k)
		}
		return nil
	},
}

func init() {
	configExportCmd.Flags().String("output", "", "output file path (default: stdout)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configSetTokenCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
}
