package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard prompts for the settings a fresh install needs and saves
// the result. Answers are read line by line from in; prompts go to out.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}
	return w.run(cfg)
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

func (w *wizard) run(cfg *Config) error {
	fmt.Fprintln(w.out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(w.out, "║          RCON Bridge - First Run Setup       ║")
	fmt.Fprintln(w.out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(w.out)

	cfg.mu.Lock()

	fmt.Fprintln(w.out, "── Remote Console ──")
	cfg.RCON.Host = w.promptString("RCON host", cfg.RCON.Host)
	cfg.RCON.Port = w.promptInt("RCON port", cfg.RCON.Port)
	cfg.RCON.Password = w.promptString("RCON password", cfg.RCON.Password)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Game Server ──")
	cfg.Server.Executable = w.promptString("Server executable (blank disables save loading)", cfg.Server.Executable)
	cfg.Server.WorkDirectory = w.promptString("Working directory", cfg.Server.WorkDirectory)
	cfg.Server.GamePort = w.promptInt("Game port", cfg.Server.GamePort)
	cfg.Server.SettingsPath = w.promptString("Server settings file", cfg.Server.SettingsPath)
	cfg.Server.SaveDirectory = w.promptString("Save directory", cfg.Server.SaveDirectory)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── REST API ──")
	cfg.ApplicationData.API.Port = w.promptInt("API port", cfg.ApplicationData.API.Port)
	cfg.ApplicationData.API.Token = w.promptString("API bearer token (blank for none)", cfg.ApplicationData.API.Token)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── MQTT Telemetry ──")
	cfg.ApplicationData.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", cfg.ApplicationData.MQTT.Enabled)
	if cfg.ApplicationData.MQTT.Enabled {
		cfg.ApplicationData.MQTT.BrokerURL = w.promptString("MQTT broker host", cfg.ApplicationData.MQTT.BrokerURL)
	}

	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(w.out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(w.out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if w.promptBool("Would you like to try again?", false) {
			return w.run(cfg)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, warn := range result.Warnings {
		log.Warn().Str("field", warn.Field).Msg(warn.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "✓ Configuration saved successfully!")
	return nil
}

func (w *wizard) readLine() string {
	input, _ := w.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	if input := w.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
