package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// PasswordReader reads a secret without echo. When nil, the wizard reads
// the password as a plain line.
type PasswordReader func() (string, error)

// RunSetupWizard asks for the default target, session policy and history
// settings, validates them and saves the configuration.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer, readPassword PasswordReader) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "rcon configuration")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Target Host ──")

	cfg.Target.Address = promptString(reader, out, "Host address", cfg.Target.Address)
	cfg.Target.Port = promptInt(reader, out, "RCON port", cfg.Target.Port)

	fmt.Fprintf(out, "  Password (blank to prompt on every run): ")
	if readPassword != nil {
		pw, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		cfg.Target.Password = pw
	} else {
		input, _ := reader.ReadString('\n')
		cfg.Target.Password = strings.TrimSpace(input)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Session ──")

	cfg.Session.HandshakeAttempts = promptInt(reader, out, "Handshake attempts", cfg.Session.HandshakeAttempts)
	cfg.Session.ResponseTimeout = promptDuration(reader, out, "Response timeout", cfg.Session.ResponseTimeout)
	cfg.Session.MaxConsecutiveTimeouts = promptInt(reader, out, "Timeouts before disconnect", cfg.Session.MaxConsecutiveTimeouts)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Audit Log ──")

	cfg.History.Enabled = promptBool(reader, out, "Record command history", cfg.History.Enabled)
	if cfg.History.Enabled {
		cfg.History.Path = promptString(reader, out, "History database", cfg.History.Path)
	}

	result := Validate(cfg)
	for _, e := range ValidateTarget(cfg).Errors {
		result.AddError(e.Field, e.Message)
	}
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed: %w", result.Err())
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  ! [%s] %s\n", w.Field, w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration saved to %s\n", cfg.Path())
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptDuration(reader *bufio.Reader, out io.Writer, prompt string, defaultVal time.Duration) time.Duration {
	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := time.ParseDuration(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid duration, using default: %s\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
