package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunSetupWizard asks for the most common settings on in and writes prompts
// to out. An empty answer keeps the current value.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	p := &prompter{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "ottdwire setup")
	fmt.Fprintln(out)

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	fmt.Fprintln(out, "── Decode API ──")
	cfg.API.ListenAddress = p.String("Listen address", cfg.API.ListenAddress)
	cfg.API.Port = p.Int("Port", cfg.API.Port)
	cfg.API.TLS = p.Bool("Serve over TLS with a self-signed certificate", cfg.API.TLS)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Server Queries ──")
	cfg.Query.MasterServer = p.String("Master server", cfg.Query.MasterServer)
	cfg.Query.Coordinator = p.String("Game Coordinator", cfg.Query.Coordinator)
	cfg.Query.TimeoutMs = p.Int("Reply timeout (ms)", cfg.Query.TimeoutMs)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	cfg.MQTT.Enabled = p.Bool("Publish decoded packets to MQTT", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.Broker = p.String("Broker URL", cfg.MQTT.Broker)
		cfg.MQTT.TopicPrefix = p.String("Topic prefix", cfg.MQTT.TopicPrefix)
		cfg.MQTT.Username = p.String("Username", cfg.MQTT.Username)
		if cfg.MQTT.Username != "" {
			cfg.MQTT.Password = p.String("Password", "")
		}
	}

	fmt.Fprintln(out)
	return p.err
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
	err    error
}

func (p *prompter) line() string {
	if p.err != nil {
		return ""
	}
	input, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		p.err = fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(input)
}

func (p *prompter) String(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}

	if input := p.line(); input != "" {
		return input
	}
	return defaultVal
}

func (p *prompter) Int(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "  %s [%d]: ", prompt, defaultVal)

	input := p.line()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p *prompter) Bool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(p.line())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
