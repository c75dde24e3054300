package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard on stdin and stdout
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a wizard reading answers from in.
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== memcore Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	// Data directory
	fmt.Fprint(w.out, "Data directory (press Enter for ~/.memcore): ")
	dir, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dir

	fmt.Fprintln(w.out)

	// Embeddings
	fmt.Fprintln(w.out, "Embedding provider options:")
	fmt.Fprintln(w.out, "  none   - Keyword search only (default)")
	fmt.Fprintln(w.out, "  openai - OpenAI embeddings API")
	fmt.Fprintln(w.out, "  mock   - Deterministic local vectors, for testing")
	fmt.Fprint(w.out, "Embedding provider [none]: ")
	provider, err := w.readLine()
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(provider) {
	case "", EmbeddingNone:
		cfg.Embedding.Provider = EmbeddingNone
	case EmbeddingMock:
		cfg.Embedding.Provider = EmbeddingMock
	case EmbeddingOpenAI:
		cfg.Embedding.Provider = EmbeddingOpenAI
		for {
			fmt.Fprint(w.out, "OpenAI API Key: ")
			key, err := w.readLine()
			if err != nil {
				return nil, err
			}

			if err := validator.ValidateAPIKey(key, EmbeddingOpenAI); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}

			cfg.Embedding.APIKey = key
			break
		}

		fmt.Fprintf(w.out, "Model [%s]: ", cfg.Embedding.Model)
		model, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if model != "" {
			cfg.Embedding.Model = model
		}
	default:
		fmt.Fprintf(w.out, "Warning: unknown provider %q, using default (none)\n", provider)
		cfg.Embedding.Provider = EmbeddingNone
	}

	fmt.Fprintln(w.out)

	// Governance schedule
	for {
		fmt.Fprintf(w.out, "Governance sweep schedule [%s]: ", cfg.Governance.Schedule)
		schedule, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if schedule == "" {
			break
		}
		if err := validator.ValidateSchedule(schedule); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Governance.Schedule = schedule
		break
	}

	// Metrics
	fmt.Fprintf(w.out, "Metrics listen address, or \"off\" [%s]: ", cfg.Metrics.Addr)
	addr, err := w.readLine()
	if err != nil {
		return nil, err
	}
	switch addr {
	case "":
	case "off":
		cfg.Metrics.Enabled = false
	default:
		cfg.Metrics.Addr = addr
	}

	fmt.Fprintln(w.out)

	// Log Level
	fmt.Fprintln(w.out, "Logging:")
	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
