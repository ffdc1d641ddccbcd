package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"localops/internal/sanitizer"
	"localops/internal/types"
)

const maxCommandWidth = 60

var lineSanitizer = sanitizer.NewTerminalSanitizer(sanitizer.LogLineConfig())

func writeStructured(out io.Writer, format string, payload any) error {
	switch format {
	case formatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	case formatYAML:
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(payload); err != nil {
			return err
		}
		return encoder.Close()
	case formatTOML:
		data, err := toml.Marshal(payload)
		if err != nil {
			return err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func printRun(output io.Writer, run *types.RunDetail) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN\tSTATUS\tRISK\tSTEPS\tARTIFACTS")
	risk := run.RiskLevel
	if risk == "" {
		risk = "-"
	}
	fmt.Fprintf(writer, "%d\t%s\t%s\t%d\t%d\n", run.ID, run.Status, risk, len(run.Steps), len(run.Artifacts))
	_ = writer.Flush()

	if len(run.Steps) > 0 {
		fmt.Fprintln(output)
		writer = tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
		fmt.Fprintln(writer, "STEP\tSTATUS\tEXIT\tCOMMAND")
		for _, step := range run.Steps {
			exit := "-"
			if step.ExitCode != nil {
				exit = fmt.Sprintf("%d", *step.ExitCode)
			}
			command := strings.Join(strings.Fields(lineSanitizer.Sanitize(step.Command)), " ")
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", step.StepNo, step.Status, exit, runewidth.Truncate(command, maxCommandWidth, "…"))
		}
		_ = writer.Flush()
	}

	if len(run.Artifacts) > 0 {
		fmt.Fprintln(output)
		writer = tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
		fmt.Fprintln(writer, "KIND\tSIZE\tPATH")
		for _, artifact := range run.Artifacts {
			fmt.Fprintf(writer, "%s\t%d\t%s\n", artifact.Kind, artifact.Size, lineSanitizer.Sanitize(artifact.Path))
		}
		_ = writer.Flush()
	}
}
