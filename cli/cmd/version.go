package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/bundle"
	"github.com/TheKidThatCodes/ccbridge/cli/render"
	"github.com/TheKidThatCodes/ccbridge/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version        string `json:"version" yaml:"version"`
	Commit         string `json:"commit" yaml:"commit"`
	Protocol       string `json:"protocol" yaml:"protocol"`
	ClientChecksum string `json:"client_checksum" yaml:"client_checksum"`
	ClientSize     int    `json:"client_size" yaml:"client_size"`
}

// VersionCommand returns the version command.
// It never contacts an interpreter.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", 1)
		}
		return r.Render(VersionResponse{
			Version:        types.Version,
			Commit:         commit,
			Protocol:       types.ProtocolVersion,
			ClientChecksum: bundle.Checksum(),
			ClientSize:     bundle.Size(),
		})
	}
}
